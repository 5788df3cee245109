package provisioning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/process"
)

// fakeDiscoverer returns one scan result per call; the last repeats.
type fakeDiscoverer struct {
	mu    sync.Mutex
	scans [][]string
	err   error
	calls int
}

func (f *fakeDiscoverer) Ports() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.scans) == 0 {
		return nil, nil
	}
	i := f.calls - 1
	if i >= len(f.scans) {
		i = len(f.scans) - 1
	}
	return f.scans[i], nil
}

func (f *fakeDiscoverer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePort plays back chunks, then idles for the read timeout.
type fakePort struct {
	chunks  []string
	readErr error
	idle    time.Duration
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.chunks) > 0 {
		n := copy(b, p.chunks[0])
		p.chunks[0] = p.chunks[0][n:]
		if p.chunks[0] == "" {
			p.chunks = p.chunks[1:]
		}
		return n, nil
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	time.Sleep(p.idle)
	return 0, nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

type fakeOpener struct {
	port   *fakePort
	err    error
	opened []string
}

func (o *fakeOpener) Open(path string, baud int, readTimeout time.Duration) (Port, error) {
	o.opened = append(o.opened, path)
	if o.err != nil {
		return nil, o.err
	}
	if o.port.idle == 0 {
		o.port.idle = readTimeout
	}
	return o.port, nil
}

// fakeToolchain records its calls and replays scripted output.
type fakeToolchain struct {
	mu sync.Mutex

	compileLines []string
	compileRC    int
	launchFail   bool

	uploadLines []string
	uploadRC    int

	compiled    []string // "fqbn sketch"
	uploaded    []string // "port fqbn sketch"
	headerAtRun string
	sketchAtRun string
}

func (f *fakeToolchain) Compile(_ context.Context, fqbn, sketch string, onLine func(string)) (int, error) {
	f.mu.Lock()
	f.compiled = append(f.compiled, fqbn+" "+sketch)
	f.sketchAtRun = sketch
	if b, err := os.ReadFile(filepath.Join(sketch, configHeader)); err == nil {
		f.headerAtRun = string(b)
	}
	f.mu.Unlock()

	if f.launchFail {
		return -1, fmt.Errorf("%w: compile: no such file", process.ErrLaunch)
	}
	for _, l := range f.compileLines {
		onLine(l)
	}
	if f.compileRC != 0 {
		return f.compileRC, fmt.Errorf("%w: compile exited with code %d", process.ErrExitStatus, f.compileRC)
	}
	return 0, nil
}

func (f *fakeToolchain) Upload(_ context.Context, port, fqbn, sketch string, onLine func(string)) (int, error) {
	f.mu.Lock()
	f.uploaded = append(f.uploaded, port+" "+fqbn+" "+sketch)
	f.mu.Unlock()

	for _, l := range f.uploadLines {
		onLine(l)
	}
	if f.uploadRC != 0 {
		return f.uploadRC, fmt.Errorf("%w: upload exited with code %d", process.ErrExitStatus, f.uploadRC)
	}
	return 0, nil
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

var errBoom = errors.New("boom")
