package provisioning

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/config"
)

const runTimeout = 5 * time.Second

func testConfig(t *testing.T) config.ProvisioningConfig {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "plant_sensor")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plant_sensor.ino"), []byte("#include \"config.h\"\nvoid setup() {}\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return config.ProvisioningConfig{
		FirmwarePath:        dir,
		DefaultFQBN:         "arduino:samd:nano_33_iot",
		SerialPrefixes:      []string{"ttyACM", "ttyUSB"},
		BaudRate:            115200,
		RegistrationTimeout: 2 * time.Second,
		PollInterval:        5 * time.Millisecond,
	}
}

// recorder captures everything a run reports.
type recorder struct {
	mu       sync.Mutex
	statuses []Status
	outcomes []Outcome
	reports  []Report
	order    []string
	final    chan struct{}
}

func newRecorder(m *Manager) *recorder {
	r := &recorder{final: make(chan struct{}, 4)}
	m.SetStatusHandler(func(s Status) {
		r.mu.Lock()
		r.statuses = append(r.statuses, s)
		if s.Final {
			r.order = append(r.order, "final")
		}
		r.mu.Unlock()
		if s.Final {
			r.final <- struct{}{}
		}
	})
	m.SetOutcomeHandler(func(o Outcome) {
		r.mu.Lock()
		r.outcomes = append(r.outcomes, o)
		r.order = append(r.order, "outcome")
		r.mu.Unlock()
	})
	m.SetReportHandler(func(rep Report) {
		r.mu.Lock()
		r.reports = append(r.reports, rep)
		r.order = append(r.order, "report")
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.final:
	case <-time.After(runTimeout):
		t.Fatal("run never sent its final status")
	}
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.statuses {
		if !s.Final {
			out = append(out, s.Text)
		}
	}
	return out
}

// runOnce starts one run and waits for it to finish.
func runOnce(t *testing.T, cfg config.ProvisioningConfig, deps Deps) *recorder {
	t.Helper()
	m := NewManager(cfg, deps)
	rec := newRecorder(m)
	t.Cleanup(m.Close)

	id, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if id == "" {
		t.Fatal("Begin() returned an empty run ID")
	}
	rec.wait(t)
	m.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.outcomes) != 1 {
		t.Fatalf("got %d outcomes, want exactly 1", len(rec.outcomes))
	}
	if got := strings.Join(rec.order, ","); got != "report,outcome,final" {
		t.Errorf("delivery order = %s, want report,outcome,final", got)
	}
	last := rec.statuses[len(rec.statuses)-1]
	if !last.Final || last.Text != "" {
		t.Errorf("last status = %+v, want the empty final sentinel", last)
	}
	for _, s := range rec.statuses {
		if s.RunID != id {
			t.Errorf("status %q has run ID %q, want %q", s.Text, s.RunID, id)
		}
	}
	if rec.outcomes[0].RunID != id {
		t.Errorf("outcome run ID = %q, want %q", rec.outcomes[0].RunID, id)
	}
	return rec
}

func containsInOrder(t *testing.T, got []string, want ...string) {
	t.Helper()
	i := 0
	for _, g := range got {
		if i < len(want) && g == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("status trail %q\nmissing (in order) %q", got, want[i:])
	}
}

func contains(got []string, s string) bool {
	for _, g := range got {
		if g == s {
			return true
		}
	}
	return false
}

func TestRun_DiscoveryFailure(t *testing.T) {
	tc := &fakeToolchain{}
	disc := &fakeDiscoverer{scans: [][]string{{"/dev/ttyS0", "/dev/tty1"}}}

	rec := runOnce(t, testConfig(t), Deps{
		Discoverer:    disc,
		Opener:        &fakeOpener{port: &fakePort{}},
		FindToolchain: func() (Toolchain, error) { return tc, nil },
		LookupEnv:     envMap(nil),
	})

	got := rec.texts()
	want := []string{"Searching for serial device...", "No serial device found"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("status trail = %q, want %q", got, want)
	}
	if o := rec.outcomes[0]; o.Success || o.Identity != "" {
		t.Errorf("outcome = %+v, want failure without identity", o)
	}
	if len(tc.compiled) != 0 {
		t.Error("toolchain ran after discovery failure")
	}
	if !strings.Contains(rec.reports[0].Failure, ErrNoSerialDevice.Error()) {
		t.Errorf("report failure = %q", rec.reports[0].Failure)
	}
}

func TestRun_DiscoveryError(t *testing.T) {
	rec := runOnce(t, testConfig(t), Deps{
		Discoverer:    &fakeDiscoverer{err: errBoom},
		Opener:        &fakeOpener{port: &fakePort{}},
		FindToolchain: func() (Toolchain, error) { return &fakeToolchain{}, nil },
		LookupEnv:     envMap(nil),
	})
	if !contains(rec.texts(), "No serial device found") {
		t.Errorf("status trail = %q, want discovery failure", rec.texts())
	}
	if rec.outcomes[0].Success {
		t.Error("outcome succeeded after discovery error")
	}
}

func TestRun_BuildFailureSkipsUpload(t *testing.T) {
	tc := &fakeToolchain{compileLines: []string{"sketch.ino:3: error: expected ';'"}, compileRC: 1}
	disc := &fakeDiscoverer{scans: [][]string{{"/dev/ttyACM0"}}}
	opener := &fakeOpener{port: &fakePort{chunks: []string{"booting\r\n", "MAC: A4:CF:12:0B:3C:7D\n"}}}

	rec := runOnce(t, testConfig(t), Deps{
		Discoverer:    disc,
		Opener:        opener,
		FindToolchain: func() (Toolchain, error) { return tc, nil },
		LookupEnv:     envMap(nil),
	})

	containsInOrder(t, rec.texts(),
		"Searching for serial device...",
		"Compiling sketch...",
		"sketch.ino:3: error: expected ';'",
		"Compile failed (rc=1)",
		"Skipping upload due to compile errors",
		"Using serial device /dev/ttyACM0 for registration",
		"Registered A4:CF:12:0B:3C:7D",
	)
	if len(tc.uploaded) != 0 {
		t.Errorf("upload ran after failed build: %q", tc.uploaded)
	}
	if disc.Calls() != 2 {
		t.Errorf("discovery ran %d times, want 2", disc.Calls())
	}
	if len(opener.opened) != 1 || opener.opened[0] != "/dev/ttyACM0" {
		t.Errorf("opened %q, want the re-discovered port", opener.opened)
	}

	o := rec.outcomes[0]
	if !o.Success || o.Identity != "A4:CF:12:0B:3C:7D" {
		t.Errorf("outcome = %+v, want success with identity", o)
	}
	if rep := rec.reports[0]; rep.BuildOK || rep.UploadOK {
		t.Errorf("report = %+v, want build and upload not ok", rep)
	}
}

func TestRun_FullFlowWithStaging(t *testing.T) {
	cfg := testConfig(t)
	tc := &fakeToolchain{compileLines: []string{"Sketch uses 1234 bytes"}, uploadLines: []string{"Verify successful"}}
	disc := &fakeDiscoverer{scans: [][]string{{"/dev/ttyUSB1", "/dev/ttyACM3"}, {"/dev/ttyACM0"}}}
	opener := &fakeOpener{port: &fakePort{chunks: []string{"id aa:bb:cc:dd:ee:ff ready\r"}}}

	rec := runOnce(t, cfg, Deps{
		Discoverer:    disc,
		Opener:        opener,
		FindToolchain: func() (Toolchain, error) { return tc, nil },
		LookupEnv: envMap(map[string]string{
			EnvSSID:     "greenhouse",
			EnvTargetIP: "192.168.1.20",
			EnvFQBN:     "esp32:esp32:esp32",
		}),
	})

	containsInOrder(t, rec.texts(),
		"Compiling sketch...",
		"Sketch uses 1234 bytes",
		"Flashing device...",
		"Verify successful",
		"Using serial device /dev/ttyACM0 for registration",
		"Registered aa:bb:cc:dd:ee:ff",
	)

	if len(tc.uploaded) != 1 {
		t.Fatalf("uploads = %q, want 1", tc.uploaded)
	}
	// Upload targets the first port of the first scan in sorted order.
	if !strings.HasPrefix(tc.uploaded[0], "/dev/ttyACM3 esp32:esp32:esp32 ") {
		t.Errorf("upload = %q, want ttyACM3 with the FQBN override", tc.uploaded[0])
	}

	if tc.sketchAtRun == cfg.FirmwarePath {
		t.Error("compile used the unmodified sketch despite overrides")
	}
	if filepath.Base(tc.sketchAtRun) != "plant_sensor" {
		t.Errorf("staged sketch dir = %q, want base name plant_sensor", tc.sketchAtRun)
	}
	wantHeader := "#define WIFI_SSID \"greenhouse\"\n#define TARGET_IP \"192.168.1.20\"\n#define CONTROL_PIN 2\n"
	if tc.headerAtRun != wantHeader {
		t.Errorf("config.h = %q, want %q", tc.headerAtRun, wantHeader)
	}
	if _, err := os.Stat(tc.sketchAtRun); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("staged sketch still present after run: %v", err)
	}

	rep := rec.reports[0]
	if !rep.Staged || !rep.BuildOK || !rep.UploadOK || !rep.Success {
		t.Errorf("report = %+v, want staged, built, uploaded, success", rep)
	}
}

func TestRun_ToolchainNotFound(t *testing.T) {
	rec := runOnce(t, testConfig(t), Deps{
		Discoverer:    &fakeDiscoverer{scans: [][]string{{"/dev/ttyACM0"}}},
		Opener:        &fakeOpener{port: &fakePort{chunks: []string{"aa:bb:cc:dd:ee:01\n"}}},
		FindToolchain: func() (Toolchain, error) { return nil, ErrToolchainNotFound },
		LookupEnv:     envMap(nil),
	})

	containsInOrder(t, rec.texts(),
		"Searching for serial device...",
		"arduino-cli not found; skipping flash",
		"Using serial device /dev/ttyACM0 for registration",
		"Registered aa:bb:cc:dd:ee:01",
	)
	if !rec.outcomes[0].Success {
		t.Error("outcome failed; registration alone should succeed")
	}
}

func TestRun_CompileLaunchFailure(t *testing.T) {
	tc := &fakeToolchain{launchFail: true}
	rec := runOnce(t, testConfig(t), Deps{
		Discoverer:    &fakeDiscoverer{scans: [][]string{{"/dev/ttyACM0"}}},
		Opener:        &fakeOpener{port: &fakePort{chunks: []string{"aa:bb:cc:dd:ee:02\n"}}},
		FindToolchain: func() (Toolchain, error) { return tc, nil },
		LookupEnv:     envMap(nil),
	})

	containsInOrder(t, rec.texts(),
		"Failed to run arduino-cli compile",
		"Skipping upload due to compile errors",
	)
}

func TestRun_RediscoveryFailure(t *testing.T) {
	opener := &fakeOpener{port: &fakePort{}}
	rec := runOnce(t, testConfig(t), Deps{
		Discoverer:    &fakeDiscoverer{scans: [][]string{{"/dev/ttyACM0"}, {}}},
		Opener:        opener,
		FindToolchain: func() (Toolchain, error) { return &fakeToolchain{}, nil },
		LookupEnv:     envMap(nil),
	})

	texts := rec.texts()
	if texts[len(texts)-1] != "No serial device found after upload" {
		t.Errorf("last status = %q, want re-discovery failure", texts[len(texts)-1])
	}
	if len(opener.opened) != 0 {
		t.Error("serial port opened without a re-discovered device")
	}
	if rec.outcomes[0].Success {
		t.Error("outcome succeeded")
	}
}

func TestRun_RegistrationTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.RegistrationTimeout = 300 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond

	port := &fakePort{chunks: []string{"dev aa-bb-cc-dd-ee-ff\n", "no identity here\n"}}
	rec := runOnce(t, cfg, Deps{
		Discoverer:    &fakeDiscoverer{scans: [][]string{{"/dev/ttyACM0"}}},
		Opener:        &fakeOpener{port: port},
		FindToolchain: func() (Toolchain, error) { return &fakeToolchain{}, nil },
		LookupEnv:     envMap(nil),
	})

	texts := rec.texts()
	if !contains(texts, waitingText) {
		t.Errorf("status trail %q lacks %q", texts, waitingText)
	}
	if texts[len(texts)-1] != "No registration received; device left unassigned" {
		t.Errorf("last status = %q", texts[len(texts)-1])
	}
	if o := rec.outcomes[0]; o.Success || o.Identity != "" {
		t.Errorf("outcome = %+v, want failure without identity", o)
	}
	if !strings.Contains(rec.reports[0].Failure, ErrRegistrationTimeout.Error()) {
		t.Errorf("report failure = %q, want timeout", rec.reports[0].Failure)
	}
	if !port.closed {
		t.Error("serial port left open")
	}
}

func TestRun_SerialReadError(t *testing.T) {
	rec := runOnce(t, testConfig(t), Deps{
		Discoverer:    &fakeDiscoverer{scans: [][]string{{"/dev/ttyACM0"}}},
		Opener:        &fakeOpener{port: &fakePort{chunks: []string{"partial"}, readErr: errBoom}},
		FindToolchain: func() (Toolchain, error) { return &fakeToolchain{}, nil },
		LookupEnv:     envMap(nil),
	})

	containsInOrder(t, rec.texts(),
		"Serial read error: boom",
		"No registration received; device left unassigned",
	)
}

func TestRun_SerialOpenFailure(t *testing.T) {
	rec := runOnce(t, testConfig(t), Deps{
		Discoverer:    &fakeDiscoverer{scans: [][]string{{"/dev/ttyACM0"}}},
		Opener:        &fakeOpener{err: errBoom},
		FindToolchain: func() (Toolchain, error) { return &fakeToolchain{}, nil },
		LookupEnv:     envMap(nil),
	})
	if rec.outcomes[0].Success {
		t.Error("outcome succeeded without an open port")
	}
}

func TestRun_StagingFailureFallsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.FirmwarePath = filepath.Join(t.TempDir(), "missing_sketch")
	tc := &fakeToolchain{}

	rec := runOnce(t, cfg, Deps{
		Discoverer:    &fakeDiscoverer{scans: [][]string{{"/dev/ttyACM0"}}},
		Opener:        &fakeOpener{port: &fakePort{chunks: []string{"aa:bb:cc:dd:ee:03\n"}}},
		FindToolchain: func() (Toolchain, error) { return tc, nil },
		LookupEnv:     envMap(map[string]string{EnvPass: "secret"}),
	})

	if tc.sketchAtRun != cfg.FirmwarePath {
		t.Errorf("compiled %q, want fallback to %q", tc.sketchAtRun, cfg.FirmwarePath)
	}
	if rec.reports[0].Staged {
		t.Error("report claims staging succeeded")
	}
}

func TestManager_BeginAfterClose(t *testing.T) {
	m := NewManager(testConfig(t), Deps{})
	m.Close()

	if _, err := m.Begin(); !errors.Is(err, ErrClosed) {
		t.Errorf("Begin() after Close error = %v, want ErrClosed", err)
	}
}

func TestManager_CloseCancelsRegistrationWait(t *testing.T) {
	cfg := testConfig(t)
	cfg.RegistrationTimeout = time.Minute

	m := NewManager(cfg, Deps{
		Discoverer:    &fakeDiscoverer{scans: [][]string{{"/dev/ttyACM0"}}},
		Opener:        &fakeOpener{port: &fakePort{}},
		FindToolchain: func() (Toolchain, error) { return nil, ErrToolchainNotFound },
		LookupEnv:     envMap(nil),
	})
	rec := newRecorder(m)

	if _, err := m.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(runTimeout):
		t.Fatal("Close() did not return")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.outcomes) != 1 || rec.outcomes[0].Success {
		t.Errorf("outcomes = %+v, want one failure", rec.outcomes)
	}
}

func TestManager_ConcurrentRunsReportIndependently(t *testing.T) {
	cfg := testConfig(t)
	m := NewManager(cfg, Deps{
		Discoverer:    &fakeDiscoverer{scans: [][]string{nil}},
		FindToolchain: func() (Toolchain, error) { return nil, ErrToolchainNotFound },
		LookupEnv:     envMap(nil),
	})
	rec := newRecorder(m)
	defer m.Close()

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		id, err := m.Begin()
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		ids[id] = true
	}
	if len(ids) != 3 {
		t.Fatalf("run IDs not unique: %v", ids)
	}
	for i := 0; i < 3; i++ {
		rec.wait(t)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	seen := map[string]int{}
	for _, o := range rec.outcomes {
		seen[o.RunID]++
	}
	for id := range ids {
		if seen[id] != 1 {
			t.Errorf("run %s reported %d outcomes, want 1", id, seen[id])
		}
	}
}
