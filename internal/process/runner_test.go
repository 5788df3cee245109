package process

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func collect() (LineHandler, func() []string) {
	var mu sync.Mutex
	var lines []string
	return func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		}, func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), lines...)
		}
}

func TestRun_StreamsCombinedOutput(t *testing.T) {
	onLine, got := collect()

	res, err := NewRunner().Run(context.Background(), Config{
		Name:   "echo",
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo one; echo two >&2; echo three"},
	}, onLine)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.Lines != 3 {
		t.Errorf("Lines = %d, want 3", res.Lines)
	}

	lines := got()
	joined := strings.Join(lines, ",")
	for _, want := range []string{"one", "two", "three"} {
		if !strings.Contains(joined, want) {
			t.Errorf("output %q missing %q", joined, want)
		}
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	res, err := NewRunner().Run(context.Background(), Config{
		Name:   "fail",
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo broken; exit 3"},
	}, nil)
	if !errors.Is(err, ErrExitStatus) {
		t.Fatalf("Run() error = %v, want ErrExitStatus", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestRun_LaunchFailure(t *testing.T) {
	res, err := NewRunner().Run(context.Background(), Config{
		Name:   "missing",
		Binary: "/nonexistent/binary",
	}, nil)
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("Run() error = %v, want ErrLaunch", err)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
}

func TestRun_WorkDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	onLine, got := collect()

	_, err := NewRunner().Run(context.Background(), Config{
		Name:    "env",
		Binary:  "/bin/sh",
		Args:    []string{"-c", "pwd; echo $GARDEN_TEST_VALUE"},
		Env:     []string{"GARDEN_TEST_VALUE=sprout"},
		WorkDir: dir,
	}, onLine)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	lines := got()
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), lines)
	}
	if !strings.HasSuffix(lines[0], strings.TrimPrefix(dir, "/private")) {
		t.Errorf("pwd = %q, want %q", lines[0], dir)
	}
	if lines[1] != "sprout" {
		t.Errorf("env line = %q, want %q", lines[1], "sprout")
	}
}

func TestRun_CancelStopsProcessGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var once sync.Once

	done := make(chan error, 1)
	go func() {
		_, err := NewRunner().Run(ctx, Config{
			Name:            "sleeper",
			Binary:          "/bin/sh",
			Args:            []string{"-c", "echo ready; sleep 30 & wait"},
			GracefulTimeout: time.Second,
		}, func(string) { once.Do(func() { close(started) }) })
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("process never produced output")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}

func TestScanLines_TooLongDrains(t *testing.T) {
	long := strings.Repeat("x", maxLineSize+10)
	input := "short\n" + long + "\nafter\n"

	var lines []string
	n := scanLines(strings.NewReader(input), func(l string) { lines = append(lines, l) })
	if n != 1 || len(lines) != 1 || lines[0] != "short" {
		t.Errorf("scanLines() = %d %q, want only the first line", n, lines)
	}
}
