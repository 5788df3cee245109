package provisioning

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/process"
)

// toolchainName is looked up on PATH when no candidate path exists.
const toolchainName = "arduino-cli"

// Toolchain builds and installs firmware. Both calls stream every output
// line to onLine and return the tool's exit code.
type Toolchain interface {
	Compile(ctx context.Context, fqbn, sketch string, onLine func(string)) (int, error)
	Upload(ctx context.Context, port, fqbn, sketch string, onLine func(string)) (int, error)
}

// ArduinoCLI drives the arduino-cli binary.
type ArduinoCLI struct {
	Binary string
	runner *process.Runner
}

// NewArduinoCLI wraps the binary at path.
func NewArduinoCLI(path string, runner *process.Runner) *ArduinoCLI {
	if runner == nil {
		runner = process.NewRunner()
	}
	return &ArduinoCLI{Binary: path, runner: runner}
}

// Compile runs "arduino-cli compile --fqbn <fqbn> <sketch>".
func (a *ArduinoCLI) Compile(ctx context.Context, fqbn, sketch string, onLine func(string)) (int, error) {
	res, err := a.runner.Run(ctx, process.Config{
		Name:   "arduino-cli compile",
		Binary: a.Binary,
		Args:   []string{"compile", "--fqbn", fqbn, sketch},
	}, onLine)
	return res.ExitCode, err
}

// Upload runs "arduino-cli upload -p <port> --fqbn <fqbn> <sketch>".
func (a *ArduinoCLI) Upload(ctx context.Context, port, fqbn, sketch string, onLine func(string)) (int, error) {
	res, err := a.runner.Run(ctx, process.Config{
		Name:   "arduino-cli upload",
		Binary: a.Binary,
		Args:   []string{"upload", "-p", port, "--fqbn", fqbn, sketch},
	}, onLine)
	return res.ExitCode, err
}

// LocateToolchain returns the first executable candidate, then falls back
// to arduino-cli on PATH.
func LocateToolchain(candidates []string) (string, error) {
	for _, c := range candidates {
		if isExecutable(c) {
			return c, nil
		}
	}
	if p, err := exec.LookPath(toolchainName); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: tried %v and PATH", ErrToolchainNotFound, candidates)
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0
}
