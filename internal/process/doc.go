// Package process runs external tools to completion and streams their
// output line by line.
//
// It is used for the firmware toolchain: a compile or upload is a single
// invocation whose combined stdout/stderr must reach the operator as it is
// produced, and whose exit status decides the next provisioning stage.
//
// Each child runs in its own process group so that cancellation (SIGTERM,
// then SIGKILL after GracefulTimeout) also reaches the compilers and
// uploaders it spawns.
//
// Example usage:
//
//	runner := process.NewRunner()
//	res, err := runner.Run(ctx, process.Config{
//	    Name:   "compile",
//	    Binary: "/usr/bin/arduino-cli",
//	    Args:   []string{"compile", "--fqbn", fqbn, sketch},
//	}, func(line string) {
//	    status(line)
//	})
//	if errors.Is(err, process.ErrExitStatus) {
//	    // build failed with res.ExitCode
//	}
package process
