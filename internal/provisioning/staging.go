package provisioning

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read at the start of every run.
const (
	EnvSSID       = "FLASH_SSID"
	EnvPass       = "FLASH_PASS"
	EnvTargetIP   = "FLASH_TARGET_IP"
	EnvControlPin = "FLASH_CONTROL_PIN"
	EnvFQBN       = "FLASH_FQBN"
)

const (
	defaultControlPin = "2"
	configHeader      = "config.h"
)

// overrides are the per-run firmware settings taken from the environment.
// A nil field was not set.
type overrides struct {
	ssid, pass, targetIP, controlPin *string
}

func readOverrides(lookup func(string) (string, bool)) overrides {
	get := func(key string) *string {
		if v, ok := lookup(key); ok {
			return &v
		}
		return nil
	}
	return overrides{
		ssid:       get(EnvSSID),
		pass:       get(EnvPass),
		targetIP:   get(EnvTargetIP),
		controlPin: get(EnvControlPin),
	}
}

// wanted reports whether the sketch needs a generated header. The control
// pin alone does not trigger staging.
func (o overrides) wanted() bool {
	return o.ssid != nil || o.pass != nil || o.targetIP != nil
}

// header renders config.h. Only the settings that were provided are
// defined; CONTROL_PIN is always defined.
func (o overrides) header() string {
	var b strings.Builder
	if o.ssid != nil {
		fmt.Fprintf(&b, "#define WIFI_SSID %s\n", cString(*o.ssid))
	}
	if o.pass != nil {
		fmt.Fprintf(&b, "#define WIFI_PASS %s\n", cString(*o.pass))
	}
	if o.targetIP != nil {
		fmt.Fprintf(&b, "#define TARGET_IP %s\n", cString(*o.targetIP))
	}
	pin := defaultControlPin
	if o.controlPin != nil {
		pin = *o.controlPin
	}
	fmt.Fprintf(&b, "#define CONTROL_PIN %s\n", pin)
	return b.String()
}

// cString quotes s as a C string literal.
func cString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}

// stagedSketch is a private copy of the firmware with a generated header.
type stagedSketch struct {
	root   string
	sketch string
}

// stageFirmware copies the top-level files of the sketch at src into a
// private temporary directory and writes config.h next to them. The copy
// keeps the sketch directory's base name, which the toolchain requires to
// match the main .ino file.
func stageFirmware(src string, o overrides) (*stagedSketch, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, fmt.Errorf("reading sketch: %w", err)
	}

	root, err := os.MkdirTemp("", "garden-firmware-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	st := &stagedSketch{root: root, sketch: filepath.Join(root, filepath.Base(filepath.Clean(src)))}

	if err := os.Mkdir(st.sketch, 0o755); err != nil {
		st.remove() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("creating sketch dir: %w", err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == configHeader {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(st.sketch, e.Name())); err != nil {
			st.remove() //nolint:errcheck // best effort on error path
			return nil, err
		}
	}

	if err := os.WriteFile(filepath.Join(st.sketch, configHeader), []byte(o.header()), 0o600); err != nil {
		st.remove() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("writing %s: %w", configHeader, err)
	}
	return st, nil
}

func (s *stagedSketch) remove() error {
	if s == nil {
		return nil
	}
	return os.RemoveAll(s.root)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // path comes from the configured sketch dir
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // inside our private staging dir
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck // already failing
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
