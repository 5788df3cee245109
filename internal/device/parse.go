package device

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Reading bounds, in volts.
const (
	MinReading = 0.0
	MaxReading = 5.0
)

// maxReadingToken is the longest identity token accepted in a reading.
const maxReadingToken = 31

var (
	pinStatePattern = regexp.MustCompile(`CONTROL_PIN \(D(\d+)\) state: (HIGH|LOW)`)
	cmdSetPattern   = regexp.MustCompile(`CMD: set D(\d+) = (\d+)`)
	cmdAckPattern   = regexp.MustCompile(`CMD D(\d+) (\d+)`)

	floatPrefix = regexp.MustCompile(`^[+-]?(?:0[xX](?:[0-9a-fA-F]+\.?[0-9a-fA-F]*|\.[0-9a-fA-F]+)(?:[pP][+-]?\d+)?|(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?|(?i:infinity|inf|nan))`)

	identityPattern = regexp.MustCompile(`(?i)[0-9a-f]{2}(?::[0-9a-f]{2}){5}`)
)

// FirstToken returns the first whitespace-delimited token of line.
func FirstToken(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// IsIdentityToken reports whether a token should be treated as a device
// identity for attribution. Any token containing a colon qualifies.
func IsIdentityToken(token string) bool {
	return strings.Contains(token, ":")
}

// CanonicalIdentity returns the registry key for an identity token.
func CanonicalIdentity(token string) string {
	return strings.ToLower(token)
}

// FindIdentity returns the first hardware identity (six colon-separated
// 2-hex-digit groups) embedded in line, exactly as written.
func FindIdentity(line string) (string, bool) {
	m := identityPattern.FindString(line)
	return m, m != ""
}

// ParseOutputState extracts the control output state from a device line.
//
// It recognises a state report "CONTROL_PIN (D<n>) state: HIGH|LOW" and the
// command acknowledgements "CMD: set D<n> = <v>" and "CMD D<n> <v>", where a
// non-zero value means HIGH. The state report wins if several are present.
func ParseOutputState(line string) (OutputState, bool) {
	if m := pinStatePattern.FindStringSubmatch(line); m != nil {
		return OutputState(m[2]), true
	}
	for _, p := range []*regexp.Regexp{cmdSetPattern, cmdAckPattern} {
		if m := p.FindStringSubmatch(line); m != nil {
			if strings.TrimLeft(m[2], "0") == "" {
				return OutputLow, true
			}
			return OutputHigh, true
		}
	}
	return OutputUnknown, false
}

// ParseReading extracts a moisture reading from a datagram payload.
//
// Two shapes are accepted: "<identity> <float>" and "<identity>,<float>".
// The comma form is only tried when the space form does not yield both an
// identity and a number. The identity is returned exactly as sent. ok is
// false when no shape matches or the value is outside [MinReading, MaxReading].
func ParseReading(payload string) (identity string, value float64, ok bool) {
	if id, v, matched := scanSpaceForm(payload); matched {
		return id, v, inRange(v)
	}
	if id, v, matched := scanCommaForm(payload); matched {
		return id, v, inRange(v)
	}
	return "", 0, false
}

func inRange(v float64) bool {
	return v >= MinReading && v <= MaxReading
}

// scanSpaceForm reads a token of up to 31 non-space bytes followed by a
// number. Leading whitespace before either is skipped.
func scanSpaceForm(s string) (string, float64, bool) {
	s = strings.TrimLeft(s, spaceChars)
	n := 0
	for n < len(s) && n < maxReadingToken && !isSpace(s[n]) {
		n++
	}
	if n == 0 {
		return "", 0, false
	}
	v, ok := scanFloat(s[n:])
	if !ok {
		return "", 0, false
	}
	return s[:n], v, true
}

// scanCommaForm reads 1 to 31 non-comma bytes, a literal comma, then a number.
func scanCommaForm(s string) (string, float64, bool) {
	n := 0
	for n < len(s) && n < maxReadingToken && s[n] != ',' {
		n++
	}
	if n == 0 || n >= len(s) || s[n] != ',' {
		return "", 0, false
	}
	v, ok := scanFloat(s[n+1:])
	if !ok {
		return "", 0, false
	}
	return s[:n], v, true
}

// scanFloat parses the longest numeric prefix of s after leading whitespace.
func scanFloat(s string) (float64, bool) {
	s = strings.TrimLeft(s, spaceChars)
	m := floatPrefix.FindString(s)
	if m == "" {
		return 0, false
	}
	// ParseFloat wants a binary exponent on hex mantissas.
	if isHexFloat(m) && !strings.ContainsAny(m, "pP") {
		m += "p0"
	}
	v, err := strconv.ParseFloat(m, 64)
	// Out-of-range exponents still yield ±Inf, which the range check rejects.
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return v, true
}

func isHexFloat(m string) bool {
	m = strings.TrimLeft(m, "+-")
	return len(m) > 1 && m[0] == '0' && (m[1] == 'x' || m[1] == 'X')
}

const spaceChars = " \t\n\v\f\r"

func isSpace(b byte) bool {
	return strings.IndexByte(spaceChars, b) >= 0
}
