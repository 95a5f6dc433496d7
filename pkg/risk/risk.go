package risk

import "strings"

// Level represents the severity of an operation, ordered low to critical.
type Level int

const (
	Low Level = iota
	Medium
	High
	Critical
)

// String returns a human-readable risk level
func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for config and audit output.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	*l = Parse(string(text))
	return nil
}

// Parse maps a string to a Level, defaulting to Low for unknown input.
func Parse(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return Critical
	case "high":
		return High
	case "medium":
		return Medium
	default:
		return Low
	}
}

// Escalate raises a level by n steps, saturating at Critical.
func (l Level) Escalate(n int) Level {
	raised := int(l) + n
	if raised > int(Critical) {
		return Critical
	}
	if raised < int(Low) {
		return Low
	}
	return Level(raised)
}

// Max returns the higher of two levels.
func Max(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// AutoApprovable reports whether a plan at this level may run without an
// explicit user decision.
func (l Level) AutoApprovable() bool {
	return l <= Medium
}
