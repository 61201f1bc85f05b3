package settings

import (
	"strconv"
	"strings"
)

// ColorGuard accepts only ANSI color names or "#rrggbb" hex values,
// vetoing anything else. An empty value is accepted unchanged.
func ColorGuard(key, value string) (string, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return v, false
	}
	if strings.HasPrefix(v, "#") {
		if len(v) != 7 {
			return "", true
		}
		for _, c := range v[1:] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
				return "", true
			}
		}
		return v, false
	}
	switch strings.ToLower(v) {
	case "black", "red", "green", "yellow", "blue", "magenta", "cyan", "white", "default":
		return strings.ToLower(v), false
	}
	return "", true
}

// FIFOGuardFunc returns a Guard that calls reconfigure with the new FIFO
// path whenever fifo_name is set, so the command FIFO is torn down and
// reopened on write.
func FIFOGuardFunc(reconfigure func(path string) error) Guard {
	return func(key, value string) (string, bool) {
		if err := reconfigure(value); err != nil {
			return "", true
		}
		return value, false
	}
}

// DebugLogLevelGuardFunc returns a Guard that parses debug_log_level as an
// integer in [0,5] and calls setLevel, vetoing out-of-range or
// non-numeric values.
func DebugLogLevelGuardFunc(setLevel func(level int)) Guard {
	return func(key, value string) (string, bool) {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 5 {
			return "", true
		}
		setLevel(n)
		return value, false
	}
}

// HelpDirGuardFunc returns a Guard that calls invalidateCache whenever
// help_dir changes, so a stale help-topic index is never served from the
// previous directory.
func HelpDirGuardFunc(invalidateCache func()) Guard {
	return func(key, value string) (string, bool) {
		invalidateCache()
		return value, false
	}
}
