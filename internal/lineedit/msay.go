package lineedit

import "errors"

// MaxMsayLines bounds a verbatim multi-line ("msay") message.
const MaxMsayLines = 300

// ErrMsayLineLimit is returned when adding a line would exceed MaxMsayLines
// lines, or when the line itself is longer than MaxBufferRunes bytes.
var ErrMsayLineLimit = errors.New("lineedit: msay message too long")

// ErrMsayNotActive is returned by msay operations called outside msay mode.
var ErrMsayNotActive = errors.New("lineedit: msay mode not active")

type msayState struct {
	lines []string
}

// MsayActive reports whether verbatim multi-line mode is in effect. While
// active, the editor's normal command dispatch must not run; that gate
// lives in the caller that owns command parsing, this package only tracks
// the mode.
func (e *Editor) MsayActive() bool { return e.msay != nil }

// MsayStart enters verbatim multi-line mode.
func (e *Editor) MsayStart() {
	e.msay = &msayState{}
}

// MsayAddLine appends one line to the pending verbatim message, rejecting
// it (without mutating state) if the message already holds MaxMsayLines
// lines or the line itself exceeds MaxBufferRunes bytes.
func (e *Editor) MsayAddLine(line string) error {
	if e.msay == nil {
		return ErrMsayNotActive
	}
	if len(e.msay.lines) >= MaxMsayLines {
		return ErrMsayLineLimit
	}
	if len(line) > MaxBufferRunes {
		return ErrMsayLineLimit
	}
	e.msay.lines = append(e.msay.lines, line)
	return nil
}

// MsaySend ends verbatim mode and returns the accumulated message, its
// lines joined with "\n".
func (e *Editor) MsaySend() (string, error) {
	if e.msay == nil {
		return "", ErrMsayNotActive
	}
	out := e.msay.lines
	e.msay = nil
	text := ""
	for i, l := range out {
		if i > 0 {
			text += "\n"
		}
		text += l
	}
	return text, nil
}

// MsayCancel discards the pending verbatim message without sending it.
func (e *Editor) MsayCancel() {
	e.msay = nil
}
