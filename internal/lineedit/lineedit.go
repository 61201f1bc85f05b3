// Package lineedit implements the readline-like input line editor: a
// fixed-size UTF-8 buffer with cursor motion, word/line/region kill,
// transposition, case operations, history with prefix search, completion
// dispatch, and a verbatim multi-line ("msay") mode.
//
// Methods return edit results (text, cursor position), not rendered cells.
// Painting the result onto a terminal is a UI-layer concern this package
// has no opinion about.
package lineedit

import (
	"errors"
	"strings"
	"unicode"
)

// MaxBufferRunes is the line buffer's fixed capacity.
const MaxBufferRunes = 1024

// ErrBufferFull is returned when an insert would exceed MaxBufferRunes.
var ErrBufferFull = errors.New("lineedit: buffer full")

// Editor holds one input line's edit state: the buffer, cursor, and command
// history. It is not safe for concurrent use; callers drive it from the
// single event-loop goroutine like every other component in this core.
type Editor struct {
	buf    []rune
	cursor int

	history    []string
	histIdx    int    // -1 = not browsing history; else index into history
	histStash  string // buffer contents saved when history browsing began
	prefixSave string // the prefix being searched for

	killRing string

	completion   CompletionSource
	compCtx      CompletionContext
	compCands    []string
	compIdx      int
	compOrigBuf  []rune
	compOrigCurs int

	msay      *msayState
	chatState *ChatStateTimer
}

// New returns an empty Editor.
func New() *Editor {
	return &Editor{histIdx: -1}
}

// Text returns the current buffer contents.
func (e *Editor) Text() string { return string(e.buf) }

// Cursor returns the cursor's rune offset into Text().
func (e *Editor) Cursor() int { return e.cursor }

// SetChatStateTimer attaches a chat-state timer that OnKeystroke notifies
// on every edit, rearming the XEP-0085 composing/paused transition.
func (e *Editor) SetChatStateTimer(t *ChatStateTimer) { e.chatState = t }

// SetCompletionSource attaches the completion registry used by
// CompletionAdvance.
func (e *Editor) SetCompletionSource(src CompletionSource) { e.completion = src }

func (e *Editor) keystroke() {
	if e.chatState != nil {
		e.chatState.OnKeystroke()
	}
}

// InsertRune inserts r at the cursor, returning ErrBufferFull if the
// buffer is already at MaxBufferRunes.
func (e *Editor) InsertRune(r rune) error {
	if len(e.buf) >= MaxBufferRunes {
		return ErrBufferFull
	}
	e.buf = append(e.buf, 0)
	copy(e.buf[e.cursor+1:], e.buf[e.cursor:])
	e.buf[e.cursor] = r
	e.cursor++
	e.keystroke()
	e.resetCompletion()
	return nil
}

// InsertString inserts s at the cursor one rune at a time, stopping (and
// returning ErrBufferFull) if it would overflow.
func (e *Editor) InsertString(s string) error {
	for _, r := range s {
		if err := e.InsertRune(r); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBackward deletes the rune before the cursor (backspace).
func (e *Editor) DeleteBackward() {
	if e.cursor == 0 {
		return
	}
	e.buf = append(e.buf[:e.cursor-1], e.buf[e.cursor:]...)
	e.cursor--
	e.keystroke()
	e.resetCompletion()
}

// DeleteForward deletes the rune under the cursor (delete).
func (e *Editor) DeleteForward() {
	if e.cursor >= len(e.buf) {
		return
	}
	e.buf = append(e.buf[:e.cursor], e.buf[e.cursor+1:]...)
	e.keystroke()
	e.resetCompletion()
}

// ForwardChar moves the cursor one rune right.
func (e *Editor) ForwardChar() {
	if e.cursor < len(e.buf) {
		e.cursor++
	}
}

// BackwardChar moves the cursor one rune left.
func (e *Editor) BackwardChar() {
	if e.cursor > 0 {
		e.cursor--
	}
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

// ForwardWord moves the cursor to the end of the current or next word.
func (e *Editor) ForwardWord() {
	n := len(e.buf)
	i := e.cursor
	for i < n && !isWordRune(e.buf[i]) {
		i++
	}
	for i < n && isWordRune(e.buf[i]) {
		i++
	}
	e.cursor = i
}

// BackwardWord moves the cursor to the start of the previous word.
func (e *Editor) BackwardWord() {
	i := e.cursor
	for i > 0 && !isWordRune(e.buf[i-1]) {
		i--
	}
	for i > 0 && isWordRune(e.buf[i-1]) {
		i--
	}
	e.cursor = i
}

// KillWord deletes from the cursor to the end of the current or next word, saving
// the deleted text in the kill ring.
func (e *Editor) KillWord() {
	start := e.cursor
	e.ForwardWord()
	end := e.cursor
	e.killRing = string(e.buf[start:end])
	e.buf = append(e.buf[:start], e.buf[end:]...)
	e.cursor = start
	e.keystroke()
}

// KillLine deletes from the cursor to the end of the line.
func (e *Editor) KillLine() {
	e.killRing = string(e.buf[e.cursor:])
	e.buf = e.buf[:e.cursor]
	e.keystroke()
}

// KillRegion deletes the runes in [start,end) (order-independent), saving
// them to the kill ring and moving the cursor to the region's start.
func (e *Editor) KillRegion(start, end int) {
	if start > end {
		start, end = end, start
	}
	if start < 0 {
		start = 0
	}
	if end > len(e.buf) {
		end = len(e.buf)
	}
	if start >= end {
		return
	}
	e.killRing = string(e.buf[start:end])
	e.buf = append(e.buf[:start], e.buf[end:]...)
	e.cursor = start
	e.keystroke()
}

// Yank reinserts the last killed text at the cursor.
func (e *Editor) Yank() error { return e.InsertString(e.killRing) }

// Transpose swaps the two runes surrounding the cursor, advancing the
// cursor past them (classic readline transpose-chars).
func (e *Editor) Transpose() {
	if len(e.buf) < 2 {
		return
	}
	i := e.cursor
	if i == 0 {
		i = 1
	}
	if i >= len(e.buf) {
		i = len(e.buf) - 1
	}
	e.buf[i-1], e.buf[i] = e.buf[i], e.buf[i-1]
	if e.cursor < len(e.buf) {
		e.cursor = i + 1
	}
	e.keystroke()
}

func (e *Editor) wordBounds() (start, end int) {
	start, end = e.cursor, e.cursor
	for end < len(e.buf) && !isWordRune(e.buf[end]) {
		end++
		start = end
	}
	for end < len(e.buf) && isWordRune(e.buf[end]) {
		end++
	}
	return start, end
}

// UpcaseWord uppercases the word at (or after) the cursor and advances past
// it.
func (e *Editor) UpcaseWord() {
	s, end := e.wordBounds()
	for i := s; i < end; i++ {
		e.buf[i] = unicode.ToUpper(e.buf[i])
	}
	e.cursor = end
	e.keystroke()
}

// DowncaseWord lowercases the word at (or after) the cursor and advances
// past it.
func (e *Editor) DowncaseWord() {
	s, end := e.wordBounds()
	for i := s; i < end; i++ {
		e.buf[i] = unicode.ToLower(e.buf[i])
	}
	e.cursor = end
	e.keystroke()
}

// CapitalizeWord titlecases the first rune of the word at (or after) the
// cursor and advances past it.
func (e *Editor) CapitalizeWord() {
	s, end := e.wordBounds()
	if s < end {
		e.buf[s] = unicode.ToUpper(e.buf[s])
		for i := s + 1; i < end; i++ {
			e.buf[i] = unicode.ToLower(e.buf[i])
		}
	}
	e.cursor = end
	e.keystroke()
}

// Clear empties the buffer and resets the cursor, without touching
// history.
func (e *Editor) Clear() {
	e.buf = e.buf[:0]
	e.cursor = 0
	e.resetCompletion()
}

// --- History ---

// HistoryPrev replaces the buffer with the previous history entry, stashing
// the current buffer the first time browsing starts so a subsequent
// HistoryNext all the way forward restores it.
func (e *Editor) HistoryPrev() {
	if len(e.history) == 0 {
		return
	}
	if e.histIdx == -1 {
		e.histStash = e.Text()
		e.histIdx = len(e.history)
	}
	if e.histIdx == 0 {
		return
	}
	e.histIdx--
	e.setBuf(e.history[e.histIdx])
}

// HistoryNext replaces the buffer with the next history entry, or the
// stashed pre-browsing buffer once the end is reached.
func (e *Editor) HistoryNext() {
	if e.histIdx == -1 {
		return
	}
	e.histIdx++
	if e.histIdx >= len(e.history) {
		e.histIdx = -1
		e.setBuf(e.histStash)
		return
	}
	e.setBuf(e.history[e.histIdx])
}

func (e *Editor) setBuf(s string) {
	e.buf = []rune(s)
	e.cursor = len(e.buf)
}

// PrefixSearchBack finds the nearest earlier history entry sharing the
// buffer's current text (up to the cursor) as a prefix, replacing the
// buffer with it if found.
func (e *Editor) PrefixSearchBack() bool {
	prefix := string(e.buf[:e.cursor])
	if e.histIdx == -1 {
		e.prefixSave = prefix
		e.histStash = e.Text()
		e.histIdx = len(e.history)
	}
	for i := e.histIdx - 1; i >= 0; i-- {
		if strings.HasPrefix(e.history[i], e.prefixSave) {
			e.histIdx = i
			e.setBuf(e.history[i])
			return true
		}
	}
	return false
}

// PrefixSearchForward is PrefixSearchBack's mirror, searching toward more
// recent entries.
func (e *Editor) PrefixSearchForward() bool {
	if e.histIdx == -1 {
		return false
	}
	for i := e.histIdx + 1; i < len(e.history); i++ {
		if strings.HasPrefix(e.history[i], e.prefixSave) {
			e.histIdx = i
			e.setBuf(e.history[i])
			return true
		}
	}
	e.histIdx = -1
	e.setBuf(e.histStash)
	return false
}

// AcceptLine returns the buffer's text, clears it, and (if advanceHistory)
// appends it to history, skipping an exact repeat of the last entry.
func (e *Editor) AcceptLine(advanceHistory bool) string {
	line := e.Text()
	if advanceHistory && line != "" {
		if len(e.history) == 0 || e.history[len(e.history)-1] != line {
			e.history = append(e.history, line)
		}
	}
	e.Clear()
	e.histIdx = -1
	return line
}

// AcceptLineAndDownHistory accepts the current line, then immediately
// loads the next history entry into the buffer, useful for re-sending and
// tweaking a sequence of recent lines.
func (e *Editor) AcceptLineAndDownHistory() string {
	next := -1
	if e.histIdx >= 0 && e.histIdx+1 < len(e.history) {
		next = e.histIdx + 1
	}
	line := e.AcceptLine(true)
	if next >= 0 {
		e.histIdx = next
		e.setBuf(e.history[next])
	}
	return line
}

// --- Completion ---

// CompletionContext identifies where in the command the cursor sits, so
// the completion registry can offer category-specific candidates.
type CompletionContext struct {
	CommandName string // the command word, e.g. "room"
	ArgPosition int    // 0-based index of the argument being completed
}

// CompletionSource supplies candidate words for a given context; it is an
// external registry this package only calls into.
type CompletionSource interface {
	Candidates(ctx CompletionContext, prefix string) []string
}

func (e *Editor) resetCompletion() {
	e.compCands = nil
	e.compIdx = -1
}

// CompletionAdvance cycles to the next (direction>0) or previous
// (direction<0) candidate from the completion source for the current
// context and replaces the word at the cursor with it.
func (e *Editor) CompletionAdvance(ctx CompletionContext, direction int) bool {
	if e.completion == nil {
		return false
	}
	if e.compCands == nil {
		start, _ := wordBoundsAt(e.buf, e.cursor)
		prefix := string(e.buf[start:e.cursor])
		e.compCands = e.completion.Candidates(ctx, prefix)
		e.compOrigBuf = append([]rune(nil), e.buf...)
		e.compOrigCurs = e.cursor
		e.compIdx = -1
		if len(e.compCands) == 0 {
			return false
		}
	}
	if len(e.compCands) == 0 {
		return false
	}
	e.compIdx = ((e.compIdx+direction)%len(e.compCands) + len(e.compCands)) % len(e.compCands)
	cand := e.compCands[e.compIdx]

	start, _ := wordBoundsAt(e.compOrigBuf, e.compOrigCurs)
	e.buf = append(append([]rune{}, e.compOrigBuf[:start]...), []rune(cand+" ")...)
	e.buf = append(e.buf, e.compOrigBuf[e.compOrigCurs:]...)
	e.cursor = start + len([]rune(cand)) + 1
	return true
}

func wordBoundsAt(buf []rune, cursor int) (start, end int) {
	start, end = cursor, cursor
	for start > 0 && isWordRune(buf[start-1]) {
		start--
	}
	for end < len(buf) && isWordRune(buf[end]) {
		end++
	}
	return start, end
}

// CompletionCancel restores the buffer to what it was before completion
// began.
func (e *Editor) CompletionCancel() {
	if e.compOrigBuf != nil {
		e.buf = e.compOrigBuf
		e.cursor = e.compOrigCurs
	}
	e.resetCompletion()
}
