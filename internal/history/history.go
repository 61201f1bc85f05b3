// Package history implements the per-conversation history buffer: a
// chunk-allocated, wrap-on-demand store of lines with readmarks,
// scroll-lock, and delivery-receipt pairing.
//
// Classic console clients keep one big malloc'd char buffer per line and
// carve wrapped "blocks" as pointers into it, recycled in place as the ring
// fills. Go has no equivalent reason to hand-manage a byte arena: this
// package keeps an owned deque of blocks instead, while preserving the same
// chunked-allocation, wrap, persistent-break and recycle semantics a caller
// of that style of API will recognize.
package history

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// LineFlags marks per-line rendering/delivery metadata.
// PGPEncrypted/OTREncrypted are set by callers wired to
// the internal/crypto/pgp and internal/crypto/otr hook points; this package
// never inspects message content to set them itself.
type LineFlags int

const (
	FlagIn LineFlags = 1 << iota
	FlagOut
	FlagInfo
	FlagError
	FlagSpecial
	FlagHighlightIn
	FlagHighlightOut
	FlagPGPEncrypted
	FlagOTREncrypted
	FlagReceiptPending
	FlagReadMark
	FlagDelayed
	FlagContinuation
	FlagCarbon
)

func (f LineFlags) Has(bit LineFlags) bool { return f&bit != 0 }

// Line is one logical (pre-wrap) line of conversation text.
type Line struct {
	Timestamp time.Time
	Text      string
	Flags     LineFlags
	MucNick   string // non-empty for MUC messages, the speaker's nick
	ReceiptID string // stanza id to match against an incoming receipt
}

// WrappedLine is one on-screen row produced by wrapping a Line to a given
// width; a single Line may expand into several WrappedLines. Persistent
// marks the start of a "\n"-delimited segment within the logical line (it
// survives Rebuild); non-persistent rows are recomputed on width change.
type WrappedLine struct {
	Line       *Line
	Text       string // the wrapped segment
	Persistent bool
}

// minBlockBytes is the lower bound on a block's owned character region.
const minBlockBytes = 8 * 1024

// block is one chunk of lines whose combined text is at least minBlockBytes
// once full (the last, still-filling block may be smaller).
type block struct {
	lines []*Line
	bytes int
}

// ReadmarkAction selects how SetReadmark repositions the read/unread
// boundary.
type ReadmarkAction int

const (
	ReadmarkSetOnLast ReadmarkAction = iota
	ReadmarkClear
	ReadmarkRemoveIfTrailing
)

// Buffer holds one conversation's chunk-allocated history.
type Buffer struct {
	mu              sync.Mutex
	blocks          []*block
	maxBlocks       int // 0 = unbounded
	topPinned       bool
	scrollLocked    bool
	width           int // last width used to wrap; 0 = unwrapped
	wrapped         []WrappedLine
	readmarkLine    *Line
	pendingReceipts map[string]*Line
}

// NewBuffer returns an empty Buffer. maxBlocks bounds the number of
// allocated blocks (oldest is recycled first when exceeded and the buffer
// is not pinned); 0 means unbounded.
func NewBuffer(maxBlocks int) *Buffer {
	return &Buffer{maxBlocks: maxBlocks, pendingReceipts: make(map[string]*Line)}
}

// BlockCount returns the number of allocated blocks.
func (b *Buffer) BlockCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blocks)
}

// SetTopPinned marks whether a top-of-view pointer holds the head of the
// buffer open, disabling block recycling until released.
func (b *Buffer) SetTopPinned(pinned bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topPinned = pinned
}

// SetScrollLocked toggles whether the view should stay pinned to the
// readmark instead of auto-scrolling to the newest line on Append; also
// disables block recycling while held, like a top pointer.
func (b *Buffer) SetScrollLocked(locked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scrollLocked = locked
}

// ScrollLocked reports the current scroll-lock state.
func (b *Buffer) ScrollLocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scrollLocked
}

// Append adds one logical message as a Line; it does not wrap (the wrapped
// view is rebuilt lazily by Wrap/GetLines). It appends the Line to the
// tail block, opening a new block once the current one has accumulated at
// least minBlockBytes. If this would exceed maxBlocks, the oldest block is
// recycled, unless a top pointer or scroll-lock holds the head.
func (b *Buffer) Append(l Line) *Line {
	b.mu.Lock()
	defer b.mu.Unlock()

	ln := &l
	if len(b.blocks) == 0 || b.blocks[len(b.blocks)-1].bytes >= minBlockBytes {
		b.blocks = append(b.blocks, &block{})
	}
	tail := b.blocks[len(b.blocks)-1]
	tail.lines = append(tail.lines, ln)
	tail.bytes += len(l.Text)

	if l.ReceiptID != "" && l.Flags.Has(FlagReceiptPending) {
		b.pendingReceipts[l.ReceiptID] = ln
	}

	if b.maxBlocks > 0 && len(b.blocks) > b.maxBlocks && !b.topPinned && !b.scrollLocked {
		evicted := b.blocks[0]
		b.blocks = b.blocks[1:]
		for _, l2 := range evicted.lines {
			if b.readmarkLine == l2 {
				b.readmarkLine = nil
			}
			for id, l3 := range b.pendingReceipts {
				if l3 == l2 {
					delete(b.pendingReceipts, id)
				}
			}
		}
	}

	b.wrapped = nil
	return ln
}

// RemoveReceipt flips FlagReceiptPending off the line that requested
// receiptID, when a delivery receipt arrives.
func (b *Buffer) RemoveReceipt(receiptID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.pendingReceipts[receiptID]
	if !ok {
		return false
	}
	l.Flags &^= FlagReceiptPending
	delete(b.pendingReceipts, receiptID)
	return true
}

// Len returns the number of logical lines across all blocks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.len()
}

func (b *Buffer) len() int {
	n := 0
	for _, blk := range b.blocks {
		n += len(blk.lines)
	}
	return n
}

// Lines returns every logical line in order (oldest first).
func (b *Buffer) Lines() []*Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lines()
}

func (b *Buffer) lines() []*Line {
	out := make([]*Line, 0, b.len())
	for _, blk := range b.blocks {
		out = append(out, blk.lines...)
	}
	return out
}

// Wrap rebuilds (if needed) and returns the wrapped view at the given
// column width. A width of 0 disables wrapping (one WrappedLine per "\n"
// segment). Calling Wrap twice with the same width is idempotent; changing
// width and changing back reproduces the original non-persistent break set
// since persistence is derived solely from the source text's embedded
// newlines, not from prior wrap state.
func (b *Buffer) Wrap(width int) []WrappedLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wrap(width)
}

func (b *Buffer) wrap(width int) []WrappedLine {
	if width < 0 {
		width = 0
	}
	if b.wrapped != nil && b.width == width {
		return b.wrapped
	}
	b.width = width
	wrapped := make([]WrappedLine, 0, len(b.wrapped))
	for _, l := range b.lines() {
		wrapped = append(wrapped, wrapLine(l, width)...)
	}
	b.wrapped = wrapped
	return b.wrapped
}

// GetLines returns up to n consecutive wrapped rows starting at top, from
// the view wrapped at the buffer's current width. The renderer owns prefix
// formatting; flags, timestamp, and nick reach it through each row's Line
// pointer, so highlight/encryption/receipt state on a message's first row
// is visible on its continuation rows too.
func (b *Buffer) GetLines(top, n int) []WrappedLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := b.wrap(b.width)
	if top < 0 {
		top = 0
	}
	if top >= len(rows) || n <= 0 {
		return nil
	}
	end := top + n
	if end > len(rows) {
		end = len(rows)
	}
	return rows[top:end]
}

// Rebuild drops all non-persistent breaks and re-wraps at width.
func (b *Buffer) Rebuild(width int) []WrappedLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wrapped = nil
	return b.wrap(width)
}

// wrapLine breaks l.Text into WrappedLines at whitespace boundaries nearest
// width columns, honoring embedded '\n' as forced persistent breaks (the
// first segment of each "\n"-delimited group is persistent; word-wrap
// induced breaks within it are not).
func wrapLine(l *Line, width int) []WrappedLine {
	var out []WrappedLine
	for _, raw := range strings.Split(l.Text, "\n") {
		if width <= 0 {
			out = append(out, WrappedLine{Line: l, Text: raw, Persistent: true})
			continue
		}
		segs := wrapToWidth(raw, width)
		for i, s := range segs {
			out = append(out, WrappedLine{Line: l, Text: s, Persistent: i == 0})
		}
	}
	if len(out) == 0 {
		out = append(out, WrappedLine{Line: l, Text: "", Persistent: true})
	}
	return out
}

func wrapToWidth(s string, width int) []string {
	if utf8.RuneCountInString(s) <= width {
		return []string{s}
	}
	var out []string
	runes := []rune(s)
	start := 0
	lastSpace := -1
	for i := 0; i < len(runes); i++ {
		if runes[i] == ' ' {
			lastSpace = i
		}
		if i-start+1 > width {
			brk := i
			if lastSpace > start {
				// Break after the space, not before it, so the broken-off
				// segment keeps its trailing space.
				brk = lastSpace + 1
			}
			out = append(out, string(runes[start:brk]))
			start = brk
			for start < len(runes) && runes[start] == ' ' {
				start++
			}
			lastSpace = -1
			i = start - 1
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// SetReadmark repositions the read/unread boundary per action. At most one
// line ever carries FlagReadMark: if a
// continuation (wrap-induced) row would otherwise carry it, it is already
// migrated to the persistent line it belongs to, since the flag lives on
// the logical Line, not a wrapped row.
func (b *Buffer) SetReadmark(action ReadmarkAction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch action {
	case ReadmarkClear:
		if b.readmarkLine != nil {
			b.readmarkLine.Flags &^= FlagReadMark
			b.readmarkLine = nil
		}
	case ReadmarkRemoveIfTrailing:
		lines := b.lines()
		if b.readmarkLine != nil && len(lines) > 0 && lines[len(lines)-1] == b.readmarkLine {
			b.readmarkLine.Flags &^= FlagReadMark
			b.readmarkLine = nil
		}
	default: // ReadmarkSetOnLast
		lines := b.lines()
		if len(lines) == 0 {
			return
		}
		if b.readmarkLine != nil {
			b.readmarkLine.Flags &^= FlagReadMark
		}
		last := lines[len(lines)-1]
		last.Flags |= FlagReadMark
		b.readmarkLine = last
	}
}

// JumpReadmark returns the index (into Lines()) of the readmarked line, or
// -1 if no line is marked.
func (b *Buffer) JumpReadmark() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readmarkLine == nil {
		return -1
	}
	for i, l := range b.lines() {
		if l == b.readmarkLine {
			return i
		}
	}
	return -1
}

// UnreadCount returns how many lines are newer than the readmark (every
// line, if none is set).
func (b *Buffer) UnreadCount() int {
	idx := b.JumpReadmark()
	lines := b.Lines()
	if idx < 0 {
		return len(lines)
	}
	n := len(lines) - 1 - idx
	if n < 0 {
		return 0
	}
	return n
}

// Search returns the indices (into Lines()) of lines containing substr,
// case-insensitively, starting at start and walking in direction (+1 or
// -1).
func (b *Buffer) Search(start, direction int, substr string) []int {
	if substr == "" {
		return nil
	}
	needle := strings.ToLower(substr)
	lines := b.Lines()
	var out []int
	if direction < 0 {
		for i := start; i >= 0 && i < len(lines); i-- {
			if strings.Contains(strings.ToLower(lines[i].Text), needle) {
				out = append(out, i)
			}
		}
		return out
	}
	for i := start; i < len(lines); i++ {
		if i < 0 {
			continue
		}
		if strings.Contains(strings.ToLower(lines[i].Text), needle) {
			out = append(out, i)
		}
	}
	return out
}

// JumpToDate returns the index of the first line at or after t, or -1.
func (b *Buffer) JumpToDate(t time.Time) int {
	for i, l := range b.Lines() {
		if !l.Timestamp.Before(t) {
			return i
		}
	}
	return -1
}

// JumpToPercent returns the index corresponding to pct (0-100) of the
// buffer's length.
func (b *Buffer) JumpToPercent(pct int) int {
	lines := b.Lines()
	if len(lines) == 0 {
		return -1
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return (len(lines) - 1) * pct / 100
}

// DumpToFile writes the buffer's plain-text lines to path, refusing to
// overwrite an existing file (O_EXCL) so an accidental re-run never
// silently destroys a prior dump.
func (b *Buffer) DumpToFile(path string) error {
	lines := b.Lines()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("history: dump to %s: %w", path, err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := fmt.Fprintf(f, "[%s] %s\n", l.Timestamp.Format(time.RFC3339), l.Text); err != nil {
			return err
		}
	}
	return nil
}

// Store is the per-JID registry of history buffers. Buffers are created
// lazily on first GetOrCreate.
type Store struct {
	mu        sync.Mutex
	buffers   map[string]*Buffer
	maxBlocks int
}

// NewStore returns an empty registry; maxBlocks is applied to every buffer
// it creates.
func NewStore(maxBlocks int) *Store {
	return &Store{buffers: make(map[string]*Buffer), maxBlocks: maxBlocks}
}

// GetOrCreate returns the buffer for bareJID, creating it if absent.
func (s *Store) GetOrCreate(bareJID string) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf, ok := s.buffers[bareJID]; ok {
		return buf
	}
	buf := NewBuffer(s.maxBlocks)
	s.buffers[bareJID] = buf
	return buf
}

// Remove discards the buffer for bareJID, if any.
func (s *Store) Remove(bareJID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, bareJID)
}

// ResizeAll reflows every buffer to width, for terminal resize.
func (s *Store) ResizeAll(width int) {
	s.mu.Lock()
	bufs := make([]*Buffer, 0, len(s.buffers))
	for _, buf := range s.buffers {
		bufs = append(bufs, buf)
	}
	s.mu.Unlock()
	for _, buf := range bufs {
		buf.Rebuild(width)
	}
}
