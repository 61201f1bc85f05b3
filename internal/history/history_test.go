package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBlockBoundHonorsMaxBlocks(t *testing.T) {
	b := NewBuffer(3)
	big := strings.Repeat("x", minBlockBytes)
	for i := 0; i < 10; i++ {
		b.Append(Line{Text: big, Timestamp: time.Now()})
	}
	if got := b.BlockCount(); got > 3 {
		t.Fatalf("BlockCount() = %d, want <= 3", got)
	}
}

func TestBlockRecyclingDisabledWhileLocked(t *testing.T) {
	b := NewBuffer(2)
	b.SetScrollLocked(true)
	big := strings.Repeat("x", minBlockBytes)
	for i := 0; i < 6; i++ {
		b.Append(Line{Text: big})
	}
	if got := b.BlockCount(); got <= 2 {
		t.Fatalf("BlockCount() = %d while locked, want > 2 (no recycling)", got)
	}
}

func TestWrapBreaksOnSpace(t *testing.T) {
	b := NewBuffer(0)
	b.Append(Line{Text: "hello there friend"})
	wrapped := b.Wrap(8)
	if len(wrapped) < 2 {
		t.Fatalf("expected multiple wrapped rows, got %d: %+v", len(wrapped), wrapped)
	}
	for _, w := range wrapped {
		if len([]rune(w.Text)) > 8 {
			t.Errorf("wrapped row too wide: %q", w.Text)
		}
	}
	if !wrapped[0].Persistent {
		t.Error("first wrapped row should be persistent")
	}
	if wrapped[1].Persistent {
		t.Error("second wrapped row (wrap-induced) should not be persistent")
	}
}

func TestWrapHonorsEmbeddedNewline(t *testing.T) {
	b := NewBuffer(0)
	b.Append(Line{Text: "first\nsecond"})
	wrapped := b.Wrap(0)
	if len(wrapped) != 2 {
		t.Fatalf("expected 2 rows from embedded newline, got %d", len(wrapped))
	}
	if !wrapped[0].Persistent || !wrapped[1].Persistent {
		t.Error("every newline-delimited segment should be persistent")
	}
}

func TestWrapIdempotentAndRebuildRestoresBreaks(t *testing.T) {
	b := NewBuffer(0)
	b.Append(Line{Text: "hello world foobar"})

	first := b.Wrap(10)
	second := b.Wrap(10)
	if len(first) != len(second) {
		t.Fatalf("Wrap(10) not idempotent: %d vs %d", len(first), len(second))
	}

	wide := b.Rebuild(20)
	if len(wide) != 1 {
		t.Fatalf("Rebuild(20) = %d rows, want 1", len(wide))
	}
	if !wide[0].Persistent {
		t.Error("sole row after rebuild should stay persistent")
	}

	narrow := b.Rebuild(10)
	if len(narrow) != len(first) {
		t.Fatalf("re-narrowing = %d rows, want %d (original break set)", len(narrow), len(first))
	}
}

func TestWrapToWidthPreservesTrailingSpaceOnBrokenSegments(t *testing.T) {
	b := NewBuffer(0)
	b.Append(Line{Text: "hello world foobar"})

	rows := b.Wrap(6)
	if len(rows) != 3 {
		t.Fatalf("Wrap(6) = %d rows, want 3: %#v", len(rows), rows)
	}
	want := []string{"hello ", "world ", "foobar"}
	for i, w := range want {
		if rows[i].Text != w {
			t.Errorf("rows[%d].Text = %q, want %q", i, rows[i].Text, w)
		}
	}
	if !rows[0].Persistent || rows[1].Persistent || rows[2].Persistent {
		t.Errorf("only the first wrapped row should be persistent: %#v", rows)
	}
}

func TestReadmarkSetOnLastThenRemoveIfTrailing(t *testing.T) {
	b := NewBuffer(0)
	for _, s := range []string{"A", "B", "C", "D", "E"} {
		b.Append(Line{Text: s})
	}
	b.SetReadmark(ReadmarkSetOnLast)
	if idx := b.JumpReadmark(); idx != 4 {
		t.Fatalf("JumpReadmark() = %d, want 4 (E)", idx)
	}

	b.SetReadmark(ReadmarkRemoveIfTrailing)
	b.Append(Line{Text: "F"})
	if idx := b.JumpReadmark(); idx != -1 {
		t.Fatalf("expected no readmark after remove-if-trailing+append, got %d", idx)
	}

	b.SetReadmark(ReadmarkSetOnLast)
	b.Append(Line{Text: "G"})
	if idx := b.JumpReadmark(); idx != 5 {
		t.Fatalf("JumpReadmark() = %d, want 5 (F) after append past the mark", idx)
	}
}

func TestReadmarkUniqueness(t *testing.T) {
	b := NewBuffer(0)
	for _, s := range []string{"A", "B", "C"} {
		b.Append(Line{Text: s})
	}
	b.SetReadmark(ReadmarkSetOnLast)
	b.SetReadmark(ReadmarkSetOnLast)
	count := 0
	for _, l := range b.Lines() {
		if l.Flags.Has(FlagReadMark) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("readmark count = %d, want 1", count)
	}
}

func TestReceiptPairing(t *testing.T) {
	b := NewBuffer(0)
	b.Append(Line{Text: "sent", Flags: FlagReceiptPending, ReceiptID: "id1"})
	if !b.RemoveReceipt("id1") {
		t.Fatal("expected RemoveReceipt to find the line")
	}
	if b.Lines()[0].Flags.Has(FlagReceiptPending) {
		t.Error("expected FlagReceiptPending cleared")
	}
	if b.RemoveReceipt("id1") {
		t.Error("expected second RemoveReceipt to fail, already consumed")
	}
}

func TestSearchDirection(t *testing.T) {
	b := NewBuffer(0)
	b.Append(Line{Text: "Hello World"})
	b.Append(Line{Text: "nothing"})
	b.Append(Line{Text: "world again"})

	fwd := b.Search(0, 1, "world")
	if len(fwd) != 2 || fwd[0] != 0 || fwd[1] != 2 {
		t.Errorf("forward Search = %v", fwd)
	}
	back := b.Search(2, -1, "world")
	if len(back) != 2 || back[0] != 2 || back[1] != 0 {
		t.Errorf("backward Search = %v", back)
	}
}

func TestJumpToPercent(t *testing.T) {
	b := NewBuffer(0)
	for i := 0; i < 10; i++ {
		b.Append(Line{Text: "x"})
	}
	if idx := b.JumpToPercent(50); idx != 4 {
		t.Errorf("JumpToPercent(50) = %d, want 4", idx)
	}
}

func TestGetLinesWindowsIntoWrappedView(t *testing.T) {
	b := NewBuffer(0)
	b.Append(Line{Text: "hello world foobar", Flags: FlagHighlightIn})
	b.Append(Line{Text: "short"})
	b.Wrap(6) // "hello ", "world ", "foobar", "short"

	rows := b.GetLines(1, 2)
	if len(rows) != 2 || rows[0].Text != "world " || rows[1].Text != "foobar" {
		t.Fatalf("GetLines(1, 2) = %#v", rows)
	}
	// Continuation rows share the logical Line, so the first message's
	// highlight flag is visible from its wrap-induced rows too.
	if !rows[0].Line.Flags.Has(FlagHighlightIn) || !rows[1].Line.Flags.Has(FlagHighlightIn) {
		t.Error("continuation rows should expose the message's flags")
	}

	if got := b.GetLines(3, 10); len(got) != 1 || got[0].Text != "short" {
		t.Errorf("GetLines past the end should clamp: %#v", got)
	}
	if got := b.GetLines(99, 1); got != nil {
		t.Errorf("GetLines beyond the view should be empty, got %#v", got)
	}
}

func TestDumpToFileRefusesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.txt")
	b := NewBuffer(0)
	b.Append(Line{Text: "hi", Timestamp: time.Now()})
	if err := b.DumpToFile(path); err != nil {
		t.Fatalf("first dump: %v", err)
	}
	if err := b.DumpToFile(path); err == nil {
		t.Fatal("expected error on second dump to existing path")
	}
	os.Remove(path)
}

func TestStorePerJIDIsolation(t *testing.T) {
	s := NewStore(0)
	a := s.GetOrCreate("a@example.com")
	b := s.GetOrCreate("b@example.com")
	a.Append(Line{Text: "hi"})
	if a.Len() != 1 || b.Len() != 0 {
		t.Fatalf("buffers not isolated: a=%d b=%d", a.Len(), b.Len())
	}
	if s.GetOrCreate("a@example.com") != a {
		t.Fatal("GetOrCreate should return the same buffer on repeat calls")
	}
}

func TestStoreResizeAllReflows(t *testing.T) {
	s := NewStore(0)
	a := s.GetOrCreate("a@example.com")
	a.Append(Line{Text: "hello world foobar"})
	a.Wrap(10)
	s.ResizeAll(20)
	if len(a.Wrap(20)) != 1 {
		t.Fatalf("expected single row after ResizeAll(20)")
	}
}
