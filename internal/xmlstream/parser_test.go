package xmlstream

import (
	"encoding/xml"
	"testing"

	"github.com/tvardek/mcjab/internal/stanza"
)

func TestFeedEmitsStreamOpenAndStanza(t *testing.T) {
	p := New()
	var events []Event
	var trees []*stanza.Tree

	onEvent := func(ev Event, tr *stanza.Tree, _ xml.StartElement) {
		events = append(events, ev)
		if tr != nil {
			trees = append(trees, tr)
		}
	}

	if err := p.Feed([]byte(`<stream:stream xmlns:stream="http://etherx.jabber.org/streams">`), onEvent); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := p.Feed([]byte(`<message from="a@b" type="chat"><body>hi</body></message>`), onEvent); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	if len(events) != 2 || events[0] != EventStreamOpen || events[1] != EventStanza {
		t.Fatalf("events = %v", events)
	}
	if len(trees) != 1 {
		t.Fatalf("expected 1 stanza tree, got %d", len(trees))
	}
	tree := trees[0]
	body := tree.Query(tree.Root(), "body")
	if body == stanza.NoHandle || tree.CData(body) != "hi" {
		t.Errorf("body cdata = %q", tree.CData(body))
	}
}

func TestFeedHandlesPartialChunks(t *testing.T) {
	p := New()
	var events []Event
	onEvent := func(ev Event, _ *stanza.Tree, _ xml.StartElement) {
		events = append(events, ev)
	}

	full := `<stream:stream xmlns:stream="http://etherx.jabber.org/streams"><presence/>`
	for i := 0; i < len(full); i++ {
		if err := p.Feed([]byte{full[i]}, onEvent); err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
	}
	if len(events) != 2 {
		t.Fatalf("events = %v, want [StreamOpen, Stanza]", events)
	}
}

func TestParseSerializeRoundTrip(t *testing.T) {
	orig := stanza.New("message")
	orig.SetAttr(orig.Root(), "to", "r@muc.example.com")
	orig.SetAttr(orig.Root(), "type", "groupchat")
	body := orig.AddChild(orig.Root(), "body")
	orig.AppendCData(body, "wine & song")
	x := orig.AddChild(orig.Root(), "x")
	orig.SetAttr(x, "xmlns", "jabber:x:delay")

	p := New()
	var reparsed *stanza.Tree
	onEvent := func(ev Event, tr *stanza.Tree, _ xml.StartElement) {
		if ev == EventStanza {
			reparsed = tr
		}
	}
	stream := `<stream:stream xmlns:stream="http://etherx.jabber.org/streams">` + orig.Serialize(orig.Root())
	if err := p.Feed([]byte(stream), onEvent); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if reparsed == nil {
		t.Fatal("no stanza emitted")
	}
	if !stanza.Equal(orig, orig.Root(), reparsed, reparsed.Root()) {
		t.Errorf("reparsed tree differs:\n  sent: %s\n  got:  %s",
			orig.Serialize(orig.Root()), reparsed.Serialize(reparsed.Root()))
	}
}

func TestFeedStreamClose(t *testing.T) {
	p := New()
	var events []Event
	onEvent := func(ev Event, _ *stanza.Tree, _ xml.StartElement) {
		events = append(events, ev)
	}
	_ = p.Feed([]byte(`<stream:stream xmlns:stream="http://etherx.jabber.org/streams"></stream:stream>`), onEvent)
	if len(events) != 2 || events[1] != EventStreamClose {
		t.Fatalf("events = %v", events)
	}
}
