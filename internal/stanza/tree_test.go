package stanza

import "testing"

func buildSample() *Tree {
	t := New("message")
	t.SetAttr(t.Root(), "from", "juliet@example.com/balcony")
	t.SetAttr(t.Root(), "type", "chat")
	body := t.AddChild(t.Root(), "body")
	t.AppendCData(body, "hello")
	return t
}

func TestQueryDescends(t *testing.T) {
	tree := buildSample()
	h := tree.Query(tree.Root(), "body")
	if h == NoHandle {
		t.Fatal("body not found")
	}
	if tree.CData(h) != "hello" {
		t.Errorf("CData = %q", tree.CData(h))
	}
}

func TestQueryAttr(t *testing.T) {
	tree := buildSample()
	v, ok := tree.QueryAttr(tree.Root(), "?from")
	if !ok || v != "juliet@example.com/balcony" {
		t.Errorf("QueryAttr = %q, %v", v, ok)
	}
}

func buildRoster() *Tree {
	tr := New("query")
	a := tr.AddChild(tr.Root(), "item")
	tr.SetAttr(a, "jid", "romeo@example.com")
	tr.SetAttr(a, "subscription", "both")
	b := tr.AddChild(tr.Root(), "item")
	tr.SetAttr(b, "jid", "mercutio@example.com")
	tr.SetAttr(b, "subscription", "none")
	note := tr.AddChild(tr.Root(), "note")
	tr.AppendCData(note, "gossip")
	return tr
}

func TestQueryAttrPredicateAnyValue(t *testing.T) {
	tr := buildRoster()
	h := tr.Query(tr.Root(), "?subscription")
	if h == NoHandle {
		t.Fatal("expected first child carrying a subscription attribute")
	}
	if v, _ := tr.Attr(h, "jid"); v != "romeo@example.com" {
		t.Errorf("Query(?subscription) resolved to jid=%q, want romeo@example.com", v)
	}
}

func TestQueryAttrPredicateWithValue(t *testing.T) {
	tr := buildRoster()
	h := tr.Query(tr.Root(), "?subscription=none")
	if h == NoHandle {
		t.Fatal("expected the item whose subscription equals none")
	}
	if v, _ := tr.Attr(h, "jid"); v != "mercutio@example.com" {
		t.Errorf("Query(?subscription=none) resolved to jid=%q, want mercutio@example.com", v)
	}
}

func TestQueryCDataPredicate(t *testing.T) {
	tr := buildRoster()
	h := tr.Query(tr.Root(), "=gossip")
	if h == NoHandle {
		t.Fatal("expected the child whose cdata equals gossip")
	}
	if tr.Name(h) != "note" {
		t.Errorf("Query(=gossip) resolved to %q, want note", tr.Name(h))
	}
}

func TestQueryPredicateNoMatchReturnsNoHandle(t *testing.T) {
	tr := buildRoster()
	if h := tr.Query(tr.Root(), "?affiliation"); h != NoHandle {
		t.Errorf("expected NoHandle for an attribute nothing carries, got %v", h)
	}
}

func TestHideRemovesFromChildren(t *testing.T) {
	tree := buildSample()
	body := tree.Query(tree.Root(), "body")
	tree.Hide(body)
	if len(tree.Children(tree.Root())) != 0 {
		t.Errorf("expected hidden child to be excluded")
	}
}

func TestClassify(t *testing.T) {
	tree := buildSample()
	if Classify(tree) != KindMessage {
		t.Errorf("expected KindMessage")
	}
}

func TestClassifyPresenceExactMatch(t *testing.T) {
	if p, ok := ClassifyPresence("subscribe"); !ok || p != PresenceSubscribe {
		t.Errorf("subscribe mismatch: %v %v", p, ok)
	}
	if p, ok := ClassifyPresence("subscribed"); !ok || p != PresenceSubscribed {
		t.Errorf("subscribed mismatch: %v %v", p, ok)
	}
	if _, ok := ClassifyPresence("bogus"); ok {
		t.Errorf("expected unknown presence type to be rejected")
	}
}

func TestWalkVisitsAll(t *testing.T) {
	tree := buildSample()
	count := 0
	tree.Walk(tree.Root(), func(Handle) { count++ })
	if count != 2 {
		t.Errorf("Walk visited %d nodes, want 2", count)
	}
}

func TestSerializeEscapesAttrsAndCData(t *testing.T) {
	tr := New("message")
	tr.SetAttr(tr.Root(), "from", `a"b@example.com`)
	body := tr.AddChild(tr.Root(), "body")
	tr.AppendCData(body, "1 < 2 & 3 > 2")
	got := tr.Serialize(tr.Root())
	want := `<message from="a&quot;b@example.com"><body>1 &lt; 2 &amp; 3 &gt; 2</body></message>`
	if got != want {
		t.Errorf("Serialize = %q, want %q", got, want)
	}
}

func TestSerializeSelfClosesEmptyElements(t *testing.T) {
	tr := New("presence")
	if got := tr.Serialize(tr.Root()); got != "<presence/>" {
		t.Errorf("Serialize = %q, want <presence/>", got)
	}
}

func TestSerializeSkipsHiddenChildren(t *testing.T) {
	tree := buildSample()
	tree.Hide(tree.Query(tree.Root(), "body"))
	got := tree.Serialize(tree.Root())
	want := `<message from="juliet@example.com/balcony" type="chat"/>`
	if got != want {
		t.Errorf("Serialize = %q, want %q", got, want)
	}
}

func TestDupIsEqualButIndependent(t *testing.T) {
	orig := buildRoster()
	cp := orig.Dup(orig.Root())
	if !Equal(orig, orig.Root(), cp, cp.Root()) {
		t.Fatal("duplicate is not structurally equal to the original")
	}
	cp.SetAttr(cp.Root(), "ver", "1")
	if Equal(orig, orig.Root(), cp, cp.Root()) {
		t.Errorf("mutating the duplicate must not affect equality with the original")
	}
	if _, ok := orig.Attr(orig.Root(), "ver"); ok {
		t.Errorf("mutating the duplicate leaked into the original")
	}
}

func TestEqualDetectsDifferences(t *testing.T) {
	a := buildSample()
	b := buildSample()
	if !Equal(a, a.Root(), b, b.Root()) {
		t.Fatal("identical builds must compare equal")
	}
	b.AppendCData(b.Query(b.Root(), "body"), "!")
	if Equal(a, a.Root(), b, b.Root()) {
		t.Errorf("differing cdata must compare unequal")
	}
}

func TestEscapeUnescapeTextRoundTrip(t *testing.T) {
	s := `<a href="x">'tom' & jerry</a>`
	if got := UnescapeText(EscapeText(s)); got != s {
		t.Errorf("round trip = %q, want %q", got, s)
	}
}
