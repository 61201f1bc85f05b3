// Package xmlstream implements the incremental stream parser: given bytes
// arriving from a non-blocking transport, it assembles a stream-root
// element once and one stanza.Tree per child of the stream root, signalling
// the dispatcher each time a complete top-level stanza (or the closing
// stream tag) has been seen.
//
// This intentionally drives encoding/xml's Decoder one token at a time
// rather than using a pull/transform pipeline (mellium.im/xmlstream's
// model): the transport layer hands the parser exactly the bytes read by
// one non-blocking read() call, and the parser must be able to say "not
// enough yet" without blocking for more, which a composable xmlstream
// transformer chain does not expose at this granularity.
package xmlstream

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/tvardek/mcjab/internal/stanza"
)

// Event is emitted by the Parser as tokens are consumed.
type Event int

const (
	// EventNone means "keep feeding bytes, nothing to report yet."
	EventNone Event = iota
	// EventStreamOpen fires once, when <stream:stream> (or equivalent root)
	// has been seen and its attributes captured.
	EventStreamOpen
	// EventStanza fires once per complete child of the stream root.
	EventStanza
	// EventStreamClose fires on </stream:stream>.
	EventStreamClose
)

// Parser incrementally decodes an XMPP stream from chunks of bytes.
type Parser struct {
	buf        bytes.Buffer
	dec        *xml.Decoder
	depth      int
	root       xml.StartElement
	rootOpen   bool
	tree       *stanza.Tree
	stack      []stanza.Handle
	lastEvent  Event
	lastStanza *stanza.Tree
}

// New returns a Parser ready to consume stream bytes.
func New() *Parser {
	p := &Parser{}
	p.dec = xml.NewDecoder(&p.buf)
	return p
}

// errNeedMore is step's signal that the decoder reached the end of the
// buffered bytes; callers never see it — Feed treats it (and io.EOF) as
// "no full token yet" and returns nil.
var errNeedMore = errors.New("xmlstream: need more data")

// Feed appends newly-read bytes and drains as many complete events as
// possible, invoking onEvent for each. Feed returns on the first error from
// malformed XML; the caller should tear down the stream in that case.
func (p *Parser) Feed(b []byte, onEvent func(Event, *stanza.Tree, xml.StartElement)) error {
	p.buf.Write(b)
	// encoding/xml latches its first read error, so the decoder only runs on
	// a whole token: text waits for the tag after it (whose '<' the decoder
	// then holds), and "<x/>" yields its end element from no further bytes.
	held, selfClose := false, false
	for {
		rest := p.buf.Bytes()
		tag := held || bytes.HasPrefix(rest, []byte("<"))
		from := 0
		if !tag {
			from = bytes.IndexByte(rest, '<')
		}
		if !selfClose && (from < 0 || bytes.IndexByte(rest[from:], '>') < 0) {
			return nil
		}
		ev, err := p.step()
		n := len(rest) - p.buf.Len()
		held, selfClose = !tag && !selfClose, tag && n >= 2 && rest[n-2] == '/'
		if err != nil {
			if errors.Is(err, errNeedMore) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ev == EventNone {
			continue
		}
		switch ev {
		case EventStreamOpen:
			onEvent(ev, nil, p.root)
		case EventStanza:
			onEvent(ev, p.lastStanza, xml.StartElement{})
		case EventStreamClose:
			onEvent(ev, nil, xml.StartElement{})
		}
	}
}

func (p *Parser) step() (Event, error) {
	tok, err := p.dec.Token()
	if err != nil {
		if err == io.EOF {
			return EventNone, errNeedMore
		}
		return EventNone, fmt.Errorf("xmlstream: %w", err)
	}

	switch t := tok.(type) {
	case xml.StartElement:
		p.depth++
		if !p.rootOpen {
			p.rootOpen = true
			p.root = t.Copy()
			return EventStreamOpen, nil
		}
		if p.depth == 2 {
			// Start of a new top-level stanza.
			p.tree = stanza.New(qname(t.Name))
			for _, a := range t.Attr {
				p.tree.SetAttr(p.tree.Root(), qname(a.Name), a.Value)
			}
			p.stack = []stanza.Handle{p.tree.Root()}
		} else if p.tree != nil {
			parent := p.stack[len(p.stack)-1]
			h := p.tree.AddChild(parent, qname(t.Name))
			for _, a := range t.Attr {
				p.tree.SetAttr(h, qname(a.Name), a.Value)
			}
			p.stack = append(p.stack, h)
		}
		return EventNone, nil

	case xml.EndElement:
		p.depth--
		if p.depth == 0 {
			return EventStreamClose, nil
		}
		if p.depth == 1 && p.tree != nil {
			p.lastStanza = p.tree
			p.tree = nil
			p.stack = nil
			return EventStanza, nil
		}
		if p.tree != nil && len(p.stack) > 0 {
			p.stack = p.stack[:len(p.stack)-1]
		}
		return EventNone, nil

	case xml.CharData:
		if p.tree != nil && len(p.stack) > 0 {
			p.tree.AppendCData(p.stack[len(p.stack)-1], string(t))
		}
		return EventNone, nil

	default:
		return EventNone, nil
	}
}

func qname(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	// Preserve only a short, human prefix-free form: callers match on local
	// names via stanza.Classify and explicit namespace checks where needed.
	return n.Local
}
