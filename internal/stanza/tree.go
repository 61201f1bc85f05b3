// Package stanza implements an arena-backed XML element tree used to hold
// one parsed stanza at a time, plus a small path-query language for reading
// it without walking pointers by hand.
//
// Nodes live in a single Tree's arena and are addressed by integer Handle
// rather than pointer: a stanza's tree is short-lived (built by the stream
// parser, read by dispatch, then discarded or recycled), so there is no
// lifetime reason to pay for a GC'd pointer graph, and handles make "is
// this node still mine" checks trivial.
package stanza

import (
	"strings"
)

// Handle addresses a node within a Tree. Handle 0 is the root of a tree
// built by New; NoHandle is returned when a query finds nothing.
type Handle int

// NoHandle indicates "not found" from query operations.
const NoHandle Handle = -1

type node struct {
	name     string // "prefix:local" or "local"
	attrs    []attr
	cdata    strings.Builder
	parent   Handle
	children []Handle
	hidden   bool
}

type attr struct {
	name  string
	value string
}

// Tree is an arena of nodes belonging to one stanza (or one stream-level
// element). Build one with New; the zero Tree has no root node.
type Tree struct {
	nodes []node
	root  Handle
}

// New returns an empty Tree with a fresh root element named name.
func New(name string) *Tree {
	t := &Tree{root: NoHandle}
	t.root = t.newNode(name, NoHandle)
	return t
}

func (t *Tree) newNode(name string, parent Handle) Handle {
	t.nodes = append(t.nodes, node{name: name, parent: parent})
	h := Handle(len(t.nodes) - 1)
	if parent != NoHandle {
		p := &t.nodes[parent]
		p.children = append(p.children, h)
	}
	return h
}

// Root returns the tree's root handle.
func (t *Tree) Root() Handle { return t.root }

// AddChild appends a new child element named name under parent and returns
// its handle.
func (t *Tree) AddChild(parent Handle, name string) Handle {
	return t.newNode(name, parent)
}

// SetAttr sets (or overwrites) an attribute on h.
func (t *Tree) SetAttr(h Handle, name, value string) {
	n := &t.nodes[h]
	for i := range n.attrs {
		if n.attrs[i].name == name {
			n.attrs[i].value = value
			return
		}
	}
	n.attrs = append(n.attrs, attr{name: name, value: value})
}

// AppendCData appends character data to h's own text content.
func (t *Tree) AppendCData(h Handle, s string) {
	t.nodes[h].cdata.WriteString(s)
}

// Name returns the element name ("prefix:local" or "local") of h.
func (t *Tree) Name(h Handle) string { return t.nodes[h].name }

// Attr returns the value of attribute name on h, and whether it was present.
func (t *Tree) Attr(h Handle, name string) (string, bool) {
	for _, a := range t.nodes[h].attrs {
		if a.name == name {
			return a.value, true
		}
	}
	return "", false
}

// CData returns h's own accumulated character data (not descendants').
func (t *Tree) CData(h Handle) string { return t.nodes[h].cdata.String() }

// Parent returns h's parent, or NoHandle for the root.
func (t *Tree) Parent(h Handle) Handle { return t.nodes[h].parent }

// Children returns h's visible (non-hidden) children in document order.
func (t *Tree) Children(h Handle) []Handle {
	all := t.nodes[h].children
	out := make([]Handle, 0, len(all))
	for _, c := range all {
		if !t.nodes[c].hidden {
			out = append(out, c)
		}
	}
	return out
}

// Hide tombstones h and its subtree: it is skipped by Children/Query but the
// arena slot is not reclaimed, since the whole tree is discarded together.
func (t *Tree) Hide(h Handle) {
	t.nodes[h].hidden = true
}

// Query evaluates a small path expression against h and returns the first
// matching descendant handle, or NoHandle. Supported forms, applied
// left-to-right, each step matching against cur's immediate children:
//
//	a/b/c          descend through named children
//	?attr          first child carrying attribute "attr", any value
//	?attr=value    first child carrying attribute "attr" equal to "value"
//	=cdata         first child whose own character data equals "cdata"
//
// Query is intentionally small: it exists to express "message/body",
// "iq/query/item", "item?affiliation=owner", etc. without hand-written
// loops at every call site, not to be a general XPath implementation.
func (t *Tree) Query(h Handle, path string) Handle {
	if path == "" {
		return h
	}
	parts := strings.Split(path, "/")
	cur := h
	for _, p := range parts {
		if p == "" {
			continue
		}
		next := NoHandle
		switch {
		case strings.HasPrefix(p, "?"):
			attrName, attrValue, hasValue := strings.Cut(p[1:], "=")
			for _, c := range t.Children(cur) {
				if v, ok := t.Attr(c, attrName); ok && (!hasValue || v == attrValue) {
					next = c
					break
				}
			}
		case strings.HasPrefix(p, "="):
			want := p[1:]
			for _, c := range t.Children(cur) {
				if t.CData(c) == want {
					next = c
					break
				}
			}
		default:
			for _, c := range t.Children(cur) {
				if t.Name(c) == p {
					next = c
					break
				}
			}
		}
		if next == NoHandle {
			return NoHandle
		}
		cur = next
	}
	return cur
}

// QueryAttr evaluates path (a node path ending in "?attrname") and returns
// the named attribute's value from the resolved node; a path without '?'
// reports false.
func (t *Tree) QueryAttr(h Handle, path string) (string, bool) {
	nodePath, attrName, ok := strings.Cut(path, "?")
	if !ok {
		return "", false
	}
	n := t.Query(h, nodePath)
	if n == NoHandle {
		return "", false
	}
	return t.Attr(n, attrName)
}

// QueryCData evaluates path as a node path and returns that node's own
// character data.
func (t *Tree) QueryCData(h Handle, path string) (string, bool) {
	n := t.Query(h, path)
	if n == NoHandle {
		return "", false
	}
	return t.CData(n), true
}

// Walk visits h and every visible descendant in document order.
func (t *Tree) Walk(h Handle, fn func(Handle)) {
	fn(h)
	for _, c := range t.Children(h) {
		t.Walk(c, fn)
	}
}

// EscapeText replaces & ' " < > with their XML entities.
func EscapeText(s string) string {
	return xmlEscaper.Replace(s)
}

// UnescapeText reverses EscapeText. Only the five entities EscapeText
// produces are recognized; anything else passes through unchanged.
func UnescapeText(s string) string {
	return xmlUnescaper.Replace(s)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&apos;", `"`, "&quot;",
)

var xmlUnescaper = strings.NewReplacer(
	"&amp;", "&", "&lt;", "<", "&gt;", ">", "&apos;", "'", "&quot;", `"`,
)

// Serialize renders h and its visible subtree as an XML fragment. Attribute
// order follows insertion order; character data precedes child elements,
// matching how AppendCData accumulates a node's own text.
func (t *Tree) Serialize(h Handle) string {
	var sb strings.Builder
	t.serialize(h, &sb)
	return sb.String()
}

func (t *Tree) serialize(h Handle, sb *strings.Builder) {
	n := &t.nodes[h]
	sb.WriteByte('<')
	sb.WriteString(n.name)
	for _, a := range n.attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.name)
		sb.WriteString(`="`)
		sb.WriteString(EscapeText(a.value))
		sb.WriteString(`"`)
	}
	cdata := n.cdata.String()
	children := t.Children(h)
	if cdata == "" && len(children) == 0 {
		sb.WriteString("/>")
		return
	}
	sb.WriteByte('>')
	sb.WriteString(EscapeText(cdata))
	for _, c := range children {
		t.serialize(c, sb)
	}
	sb.WriteString("</")
	sb.WriteString(n.name)
	sb.WriteByte('>')
}

// Dup deep-copies h's visible subtree into a fresh Tree rooted at the copy.
func (t *Tree) Dup(h Handle) *Tree {
	out := New(t.Name(h))
	t.dupInto(h, out, out.Root())
	return out
}

func (t *Tree) dupInto(src Handle, dst *Tree, dstH Handle) {
	n := &t.nodes[src]
	for _, a := range n.attrs {
		dst.SetAttr(dstH, a.name, a.value)
	}
	if cd := n.cdata.String(); cd != "" {
		dst.AppendCData(dstH, cd)
	}
	for _, c := range t.Children(src) {
		ch := dst.AddChild(dstH, t.nodes[c].name)
		t.dupInto(c, dst, ch)
	}
}

// Equal reports structural equality of two subtrees: same names, same
// attributes in the same order, same character data, same visible children
// in the same order. Hidden nodes are ignored on both sides.
func Equal(a *Tree, ah Handle, b *Tree, bh Handle) bool {
	an, bn := &a.nodes[ah], &b.nodes[bh]
	if an.name != bn.name || an.cdata.String() != bn.cdata.String() {
		return false
	}
	if len(an.attrs) != len(bn.attrs) {
		return false
	}
	for i := range an.attrs {
		if an.attrs[i] != bn.attrs[i] {
			return false
		}
	}
	ac, bc := a.Children(ah), b.Children(bh)
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !Equal(a, ac[i], b, bc[i]) {
			return false
		}
	}
	return true
}
