// Package session drives the XMPP session state machine on top of
// transport and xmlstream: stream open, feature negotiation (SASL when
// offered, legacy XEP-0078 auth otherwise), and handing decoded stanzas off
// to a dispatcher. The resource is sent inside the legacy auth iq; no stream
// restart or resource-binding step follows SASL success.
package session

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"sync"
	"time"

	"mellium.im/sasl"

	"github.com/tvardek/mcjab/internal/jid"
	"github.com/tvardek/mcjab/internal/stanza"
	"github.com/tvardek/mcjab/internal/transport"
	"github.com/tvardek/mcjab/internal/xmlstream"
)

// State is the session's lifecycle state.
type State int

const (
	StateOff State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateOn
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateOn:
		return "on"
	default:
		return "unknown"
	}
}

// AuthMethod selects which auth path the controller takes once connected.
type AuthMethod int

const (
	AuthAuto AuthMethod = iota // prefer SASL if offered, else legacy
	AuthLegacyOnly
	AuthSASLOnly
)

// Config configures a Session.
type Config struct {
	JID        jid.JID
	Password   string
	Transport  transport.Config
	TLS        *tls.Config
	AuthMethod AuthMethod
}

// Handler receives dispatched stanzas and lifecycle notifications. All
// methods are called from the session's single driving goroutine.
type Handler interface {
	OnStanza(kind stanza.Kind, tree *stanza.Tree)
	OnStateChange(old, new State)
	OnError(err error)
}

// Session owns one connection's lifecycle.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	tr       *transport.Transport
	parser   *xmlstream.Parser
	state    State
	handler  Handler
	streamID string
	idSeq    uint64
	authID   string

	autoAway *autoAwayTimer
}

// New returns a Session in StateOff.
func New(cfg Config, handler Handler) *Session {
	return &Session{cfg: cfg, handler: handler, state: StateOff, parser: xmlstream.New()}
}

// AutoAwayScheduler abstracts time.AfterFunc so the auto-away timer can be
// driven deterministically in tests, mirroring internal/lineedit.Scheduler.
type AutoAwayScheduler interface {
	After(d time.Duration, f func()) (cancel func())
}

type realAutoAwayScheduler struct{}

func (realAutoAwayScheduler) After(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

type autoAwayTimer struct {
	sched    AutoAwayScheduler
	after    time.Duration
	onAway   func()
	cancelFn func()
}

// EnableAutoAway installs the auto-presence-away timer without arming it;
// each NotifyActivity call (re)arms it, and if no further call comes within
// `after`, onAway fires once. It never polls. sched may be nil to use real
// wall-clock timers.
func (s *Session) EnableAutoAway(after time.Duration, sched AutoAwayScheduler, onAway func()) {
	if sched == nil {
		sched = realAutoAwayScheduler{}
	}
	s.mu.Lock()
	s.autoAway = &autoAwayTimer{sched: sched, after: after, onAway: onAway}
	s.mu.Unlock()
}

// NotifyActivity rearms the auto-away timer from user activity (e.g. a
// lineedit keystroke), independent of the lineedit package's own
// chat-state (composing/paused) timer — the two track different things:
// chat-state is per-conversation, auto-away is the account's own presence.
func (s *Session) NotifyActivity() {
	s.mu.Lock()
	t := s.autoAway
	s.mu.Unlock()
	if t == nil {
		return
	}
	if t.cancelFn != nil {
		t.cancelFn()
	}
	t.cancelFn = t.sched.After(t.after, t.onAway)
}

// DisableAutoAway cancels any pending timer and detaches auto-away.
func (s *Session) DisableAutoAway() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autoAway != nil && s.autoAway.cancelFn != nil {
		s.autoAway.cancelFn()
	}
	s.autoAway = nil
}

func (s *Session) setState(new State) {
	old := s.state
	s.state = new
	if s.handler != nil && old != new {
		s.handler.OnStateChange(old, new)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the transport (running the TLS handshake first when
// cfg.TLS is set) and writes the opening stream header. It does not read;
// the caller drives reads through Pump, where <stream:features> and
// authentication are handled.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setState(StateConnecting)
	s.tr = transport.New(s.cfg.Transport)
	if err := s.tr.Open(ctx); err != nil {
		s.setState(StateOff)
		return err
	}
	if s.cfg.TLS != nil {
		if err := s.tr.StartTLS(s.cfg.TLS); err != nil {
			s.setState(StateOff)
			return err
		}
	}
	if err := s.writeStreamHeader(); err != nil {
		s.setState(StateOff)
		return err
	}
	s.setState(StateConnected)
	return nil
}

func (s *Session) writeStreamHeader() error {
	hdr := fmt.Sprintf(
		"<?xml version='1.0'?><stream:stream to='%s' xmlns='jabber:client' "+
			"xmlns:stream='http://etherx.jabber.org/streams' version='1.0'>",
		s.cfg.JID.Domainpart(),
	)
	_, err := s.tr.Conn().Write([]byte(hdr))
	return err
}

// Pump reads one chunk from the transport (non-blocking; returns nil when
// the read reports would-block) and feeds it to the
// parser, dispatching any resulting events. Callers drive this from their
// own event loop (e.g. a bubbletea Cmd blocked on a select, or a plain
// for-loop goroutine) rather than this package spawning its own.
func (s *Session) Pump() error {
	buf := make([]byte, 32*1024)
	n, err := s.tr.Conn().Read(buf)
	if err != nil {
		if transport.IsWouldBlock(err) {
			return nil
		}
		return err
	}
	return s.parser.Feed(buf[:n], s.onParserEvent)
}

func (s *Session) onParserEvent(ev xmlstream.Event, tree *stanza.Tree, start xml.StartElement) {
	switch ev {
	case xmlstream.EventStreamOpen:
		for _, a := range start.Attr {
			if a.Name.Local == "id" {
				s.streamID = a.Value
				break
			}
		}
	case xmlstream.EventStanza:
		s.dispatch(tree)
	case xmlstream.EventStreamClose:
		s.setState(StateOff)
	}
}

func (s *Session) dispatch(tree *stanza.Tree) {
	kind := stanza.Classify(tree)
	root := tree.Root()
	name := tree.Name(root)

	switch name {
	case "features", "stream:features":
		s.handleFeatures(tree)
		return
	case "success":
		// SASL negotiation succeeded (urn:ietf:params:xml:ns:xmpp-sasl).
		s.setState(StateOn)
		return
	case "failure":
		if s.handler != nil {
			s.handler.OnError(fmt.Errorf("session: sasl authentication failed"))
		}
		s.setState(StateOff)
		return
	}

	if kind == stanza.KindIQ {
		if id, _ := tree.Attr(root, "id"); s.authID != "" && id == s.authID {
			typeAttr, _ := tree.Attr(root, "type")
			switch stanza.IQType(typeAttr) {
			case stanza.IQResult:
				// The jabber:iq:auth iq-set this legacy auth path sent
				// was accepted.
				s.setState(StateOn)
			case stanza.IQError:
				if s.handler != nil {
					s.handler.OnError(fmt.Errorf("session: legacy auth rejected"))
				}
				s.setState(StateOff)
			}
			return
		}
	}

	if s.handler != nil {
		s.handler.OnStanza(kind, tree)
	}
}

func (s *Session) handleFeatures(tree *stanza.Tree) {
	s.setState(StateAuthenticating)
	if s.cfg.AuthMethod != AuthLegacyOnly && tree.Query(tree.Root(), "mechanisms") != stanza.NoHandle {
		if err := s.authSASL(); err != nil && s.handler != nil {
			s.handler.OnError(fmt.Errorf("session: sasl auth: %w", err))
		}
		return
	}
	if s.cfg.AuthMethod == AuthSASLOnly {
		if s.handler != nil {
			s.handler.OnError(fmt.Errorf("session: server offered no SASL mechanisms"))
		}
		return
	}
	if err := s.authLegacy(); err != nil && s.handler != nil {
		s.handler.OnError(fmt.Errorf("session: legacy auth: %w", err))
	}
}

// authSASL starts SASL with mellium.im/sasl's SCRAM-SHA-1 client and sends
// the initial <auth/> element. PLAIN is never used, and server challenges
// are not answered here.
func (s *Session) authSASL() error {
	client := sasl.NewClient(sasl.ScramSha1,
		sasl.Credentials(func() (Username, Password, Identity []byte) {
			return []byte(s.cfg.JID.Localpart()), []byte(s.cfg.Password), nil
		}))
	_, resp, err := client.Step(nil)
	if err != nil {
		return fmt.Errorf("sasl step: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(resp)
	_, err = fmt.Fprintf(s.tr.Conn(), "<auth xmlns='urn:ietf:params:xml:ns:xmpp-sasl' mechanism='%s'>%s</auth>",
		sasl.ScramSha1.Name, payload)
	return err
}

// authLegacy implements XEP-0078 plain/digest auth: digest is
// SHA1(streamid + password) when a stream id is known, falling back to the
// plaintext password field otherwise.
func (s *Session) authLegacy() error {
	local := s.cfg.JID.Localpart()
	s.authID = s.NextID()
	var secret string
	if s.streamID != "" {
		sum := sha1.Sum([]byte(s.streamID + s.cfg.Password))
		secret = fmt.Sprintf("<digest>%s</digest>", hex.EncodeToString(sum[:]))
	} else {
		secret = fmt.Sprintf("<password>%s</password>", stanza.EscapeText(s.cfg.Password))
	}
	iq := fmt.Sprintf(
		"<iq type='set' id='%s'><query xmlns='jabber:iq:auth'><username>%s</username>"+
			"%s<resource>%s</resource></query></iq>",
		s.authID, local, secret, s.cfg.JID.Resourcepart(),
	)
	_, err := s.tr.Conn().Write([]byte(iq))
	return err
}

// Register sends a jabber:iq:register iq-set creating an account for
// user/password; resource rides along the way legacy servers expect.
func (s *Session) Register(user, password, resource string) (id string, err error) {
	id = s.NextID()
	iq := fmt.Sprintf(
		"<iq type='set' id='%s'><query xmlns='jabber:iq:register'><username>%s</username>"+
			"<password>%s</password><resource>%s</resource></query></iq>",
		id, stanza.EscapeText(user), stanza.EscapeText(password), stanza.EscapeText(resource),
	)
	_, err = s.tr.Conn().Write([]byte(iq))
	return id, err
}

// NextID returns a fresh stanza id for iq correlation. Ids are unique for
// the life of the Session.
func (s *Session) NextID() string {
	s.idSeq++
	return fmt.Sprintf("mcjab-%d", s.idSeq)
}

// Send writes a raw stanza (already serialized) to the stream.
func (s *Session) Send(raw string) error {
	_, err := s.tr.Conn().Write([]byte(raw))
	return err
}

// SendStanza serializes tree and writes it to the stream.
func (s *Session) SendStanza(tree *stanza.Tree) error {
	return s.Send(tree.Serialize(tree.Root()))
}

// Close sends the closing stream tag and closes the transport.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return nil
	}
	_, _ = s.tr.Conn().Write([]byte("</stream:stream>"))
	s.setState(StateOff)
	return s.tr.Close()
}
