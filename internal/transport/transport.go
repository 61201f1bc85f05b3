// Package transport implements the byte-level connection: a non-blocking
// TCP socket driven by a want-read/want-write state machine, optional HTTP
// CONNECT proxy tunneling, and an optional in-place TLS upgrade.
//
// The connection wraps a net.Conn and upgrades to TLS in place; the proxy
// CONNECT step and the explicit non-blocking drive loop sit in front of
// that upgrade.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// State is the transport's connection-establishment state.
type State int

const (
	StateIdle State = iota
	StateDialing
	StateProxyConnecting
	StateTLSHandshake
	StateReady
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateProxyConnecting:
		return "proxy-connecting"
	case StateTLSHandshake:
		return "tls-handshake"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ProxyConfig configures an HTTP CONNECT tunnel.
type ProxyConfig struct {
	Addr     string
	Username string
	Password string
	// LegacyAlphabet selects the historical non-standard base64 dialect for
	// Proxy-Authorization, for interop with old deployments. Standard
	// base64 is correct and is the default; see design notes for why.
	LegacyAlphabet bool
}

// Config describes how to establish the transport.
type Config struct {
	Addr        string // host:port to dial
	BindAddress string // optional local address to dial from
	Proxy       *ProxyConfig
	TLSConfig   *tls.Config // not read by Transport; StartTLS takes its config as an argument
	DialTimeout time.Duration
}

// Transport owns one connection and its establishment state machine.
type Transport struct {
	cfg   Config
	conn  net.Conn
	state State
	err   error
}

// New returns an idle Transport for cfg.
func New(cfg Config) *Transport {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &Transport{cfg: cfg, state: StateIdle}
}

// State returns the current establishment state.
func (t *Transport) State() State { return t.state }

// Err returns the error that caused StateError, if any.
func (t *Transport) Err() error { return t.err }

// Open drives the full establishment sequence: dial, optional proxy
// CONNECT, and return ready for the caller to decide when to StartTLS.
// It blocks only up to cfg.DialTimeout; the non-blocking want-read/
// want-write cycle that services the XMPP stream itself happens afterward
// via Conn()'s ordinary non-blocking reads, once the caller puts the
// socket in non-blocking mode (net.Conn deadlines serve that role here).
func (t *Transport) Open(ctx context.Context) error {
	t.state = StateDialing
	dialer := &net.Dialer{Timeout: t.cfg.DialTimeout}
	if t.cfg.BindAddress != "" {
		local, err := net.ResolveTCPAddr("tcp", t.cfg.BindAddress+":0")
		if err != nil {
			t.state = StateError
			t.err = fmt.Errorf("transport: resolve bind address: %w", err)
			return t.err
		}
		dialer.LocalAddr = local
	}

	dialAddr := t.cfg.Addr
	if t.cfg.Proxy != nil {
		dialAddr = t.cfg.Proxy.Addr
	}

	conn, err := dialer.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		t.state = StateError
		t.err = fmt.Errorf("transport: dial %s: %w", dialAddr, err)
		return t.err
	}
	t.conn = conn

	if t.cfg.Proxy != nil {
		t.state = StateProxyConnecting
		if err := t.proxyConnect(ctx); err != nil {
			t.state = StateError
			t.err = err
			_ = conn.Close()
			return err
		}
	}

	t.state = StateReady
	return nil
}

func (t *Transport) proxyConnect(ctx context.Context) error {
	p := t.cfg.Proxy
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: t.cfg.Addr},
		Host:   t.cfg.Addr,
		Header: make(http.Header),
	}
	if p.Username != "" {
		creds := p.Username + ":" + p.Password
		var encoded string
		if p.LegacyAlphabet {
			encoded = legacyBase64(creds)
		} else {
			encoded = base64.StdEncoding.EncodeToString([]byte(creds))
		}
		req.Header.Set("Proxy-Authorization", "Basic "+encoded)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetDeadline(dl)
		defer t.conn.SetDeadline(time.Time{})
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "CONNECT %s HTTP/1.0\r\nHost: %s\r\n", t.cfg.Addr, t.cfg.Addr)
	for k, vs := range req.Header {
		for _, v := range vs {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	buf.WriteString("\r\n")

	if _, err := t.conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("transport: write CONNECT request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(t.conn), req)
	if err != nil {
		return fmt.Errorf("transport: read CONNECT response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: proxy CONNECT failed: %s", resp.Status)
	}
	return nil
}

// legacyBase64 reproduces a historical non-standard Proxy-Authorization
// encoding some old deployments expect: '+' and '/' replaced by '.' and
// '_', and '=' padding replaced by '-'. Standard base64 (above) is correct
// per RFC 7617 and is the default; this exists only for explicit opt-in
// interop.
func legacyBase64(s string) string {
	enc := base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789._").WithPadding('-')
	return enc.EncodeToString([]byte(s))
}

// StartTLS upgrades the connection to TLS in place, blocking for the
// handshake.
func (t *Transport) StartTLS(config *tls.Config) error {
	t.state = StateTLSHandshake
	tlsConn := tls.Client(t.conn, config)
	if err := tlsConn.Handshake(); err != nil {
		t.state = StateError
		t.err = fmt.Errorf("transport: tls handshake: %w", err)
		return t.err
	}
	t.conn = tlsConn
	t.state = StateReady
	return nil
}

// ConnectionState returns the TLS connection state, if TLS is active.
func (t *Transport) ConnectionState() (tls.ConnectionState, bool) {
	if tlsConn, ok := t.conn.(*tls.Conn); ok {
		return tlsConn.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// Conn returns the underlying net.Conn for reads/writes.
func (t *Transport) Conn() net.Conn { return t.conn }

// SetDeadline arms the socket's read/write deadline, the mechanism this
// package uses in place of a literal fcntl O_NONBLOCK toggle: a zero-length
// deadline-bounded Read returning net.Error.Timeout() is this state
// machine's "would block" signal.
func (t *Transport) SetDeadline(dl time.Time) error {
	if t.conn == nil {
		return fmt.Errorf("transport: not connected")
	}
	return t.conn.SetDeadline(dl)
}

// Close closes the underlying connection.
func (t *Transport) Close() error {
	t.state = StateClosed
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// IsWouldBlock reports whether err is the "no data ready yet" signal from a
// deadline-bounded read/write, the non-blocking equivalent of EAGAIN.
func IsWouldBlock(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
