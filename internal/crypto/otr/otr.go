// Package otr is the OTR hook point: this client core does not carry OTR
// cryptographic logic, only the session bookkeeping and pass-through
// Encrypt/Decrypt calls a real OTR engine would be wired into.
package otr

import (
	"sync"
)

// State is where a per-peer OTR conversation currently stands.
type State int

const (
	StatePlaintext State = iota
	StateEncrypted
	StateFinished
)

// Policy mirrors the per-JID OTR override stored in
// github.com/tvardek/mcjab/internal/settings.CryptoPref.OTRPolicy.
type Policy int

const (
	PolicyNever Policy = iota
	PolicyManual
	PolicyOpportunistic
	PolicyAlways
)

func ParsePolicy(s string) Policy {
	switch s {
	case "manual":
		return PolicyManual
	case "opportunistic":
		return PolicyOpportunistic
	case "always":
		return PolicyAlways
	default:
		return PolicyNever
	}
}

type session struct {
	state State
}

// Hook is the OTR hook point: it tracks per-bare-JID session state and
// defers to an external engine (attached via SetEngine) for the actual
// cryptographic work. With no engine attached, Encrypt/Decrypt are
// pass-throughs.
type Hook struct {
	mu       sync.RWMutex
	sessions map[string]*session
	policy   Policy
	engine   Engine
}

// Engine is the interface a real OTR implementation plugs in through.
type Engine interface {
	Encrypt(bareJID, plaintext string) (string, error)
	Decrypt(bareJID, ciphertext string) (string, bool, error)
}

func New(policy Policy) *Hook {
	return &Hook{sessions: make(map[string]*session), policy: policy}
}

// SetEngine attaches the real cryptographic implementation. A nil engine
// (the default) makes every Encrypt/Decrypt call a no-op pass-through.
func (h *Hook) SetEngine(e Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine = e
}

func (h *Hook) SetPolicy(p Policy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policy = p
}

func (h *Hook) Policy() Policy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policy
}

// StartSession records that bareJID has an OTR conversation underway.
func (h *Hook) StartSession(bareJID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[bareJID] = &session{state: StatePlaintext}
}

func (h *Hook) EndSession(bareJID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, bareJID)
}

func (h *Hook) IsEncrypted(bareJID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.sessions[bareJID]
	return s != nil && s.state == StateEncrypted
}

// Encrypt applies the attached engine (if any) per the active policy. With
// PolicyNever or no engine, the plaintext passes through unchanged; the
// engine is called whether or not a session has been started — this is the
// hook point, not an encryption guarantee.
func (h *Hook) Encrypt(bareJID, plaintext string) (string, error) {
	h.mu.RLock()
	policy, engine := h.policy, h.engine
	h.mu.RUnlock()
	if policy == PolicyNever || engine == nil {
		return plaintext, nil
	}
	return engine.Encrypt(bareJID, plaintext)
}

// Decrypt hands ciphertext to the attached engine; ok reports whether the
// message was recognised as OTR traffic at all.
func (h *Hook) Decrypt(bareJID, ciphertext string) (plaintext string, ok bool, err error) {
	h.mu.RLock()
	engine := h.engine
	h.mu.RUnlock()
	if engine == nil {
		return ciphertext, false, nil
	}
	return engine.Decrypt(bareJID, ciphertext)
}
