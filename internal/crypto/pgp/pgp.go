// Package pgp is the OpenPGP hook point: key bookkeeping and pass-through
// Encrypt/Decrypt calls that a real OpenPGP implementation (e.g.
// golang.org/x/crypto/openpgp) would be wired behind. No key material or
// cipher code lives here.
package pgp

import (
	"errors"
	"sync"
)

// KeyRef identifies a peer's PGP key without holding its material.
type KeyRef struct {
	KeyID       string
	Fingerprint string
	Trusted     bool
}

// Engine is the interface a real OpenPGP implementation plugs in through.
type Engine interface {
	Encrypt(keyID, plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Sign(ownKeyID, message string) (string, error)
	Verify(keyID, message, signature string) (bool, error)
}

// Hook tracks per-bare-JID key references and the own key id, deferring to
// an attached Engine for any actual cryptography. It does not hold the
// per-JID force/disable prefs; those live in internal/settings.
type Hook struct {
	mu       sync.RWMutex
	keys     map[string]*KeyRef // bare JID -> key
	ownKeyID string
	engine   Engine
}

func New() *Hook {
	return &Hook{keys: make(map[string]*KeyRef)}
}

func (h *Hook) SetEngine(e Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine = e
}

func (h *Hook) SetOwnKey(keyID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ownKeyID = keyID
}

func (h *Hook) AddKey(bareJID string, k *KeyRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keys[bareJID] = k
}

func (h *Hook) Key(bareJID string) *KeyRef {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.keys[bareJID]
}

func (h *Hook) TrustKey(bareJID string, trusted bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := h.keys[bareJID]
	if k == nil {
		return errors.New("pgp: no key for jid")
	}
	k.Trusted = trusted
	return nil
}

// Encrypt encrypts for bareJID when both a key and an engine are available;
// otherwise it is a pass-through, matching the hook-point contract.
func (h *Hook) Encrypt(bareJID, plaintext string) (string, error) {
	h.mu.RLock()
	k, engine := h.keys[bareJID], h.engine
	h.mu.RUnlock()
	if k == nil || engine == nil {
		return plaintext, nil
	}
	return engine.Encrypt(k.KeyID, plaintext)
}

func (h *Hook) Decrypt(ciphertext string) (string, error) {
	h.mu.RLock()
	engine := h.engine
	h.mu.RUnlock()
	if engine == nil {
		return ciphertext, nil
	}
	return engine.Decrypt(ciphertext)
}
