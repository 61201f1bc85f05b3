// Package settings implements the typed key -> value registries: options,
// aliases, key bindings, and per-JID crypto preferences. A registry key may
// carry a guard callback invoked before every write, free to substitute a
// different value or refuse the write outright. Persisted alongside
// internal/config's BurntSushi/toml usage.
package settings

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Type selects one of the three string registries (crypto prefs have their
// own typed methods).
type Type int

const (
	TypeOption Type = iota
	TypeAlias
	TypeKeyBinding
)

// Guard runs before a write to a string registry (options, aliases, key
// bindings). It may return a substitute value, or veto=true to refuse the
// write entirely (the prior value, if any, is left in place).
type Guard func(key, value string) (newValue string, veto bool)

// CryptoPref is one JID's crypto preferences: PGP key id, PGP disabled
// and force flags, and a per-JID OTR policy override.
type CryptoPref struct {
	PGPKeyID    string
	PGPDisabled bool
	PGPForce    bool
	OTRPolicy   string // e.g. "", "manual", "opportunistic", "always"
}

// CryptoGuard runs before a write to the crypto-pref registry, analogous to
// Guard but typed.
type CryptoGuard func(bareJID string, pref CryptoPref) (newPref CryptoPref, veto bool)

// Store holds all four registries for one running session. Keys are
// lower-cased on every operation.
type Store struct {
	mu sync.RWMutex

	options     map[string]string
	aliases     map[string]string
	keybindings map[string]string
	cryptoPrefs map[string]CryptoPref

	guards       map[Type]map[string]Guard
	cryptoGuards map[string]CryptoGuard
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		options:      make(map[string]string),
		aliases:      make(map[string]string),
		keybindings:  make(map[string]string),
		cryptoPrefs:  make(map[string]CryptoPref),
		guards:       make(map[Type]map[string]Guard),
		cryptoGuards: make(map[string]CryptoGuard),
	}
}

func (s *Store) registryFor(t Type) map[string]string {
	switch t {
	case TypeAlias:
		return s.aliases
	case TypeKeyBinding:
		return s.keybindings
	default:
		return s.options
	}
}

// SetGuard installs (or replaces) the guard for one key of one registry
// type. A nil guard removes it.
func (s *Store) SetGuard(t Type, key string, g Guard) {
	key = strings.ToLower(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.guards[t]
	if !ok {
		m = make(map[string]Guard)
		s.guards[t] = m
	}
	if g == nil {
		delete(m, key)
		return
	}
	m[key] = g
}

// SetCryptoGuard installs the guard run before every crypto-pref write for
// bareJID ("" applies to every JID that has no JID-specific guard).
func (s *Store) SetCryptoGuard(bareJID string, g CryptoGuard) {
	bareJID = strings.ToLower(bareJID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if g == nil {
		delete(s.cryptoGuards, bareJID)
		return
	}
	s.cryptoGuards[bareJID] = g
}

// Set writes key=value into registry t, running the key's guard first; it
// reports whether the write took effect (false if the guard vetoed it).
func (s *Store) Set(t Type, key, value string) bool {
	key = strings.ToLower(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.guards[t][key]; ok {
		newValue, veto := g(key, value)
		if veto {
			return false
		}
		value = newValue
	}
	s.registryFor(t)[key] = value
	return true
}

// Del removes key from registry t.
func (s *Store) Del(t Type, key string) {
	key = strings.ToLower(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registryFor(t), key)
}

// Get returns key's value in registry t and whether it was present.
func (s *Store) Get(t Type, key string) (string, bool) {
	key = strings.ToLower(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.registryFor(t)[key]
	return v, ok
}

// GetInt parses key's value in registry t as a base-10 integer, returning
// def if the key is absent or not a valid integer.
func (s *Store) GetInt(t Type, key string, def int) int {
	v, ok := s.Get(t, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Foreach calls fn for every key in registry t, in lower-case key order,
// passing param through unchanged.
func (s *Store) Foreach(t Type, fn func(key, value string, param any), param any) {
	s.mu.RLock()
	reg := s.registryFor(t)
	keys := make([]string, 0, len(reg))
	for k := range reg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snapshot := make(map[string]string, len(reg))
	for k, v := range reg {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	for _, k := range keys {
		fn(k, snapshot[k], param)
	}
}

// SetCryptoPref writes bareJID's crypto preferences, running its guard (or
// the "" catch-all guard) first; reports whether the write took effect.
func (s *Store) SetCryptoPref(bareJID string, pref CryptoPref) bool {
	bareJID = strings.ToLower(bareJID)
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.cryptoGuards[bareJID]
	if !ok {
		g, ok = s.cryptoGuards[""]
	}
	if ok {
		newPref, veto := g(bareJID, pref)
		if veto {
			return false
		}
		pref = newPref
	}
	s.cryptoPrefs[bareJID] = pref
	return true
}

// CryptoPrefFor returns bareJID's crypto preferences, or the zero value if
// none have been set.
func (s *Store) CryptoPrefFor(bareJID string) CryptoPref {
	bareJID = strings.ToLower(bareJID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cryptoPrefs[bareJID]
}

// DelCryptoPref removes bareJID's crypto preferences.
func (s *Store) DelCryptoPref(bareJID string) {
	bareJID = strings.ToLower(bareJID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cryptoPrefs, bareJID)
}
