package settings

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// persisted is the on-disk shape of the four registries.
type persisted struct {
	Options     map[string]string     `toml:"options"`
	Aliases     map[string]string     `toml:"aliases"`
	KeyBindings map[string]string     `toml:"keybindings"`
	CryptoPrefs map[string]CryptoPref `toml:"crypto"`
}

// Save writes all four registries to path as TOML. The file is created
// 0600: crypto prefs name key ids and per-JID policies that should not be
// world-readable.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	p := persisted{
		Options:     make(map[string]string, len(s.options)),
		Aliases:     make(map[string]string, len(s.aliases)),
		KeyBindings: make(map[string]string, len(s.keybindings)),
		CryptoPrefs: make(map[string]CryptoPref, len(s.cryptoPrefs)),
	}
	for k, v := range s.options {
		p.Options[k] = v
	}
	for k, v := range s.aliases {
		p.Aliases[k] = v
	}
	for k, v := range s.keybindings {
		p.KeyBindings[k] = v
	}
	for k, v := range s.cryptoPrefs {
		p.CryptoPrefs[k] = v
	}
	s.mu.RUnlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("settings: save %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("settings: encode %s: %w", path, err)
	}
	return nil
}

// Load merges registries from path into the store. Every loaded value goes
// through Set/SetCryptoPref, so a persisted value never bypasses a guard
// registered before Load runs. A missing file is not an error.
func (s *Store) Load(path string) error {
	var p persisted
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("settings: load %s: %w", path, err)
	}
	for k, v := range p.Options {
		s.Set(TypeOption, k, v)
	}
	for k, v := range p.Aliases {
		s.Set(TypeAlias, k, v)
	}
	for k, v := range p.KeyBindings {
		s.Set(TypeKeyBinding, k, v)
	}
	for k, v := range p.CryptoPrefs {
		s.SetCryptoPref(k, v)
	}
	return nil
}
