package pgp

import "testing"

type fakeEngine struct{}

func (fakeEngine) Encrypt(keyID, plaintext string) (string, error) {
	return "PGP:" + keyID + ":" + plaintext, nil
}

func (fakeEngine) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}

func (fakeEngine) Sign(ownKeyID, message string) (string, error) { return message, nil }

func (fakeEngine) Verify(keyID, message, signature string) (bool, error) { return true, nil }

func TestPassThroughWithoutKeyOrEngine(t *testing.T) {
	h := New()
	got, err := h.Encrypt("dave@example.com", "hello")
	if err != nil || got != "hello" {
		t.Fatalf("Encrypt() = %q, %v; want pass-through with no key on file", got, err)
	}
}

func TestEncryptUsesEngineWhenKeyKnown(t *testing.T) {
	h := New()
	h.SetEngine(fakeEngine{})
	h.AddKey("dave@example.com", &KeyRef{KeyID: "0xABCD"})

	got, err := h.Encrypt("dave@example.com", "hello")
	if err != nil || got != "PGP:0xABCD:hello" {
		t.Fatalf("Encrypt() = %q, %v", got, err)
	}
}

func TestTrustKeyRequiresExistingKey(t *testing.T) {
	h := New()
	if err := h.TrustKey("nobody@example.com", true); err == nil {
		t.Fatal("TrustKey() on unknown jid should error")
	}
	h.AddKey("eve@example.com", &KeyRef{KeyID: "0x1"})
	if err := h.TrustKey("eve@example.com", true); err != nil {
		t.Fatalf("TrustKey() = %v", err)
	}
	if !h.Key("eve@example.com").Trusted {
		t.Fatal("key should be marked trusted")
	}
}
