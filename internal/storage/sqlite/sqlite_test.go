package sqlite

import (
	"testing"
)

func TestUpsertListDeleteContactRoundTrip(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer db.Close()

	if err := db.UpsertContact("romeo@example.com", "Romeo", "both", []string{"friends", "drama"}); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	if err := db.UpsertContact("juliet@example.com", "Juliet", "both", nil); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	contacts, err := db.ListContacts()
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("len(contacts) = %d, want 2", len(contacts))
	}
	if contacts[0].Name != "Juliet" || contacts[1].Name != "Romeo" {
		t.Fatalf("expected name-sorted order, got %+v", contacts)
	}
	if len(contacts[1].Groups) != 2 || contacts[1].Groups[0] != "friends" {
		t.Fatalf("unexpected groups: %+v", contacts[1].Groups)
	}

	if err := db.DeleteContact("juliet@example.com"); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}
	contacts, err = db.ListContacts()
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0].BareJID != "romeo@example.com" {
		t.Fatalf("unexpected contacts after delete: %+v", contacts)
	}
}

func TestUpsertContactOverwritesExisting(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer db.Close()

	db.UpsertContact("romeo@example.com", "Romeo", "to", []string{"friends"})
	db.UpsertContact("romeo@example.com", "Romeo M.", "both", []string{"family"})

	contacts, err := db.ListContacts()
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("len(contacts) = %d, want 1", len(contacts))
	}
	if contacts[0].Name != "Romeo M." || contacts[0].Subscription != "both" {
		t.Fatalf("overwrite did not take effect: %+v", contacts[0])
	}
	if len(contacts[0].Groups) != 1 || contacts[0].Groups[0] != "family" {
		t.Fatalf("unexpected groups after overwrite: %+v", contacts[0].Groups)
	}
}

func TestAppStateGetSetRoundTrip(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer db.Close()

	if v, err := db.GetAppState("missing"); err != nil || v != "" {
		t.Fatalf("GetAppState(missing) = %q, %v", v, err)
	}
	if err := db.SetAppState("color_nick", "blue"); err != nil {
		t.Fatalf("SetAppState: %v", err)
	}
	v, err := db.GetAppState("color_nick")
	if err != nil || v != "blue" {
		t.Fatalf("GetAppState = %q, %v; want blue", v, err)
	}
}
