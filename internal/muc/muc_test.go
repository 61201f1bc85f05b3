package muc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/tvardek/mcjab/internal/jid"
)

type recorder struct {
	joined      bool
	removed     LeaveReason
	removedSeen bool
	occJoin     []string
	occLeave    []string
	nickChg     [2]string
	invited     bool
	whoisNick   string
}

func (r *recorder) OnSelfJoined(jid.JID, string) { r.joined = true }
func (r *recorder) OnSelfRemoved(_ jid.JID, lr LeaveReason) {
	r.removed, r.removedSeen = lr, true
}
func (r *recorder) OnNickChanged(_ jid.JID, o, n string) { r.nickChg = [2]string{o, n} }
func (r *recorder) OnOccupantJoined(_ jid.JID, occ Occupant) {
	r.occJoin = append(r.occJoin, occ.Nick)
}
func (r *recorder) OnOccupantLeft(_ jid.JID, nick string) { r.occLeave = append(r.occLeave, nick) }
func (r *recorder) OnSubjectChanged(jid.JID, string, string) {}
func (r *recorder) OnInvitation(jid.JID, jid.JID, string, string) { r.invited = true }
func (r *recorder) OnWhois(_ jid.JID, occ Occupant) { r.whoisNick = occ.Nick }

type fakeSender struct{ sent []string }

func (f *fakeSender) Send(raw string) error {
	f.sent = append(f.sent, raw)
	return nil
}

var room = jid.MustParse("chat@conference.example.com")

func TestSelfJoinFiresOnSelfJoined(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	m.Join(room, "me", "")
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", StatusCodes: []int{110, 201}})
	if !rec.joined {
		t.Fatal("expected OnSelfJoined")
	}
	if !m.Get(room).Joined {
		t.Fatal("expected room marked joined")
	}
}

func TestOccupantJoinAndLeave(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	m.Join(room, "me", "")
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", StatusCodes: []int{110}})
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "alice"})
	if len(rec.occJoin) != 1 || rec.occJoin[0] != "alice" {
		t.Fatalf("occJoin = %v", rec.occJoin)
	}
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "alice", Unavailable: true})
	if len(rec.occLeave) != 1 || rec.occLeave[0] != "alice" {
		t.Fatalf("occLeave = %v", rec.occLeave)
	}
}

func TestKickedClassifiesLeaveReasonAndClearsRoomState(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	m.Join(room, "me", "secret")
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", StatusCodes: []int{110}})
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "alice"})
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", Unavailable: true, StatusCodes: []int{110, 307}})
	if rec.removed != LeaveKicked {
		t.Fatalf("removed = %v, want LeaveKicked", rec.removed)
	}
	r := m.Get(room)
	if r == nil {
		t.Fatal("room entry should survive a kick for rejoin")
	}
	if r.Joined || r.Nick != "" || len(r.Occupants) != 0 {
		t.Fatalf("in-room state not cleared: %+v", r)
	}
	if r.Password != "secret" {
		t.Fatal("rejoin password should survive a kick")
	}
}

func TestDestroyedRoomReportsLeaveDestroyed(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	m.Join(room, "me", "")
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", StatusCodes: []int{110}})
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", Unavailable: true, Destroyed: true, Reason: "flooding"})
	if rec.removed != LeaveDestroyed {
		t.Fatalf("removed = %v, want LeaveDestroyed", rec.removed)
	}
	if m.Get(room).Joined {
		t.Fatal("expected not joined after destroy")
	}
}

func TestNickChangeRenamesOccupant(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	m.Join(room, "me", "")
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", StatusCodes: []int{110}})
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "alice"})
	m.ApplyPresence(PresenceUpdate{
		Room: room, Nick: "alice", Unavailable: true,
		StatusCodes: []int{303}, NewNick: "alice2",
	})
	if rec.nickChg != [2]string{"alice", "alice2"} {
		t.Fatalf("nickChg = %v", rec.nickChg)
	}
	r := m.Get(room)
	if _, ok := r.Occupants["alice2"]; !ok {
		t.Fatal("expected renamed occupant under new nick")
	}
}

func TestSelfNickChangeStaysJoined(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	m.Join(room, "me", "")
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", StatusCodes: []int{110}})
	m.ApplyPresence(PresenceUpdate{
		Room: room, Nick: "me", Unavailable: true,
		StatusCodes: []int{110, 303}, NewNick: "me2",
	})
	if rec.nickChg != [2]string{"me", "me2"} {
		t.Fatalf("nickChg = %v, want [me me2]", rec.nickChg)
	}
	if rec.removedSeen {
		t.Fatal("self rename must not fire OnSelfRemoved")
	}
	r := m.Get(room)
	if !r.Joined || r.Nick != "me2" {
		t.Fatalf("after self rename: Joined=%v Nick=%q, want true/me2", r.Joined, r.Nick)
	}
}

func TestAutoWhoisFiresOnJoinerNotOnSelf(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	m.SetDefaultRoomPolicy(PrintStatusAll, true)
	m.Join(room, "me", "")
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", StatusCodes: []int{110}})
	if rec.whoisNick != "" {
		t.Fatalf("self-join should not trigger whois, got %q", rec.whoisNick)
	}
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "alice"})
	if rec.whoisNick != "alice" {
		t.Fatalf("whoisNick = %q, want alice", rec.whoisNick)
	}
}

func TestAutoWhoisOffDoesNotFire(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	m.Join(room, "me", "")
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", StatusCodes: []int{110}})
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "alice"})
	if rec.whoisNick != "" {
		t.Fatalf("expected no whois with default policy, got %q", rec.whoisNick)
	}
}

type warnRecorder struct{ warnings []string }

func (w *warnRecorder) Warn(format string, args ...interface{}) {
	w.warnings = append(w.warnings, fmt.Sprintf(format, args...))
}

func TestApplyPresenceOnUnknownRoomLogsAndSendsUnavailable(t *testing.T) {
	sender := &fakeSender{}
	logger := &warnRecorder{}
	m := NewManager(nil)
	m.SetSender(sender)
	m.SetLogger(logger)

	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "ghost"})

	if len(logger.warnings) != 1 {
		t.Fatalf("expected one warning logged, got %v", logger.warnings)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], `type="unavailable"`) ||
		!strings.Contains(sender.sent[0], `to="chat@conference.example.com/ghost"`) {
		t.Fatalf("unexpected sent stanzas: %v", sender.sent)
	}
}

func TestSubjectChange(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	m.Join(room, "me", "")
	m.SetSubject(room, "hello", "alice")
	if m.Get(room).Subject != "hello" {
		t.Fatalf("subject = %q", m.Get(room).Subject)
	}
}

func TestAddMessageIncrementsUnread(t *testing.T) {
	m := NewManager(nil)
	m.Join(room, "me", "")
	m.AddMessage(room, Message{From: "alice", Body: "hi"})
	if m.Get(room).Unread != 1 {
		t.Fatalf("unread = %d", m.Get(room).Unread)
	}
	m.MarkRead(room)
	if m.Get(room).Unread != 0 {
		t.Fatal("expected unread reset")
	}
}

func TestJoinSendsPresenceWithPassword(t *testing.T) {
	sender := &fakeSender{}
	m := NewManager(nil)
	m.SetSender(sender)
	m.Join(room, "me", "secret")
	if len(sender.sent) != 1 {
		t.Fatalf("len(sent) = %d, want 1", len(sender.sent))
	}
	got := sender.sent[0]
	if !strings.Contains(got, `to="chat@conference.example.com/me"`) || !strings.Contains(got, "<password>secret</password>") {
		t.Fatalf("unexpected join presence: %s", got)
	}
}

func TestRoomCreatedTriggersUnlock(t *testing.T) {
	sender := &fakeSender{}
	rec := &recorder{}
	m := NewManager(rec)
	m.SetSender(sender)
	m.Join(room, "me", "")
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", StatusCodes: []int{110, 201}})

	var unlockSent bool
	for _, s := range sender.sent {
		if strings.Contains(s, "muc#owner") && strings.Contains(s, `type="submit"`) {
			unlockSent = true
		}
	}
	if !unlockSent {
		t.Fatalf("expected an unlock iq among sent stanzas: %v", sender.sent)
	}
}

func TestKickSendsRoleNoneAdminIQ(t *testing.T) {
	sender := &fakeSender{}
	m := NewManager(nil)
	m.SetSender(sender)
	m.Join(room, "me", "")
	if err := m.Kick(room, "alice", "disruptive"); err != nil {
		t.Fatal(err)
	}
	got := sender.sent[len(sender.sent)-1]
	if !strings.Contains(got, `role="none"`) || !strings.Contains(got, `nick="alice"`) || !strings.Contains(got, "muc#admin") {
		t.Fatalf("unexpected kick iq: %s", got)
	}
}

func TestBanResolvesNickToRealJID(t *testing.T) {
	sender := &fakeSender{}
	m := NewManager(nil)
	m.SetSender(sender)
	m.Join(room, "me", "")
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "me", StatusCodes: []int{110}})
	m.ApplyPresence(PresenceUpdate{Room: room, Nick: "alice", RealJID: "alice@example.com/res"})

	if err := m.Ban(room, "alice", "spam"); err != nil {
		t.Fatal(err)
	}
	got := sender.sent[len(sender.sent)-1]
	if !strings.Contains(got, `jid="alice@example.com"`) || !strings.Contains(got, `affiliation="outcast"`) {
		t.Fatalf("unexpected ban iq: %s", got)
	}
}

func TestInviteSendsMediatedInvitation(t *testing.T) {
	sender := &fakeSender{}
	m := NewManager(nil)
	m.SetSender(sender)
	to := jid.MustParse("alice@example.com")
	if err := m.Invite(room, to, "join us"); err != nil {
		t.Fatal(err)
	}
	got := sender.sent[0]
	if !strings.Contains(got, `<invite to="alice@example.com">`) || !strings.Contains(got, "join us") {
		t.Fatalf("unexpected invite: %s", got)
	}
}

func TestHandleInvitationFiresOnInvitation(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	from := jid.MustParse("bob@example.com")
	m.HandleInvitation(from, room, "come in", "secret")
	if !rec.invited {
		t.Fatal("expected OnInvitation to fire")
	}
}

func TestDefaultNickForPrecedence(t *testing.T) {
	local := jid.MustParse("node@example.com")
	if got := DefaultNickFor("bookmarked", "opt", local); got != "bookmarked" {
		t.Fatalf("got %q, want bookmarked", got)
	}
	if got := DefaultNickFor("", "opt", local); got != "opt" {
		t.Fatalf("got %q, want opt", got)
	}
	if got := DefaultNickFor("", "", local); got != "node" {
		t.Fatalf("got %q, want node", got)
	}
}
