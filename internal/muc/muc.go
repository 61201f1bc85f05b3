// Package muc implements the XEP-0045 Multi-User Chat state machine: room
// join/leave, occupant roster, and the full <status code='...'/>
// interpretation table (110/201/210/301/303/307/321/322/332) a client must
// react to.
package muc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tvardek/mcjab/internal/jid"
)

// StatusCode is one <status code='N'/> value from XEP-0045 §17.2.
type StatusCode int

const (
	StatusNonAnonymous    StatusCode = 100
	StatusAffiliationChng StatusCode = 101
	StatusConfigChange    StatusCode = 104
	StatusSelfPresence    StatusCode = 110
	StatusLoggingEnabled  StatusCode = 170
	StatusLoggingDisabled StatusCode = 171
	StatusRoomCreated     StatusCode = 201
	StatusNickAssigned    StatusCode = 210
	StatusBanned          StatusCode = 301
	StatusNickChanged     StatusCode = 303
	StatusKicked          StatusCode = 307
	StatusRemovedAffil    StatusCode = 321 // membership-only room, affiliation changed
	StatusRemovedMembers  StatusCode = 322 // membership-only room, not a member
	StatusRemovedShutdown StatusCode = 332 // service being shut down
)

// PrintStatusPolicy controls how much of a room's join/leave traffic is
// printed to the user.
type PrintStatusPolicy int

const (
	PrintStatusDefault PrintStatusPolicy = iota
	PrintStatusNone
	PrintStatusInAndOut
	PrintStatusAll
)

// ParsePrintStatusPolicy parses the config/command string form.
func ParsePrintStatusPolicy(s string) PrintStatusPolicy {
	switch s {
	case "none":
		return PrintStatusNone
	case "in_and_out", "in-and-out":
		return PrintStatusInAndOut
	case "all":
		return PrintStatusAll
	default:
		return PrintStatusDefault
	}
}

// Affiliation and Role mirror XEP-0045 §5.2.
type Affiliation string
type Role string

const (
	AffOwner   Affiliation = "owner"
	AffAdmin   Affiliation = "admin"
	AffMember  Affiliation = "member"
	AffOutcast Affiliation = "outcast"
	AffNone    Affiliation = "none"

	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleVisitor     Role = "visitor"
	RoleNone        Role = "none"
)

// Occupant is one room member as known from presence.
type Occupant struct {
	Nick        string
	JID         jid.JID // real JID, if the room is non-anonymous / we're a moderator
	Affiliation Affiliation
	Role        Role
	Show        string
	Status      string
}

// Message is one groupchat message recorded against a room.
type Message struct {
	From string // nick
	Body string
}

// Room is one joined or pending MUC room.
type Room struct {
	JID         jid.JID // bare JID of the room
	Nick        string  // our own nick
	Subject     string
	SubjectBy   string
	Password    string
	Joined      bool
	Occupants   map[string]*Occupant // keyed by nick
	Messages    []Message
	Unread      int
	PrintStatus PrintStatusPolicy
	AutoWhois   bool
}

// LeaveReason explains why ChangeHandler.OnSelfRemoved fired.
type LeaveReason int

const (
	LeaveVoluntary LeaveReason = iota
	LeaveBanned
	LeaveKicked
	LeaveAffiliationChange
	LeaveMembersOnly
	LeaveShutdown
	LeaveDestroyed
)

// ChangeHandler receives MUC state-machine notifications as status codes
// and presence are interpreted. All methods are optional no-ops for callers
// that only care about a subset.
type ChangeHandler interface {
	OnSelfJoined(room jid.JID, nick string)
	OnSelfRemoved(room jid.JID, reason LeaveReason)
	OnNickChanged(room jid.JID, oldNick, newNick string)
	OnOccupantJoined(room jid.JID, occ Occupant)
	OnOccupantLeft(room jid.JID, nick string)
	OnSubjectChanged(room jid.JID, subject, by string)
	// OnInvitation fires when a mediated MUC invitation arrives. The
	// caller is expected to turn
	// this into an internal/event.Queue entry carrying accept/reject
	// context — the MUC manager itself does not depend on internal/event,
	// to keep the two components independently testable.
	OnInvitation(from jid.JID, room jid.JID, reason, password string)
	// OnWhois fires for a joiner when the room's auto-whois policy is on.
	// It carries no extra round trip: everything it reports was already on
	// the join presence, so it fires synchronously from ApplyPresence.
	OnWhois(room jid.JID, occ Occupant)
}

// Sender is the subset of internal/session.Session the MUC manager needs
// to emit outbound stanzas for its admin helpers (invite, kick, ban, ...).
type Sender interface {
	Send(raw string) error
}

// Logger is the subset of internal/logging.Logger the MUC manager needs to
// report unexpected traffic.
type Logger interface {
	Warn(format string, args ...interface{})
}

// Manager owns every MUC room for one account.
type Manager struct {
	mu                 sync.RWMutex
	rooms              map[string]*Room // keyed by bare room JID string
	handler            ChangeHandler
	sender             Sender
	logger             Logger
	defaultPrintStatus PrintStatusPolicy
	defaultAutoWhois   bool
}

// NewManager returns an empty Manager.
func NewManager(handler ChangeHandler) *Manager {
	return &Manager{rooms: make(map[string]*Room), handler: handler}
}

// SetSender attaches the session used to emit outbound stanzas. Without
// one, the outbound helpers below build their stanza and drop it,
// returning nil.
func (m *Manager) SetSender(s Sender) { m.sender = s }

// SetLogger attaches a logger for reporting unexpected MUC traffic.
func (m *Manager) SetLogger(l Logger) { m.logger = l }

// SetDefaultRoomPolicy sets the print-status and auto-whois policy newly
// joined rooms start with; per-room overrides happen via SetRoomPolicy
// once a room exists.
func (m *Manager) SetDefaultRoomPolicy(printStatus PrintStatusPolicy, autoWhois bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultPrintStatus = printStatus
	m.defaultAutoWhois = autoWhois
}

// SetRoomPolicy overrides print-status/auto-whois policy for an already
// known room.
func (m *Manager) SetRoomPolicy(room jid.JID, printStatus PrintStatusPolicy, autoWhois bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[room.Bare().String()]; ok {
		r.PrintStatus = printStatus
		r.AutoWhois = autoWhois
	}
}

// Join records an intended join before presence confirms it, then sends
// the join presence to room/nick with the MUC namespace child. The room
// becomes Joined=true only once ApplyPresence sees our own (status 110)
// presence reflected back.
func (m *Manager) Join(room jid.JID, nick, password string) error {
	bare := room.Bare()
	m.mu.Lock()
	m.rooms[bare.String()] = &Room{
		JID:         bare,
		Nick:        nick,
		Password:    password,
		Occupants:   make(map[string]*Occupant),
		PrintStatus: m.defaultPrintStatus,
		AutoWhois:   m.defaultAutoWhois,
	}
	m.mu.Unlock()

	var x string
	if password != "" {
		x = fmt.Sprintf(`<x xmlns="http://jabber.org/protocol/muc"><password>%s</password></x>`, escapeXML(password))
	} else {
		x = `<x xmlns="http://jabber.org/protocol/muc"/>`
	}
	raw := fmt.Sprintf(`<presence to="%s/%s">%s</presence>`, escapeXML(bare.String()), escapeXML(nick), x)
	return m.send(raw)
}

func (m *Manager) send(raw string) error {
	if m.sender == nil {
		return nil
	}
	return m.sender.Send(raw)
}

func escapeXML(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;", `'`, "&apos;")
	return r.Replace(s)
}

// Leave removes a room entirely (we are leaving voluntarily).
func (m *Manager) Leave(room jid.JID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room.Bare().String())
}

// Get returns the room state for room's bare JID, or nil.
func (m *Manager) Get(room jid.JID) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[room.Bare().String()]
}

// All returns every known room.
func (m *Manager) All() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// PresenceUpdate is the subset of a <presence/> stanza ApplyPresence needs,
// already picked apart by the caller (the stanza package's query helpers).
type PresenceUpdate struct {
	Room        jid.JID
	Nick        string
	Unavailable bool
	StatusCodes []int
	Affiliation Affiliation
	Role        Role
	RealJID     string // x:item jid attr, if disclosed
	Show        string
	Status      string
	NewNick     string // x:item nick attr, present on status 303
	Reason      string // x:item reason, present on kick/ban/destroy
	Destroyed   bool   // a <destroy/> child was present
}

// ApplyPresence updates room state from one MUC presence stanza and fires
// the ChangeHandler as appropriate. It is the core of the status-code
// interpretation table.
func (m *Manager) ApplyPresence(p PresenceUpdate) {
	m.mu.Lock()
	room, ok := m.rooms[p.Room.Bare().String()]
	if !ok {
		m.mu.Unlock()
		// No nickname recorded for this room, so we never joined it.
		if m.logger != nil {
			m.logger.Warn("muc: unexpected groupchat presence from %s/%s", p.Room.Bare().String(), p.Nick)
		}
		raw := fmt.Sprintf(`<presence to="%s/%s" type="unavailable"/>`,
			escapeXML(p.Room.Bare().String()), escapeXML(p.Nick))
		_ = m.send(raw)
		return
	}

	isSelf := hasCode(p.StatusCodes, int(StatusSelfPresence))

	if p.Unavailable {
		// A status-303 unavailable is a rename, not a departure — and may
		// carry 110 when it is our own nick changing, so it must be
		// checked before the self-removal branch.
		if hasCode(p.StatusCodes, int(StatusNickChanged)) && p.NewNick != "" {
			old := p.Nick
			occ := room.Occupants[old]
			delete(room.Occupants, old)
			if occ != nil {
				occ.Nick = p.NewNick
				room.Occupants[p.NewNick] = occ
			}
			if room.Nick == old {
				room.Nick = p.NewNick
			}
			m.mu.Unlock()
			if m.handler != nil {
				m.handler.OnNickChanged(p.Room, old, p.NewNick)
			}
			return
		}
		reason, leaving := classifyRemoval(p.StatusCodes)
		if p.Destroyed {
			reason, leaving = LeaveDestroyed, true
		}
		if isSelf || p.Nick == room.Nick {
			// We left (or were removed): the room entry stays so a rejoin
			// keeps its password and policies, but the in-room state is
			// gone.
			room.Joined = false
			room.Nick = ""
			room.Occupants = make(map[string]*Occupant)
			room.Subject, room.SubjectBy = "", ""
			m.mu.Unlock()
			if m.handler != nil {
				if leaving {
					m.handler.OnSelfRemoved(p.Room, reason)
				} else {
					m.handler.OnSelfRemoved(p.Room, LeaveVoluntary)
				}
			}
			return
		}
		delete(room.Occupants, p.Nick)
		m.mu.Unlock()
		if m.handler != nil {
			m.handler.OnOccupantLeft(p.Room, p.Nick)
		}
		return
	}

	occ := Occupant{
		Nick: p.Nick, Affiliation: p.Affiliation, Role: p.Role,
		Show: p.Show, Status: p.Status,
	}
	if p.RealJID != "" {
		if j, err := jid.Parse(p.RealJID); err == nil {
			occ.JID = j
		}
	}
	_, existed := room.Occupants[p.Nick]
	room.Occupants[p.Nick] = &occ
	autoWhois := room.AutoWhois

	if isSelf {
		room.Joined = true
		room.Nick = p.Nick
	}
	m.mu.Unlock()

	if isSelf && hasCode(p.StatusCodes, int(StatusRoomCreated)) {
		// A new room is locked until the owner submits a configuration
		// form; an empty submit accepts the service defaults.
		_ = m.Unlock(p.Room)
	}

	if m.handler == nil {
		return
	}
	if isSelf && hasCode(p.StatusCodes, int(StatusRoomCreated)) {
		m.handler.OnSelfJoined(p.Room, p.Nick)
		return
	}
	if isSelf && !existed {
		m.handler.OnSelfJoined(p.Room, p.Nick)
		return
	}
	if !existed {
		m.handler.OnOccupantJoined(p.Room, occ)
		if !isSelf && autoWhois {
			m.handler.OnWhois(p.Room, occ)
		}
	}
}

// classifyRemoval maps an unavailable presence's status codes to a
// LeaveReason, per XEP-0045 §17.2's removal codes.
func classifyRemoval(codes []int) (LeaveReason, bool) {
	switch {
	case hasCode(codes, int(StatusBanned)):
		return LeaveBanned, true
	case hasCode(codes, int(StatusKicked)):
		return LeaveKicked, true
	case hasCode(codes, int(StatusRemovedAffil)):
		return LeaveAffiliationChange, true
	case hasCode(codes, int(StatusRemovedMembers)):
		return LeaveMembersOnly, true
	case hasCode(codes, int(StatusRemovedShutdown)):
		return LeaveShutdown, true
	default:
		return LeaveVoluntary, false
	}
}

func hasCode(codes []int, want int) bool {
	for _, c := range codes {
		if c == want {
			return true
		}
	}
	return false
}

// SetSubject records a room's subject change.
func (m *Manager) SetSubject(room jid.JID, subject, by string) {
	m.mu.Lock()
	r, ok := m.rooms[room.Bare().String()]
	if !ok {
		m.mu.Unlock()
		return
	}
	r.Subject, r.SubjectBy = subject, by
	m.mu.Unlock()
	if m.handler != nil {
		m.handler.OnSubjectChanged(room, subject, by)
	}
}

// AddMessage appends a groupchat message and always bumps the unread count;
// the caller zeroes it with MarkRead.
func (m *Manager) AddMessage(room jid.JID, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[room.Bare().String()]
	if !ok {
		return
	}
	r.Messages = append(r.Messages, msg)
	r.Unread++
}

// MarkRead zeroes a room's unread count.
func (m *Manager) MarkRead(room jid.JID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[room.Bare().String()]; ok {
		r.Unread = 0
	}
}

var iqCounter struct {
	mu sync.Mutex
	n  int
}

func nextIQID() string {
	iqCounter.mu.Lock()
	defer iqCounter.mu.Unlock()
	iqCounter.n++
	return fmt.Sprintf("muc%d", iqCounter.n)
}

// Invite sends a mediated invitation.
func (m *Manager) Invite(room jid.JID, to jid.JID, reason string) error {
	var reasonEl string
	if reason != "" {
		reasonEl = fmt.Sprintf(`<reason>%s</reason>`, escapeXML(reason))
	}
	raw := fmt.Sprintf(
		`<message to="%s"><x xmlns="http://jabber.org/protocol/muc#user"><invite to="%s">%s</invite></x></message>`,
		escapeXML(room.Bare().String()), escapeXML(to.String()), reasonEl)
	return m.send(raw)
}

// SetRoleOrAffiliation issues the admin iq-set that changes jidOrNick's role
// or affiliation within room. Exactly one of role/affiliation should be
// non-empty; the other is omitted from the <item/>.
func (m *Manager) SetRoleOrAffiliation(room jid.JID, jidOrNick string, role Role, affiliation Affiliation, reason string) error {
	attrName := "nick"
	if strings.Contains(jidOrNick, "@") {
		attrName = "jid"
	}
	var attrs strings.Builder
	fmt.Fprintf(&attrs, `%s="%s"`, attrName, escapeXML(jidOrNick))
	if role != "" {
		fmt.Fprintf(&attrs, ` role="%s"`, escapeXML(string(role)))
	}
	if affiliation != "" {
		fmt.Fprintf(&attrs, ` affiliation="%s"`, escapeXML(string(affiliation)))
	}
	var reasonEl string
	if reason != "" {
		reasonEl = fmt.Sprintf(`<reason>%s</reason>`, escapeXML(reason))
	}
	raw := fmt.Sprintf(
		`<iq to="%s" type="set" id="%s"><query xmlns="http://jabber.org/protocol/muc#admin"><item %s>%s</item></query></iq>`,
		escapeXML(room.Bare().String()), nextIQID(), attrs.String(), reasonEl)
	return m.send(raw)
}

// Unlock submits an empty default-config form, accepting the service's
// default room configuration.
func (m *Manager) Unlock(room jid.JID) error {
	raw := fmt.Sprintf(
		`<iq to="%s" type="set" id="%s"><query xmlns="http://jabber.org/protocol/muc#owner"><x xmlns="jabber:x:data" type="submit"/></query></iq>`,
		escapeXML(room.Bare().String()), nextIQID())
	return m.send(raw)
}

// Destroy submits an owner iq-set that destroys the room, optionally
// recommending venue as a replacement and carrying reason.
func (m *Manager) Destroy(room jid.JID, venue, reason string) error {
	var attrs string
	if venue != "" {
		attrs = fmt.Sprintf(` jid="%s"`, escapeXML(venue))
	}
	var reasonEl string
	if reason != "" {
		reasonEl = fmt.Sprintf(`<reason>%s</reason>`, escapeXML(reason))
	}
	raw := fmt.Sprintf(
		`<iq to="%s" type="set" id="%s"><query xmlns="http://jabber.org/protocol/muc#owner"><destroy%s>%s</destroy></query></iq>`,
		escapeXML(room.Bare().String()), nextIQID(), attrs, reasonEl)
	return m.send(raw)
}

// Kick sets nick's role to none, the XEP-0045 mechanism for removing an
// occupant without altering their long-term affiliation.
func (m *Manager) Kick(room jid.JID, nick, reason string) error {
	return m.SetRoleOrAffiliation(room, nick, RoleNone, "", reason)
}

// Ban sets target's affiliation to outcast. If target has no "@" (a bare
// nick), it is resolved to a real JID via the room's occupant roster first;
// banning requires a JID, not a nickname.
func (m *Manager) Ban(room jid.JID, target, reason string) error {
	resolved := target
	if !strings.Contains(target, "@") {
		m.mu.RLock()
		if r, ok := m.rooms[room.Bare().String()]; ok {
			if occ, ok := r.Occupants[target]; ok && occ.JID.String() != "" {
				resolved = occ.JID.Bare().String()
			}
		}
		m.mu.RUnlock()
	}
	return m.SetRoleOrAffiliation(room, resolved, "", AffOutcast, reason)
}

// HandleInvitation turns a parsed mediated-invitation message into an
// OnInvitation callback. The caller (the wiring layer in internal/app) is
// expected to register an internal/event.Queue entry from it so the user
// can accept or reject on their own schedule.
func (m *Manager) HandleInvitation(from jid.JID, room jid.JID, reason, password string) {
	if m.handler != nil {
		m.handler.OnInvitation(from, room, reason, password)
	}
}

// DefaultNickFor picks the nickname to use when accepting an invitation:
// bookmarkNick if non-empty, else optionNick, else the local JID's node.
func DefaultNickFor(bookmarkNick, optionNick string, local jid.JID) string {
	if bookmarkNick != "" {
		return bookmarkNick
	}
	if optionNick != "" {
		return optionNick
	}
	return local.Localpart()
}

// Decline sends a decline message back for a rejected invitation.
func (m *Manager) Decline(room jid.JID, to jid.JID, reason string) error {
	var reasonEl string
	if reason != "" {
		reasonEl = fmt.Sprintf(`<reason>%s</reason>`, escapeXML(reason))
	}
	raw := fmt.Sprintf(
		`<message to="%s"><x xmlns="http://jabber.org/protocol/muc#user"><decline to="%s">%s</decline></x></message>`,
		escapeXML(room.Bare().String()), escapeXML(to.String()), reasonEl)
	return m.send(raw)
}
