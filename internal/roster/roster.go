// Package roster implements the contact/resource/subscription model: one
// Manager per account, holding Items keyed by bare JID with a nested
// per-resource presence map and a caller-driven SQLite mirror so roster
// state survives process restart, not just in-memory reconnect.
package roster

import (
	"sort"
	"sync"
	"time"

	"github.com/tvardek/mcjab/internal/jid"
)

// Subscription mirrors RFC 6121 §2.1's roster subscription states.
type Subscription string

const (
	SubNone   Subscription = "none"
	SubTo     Subscription = "to"
	SubFrom   Subscription = "from"
	SubBoth   Subscription = "both"
	SubRemove Subscription = "remove"
)

// Show is a presence <show/> value; ShowOnline is the empty string, the
// "available with no show element" case.
type Show string

const (
	ShowOnline Show = ""
	ShowAway   Show = "away"
	ShowChat   Show = "chat"
	ShowDND    Show = "dnd"
	ShowXA     Show = "xa"
)

// Resource is one full-JID presence under a contact.
type Resource struct {
	Name      string
	Show      Show
	Status    string
	Priority  int
	Caps      string // XEP-0115 'ver' or legacy node#ver, opaque here
	Timestamp time.Time
}

// Kind classifies a roster entry.
type Kind int

const (
	KindUser Kind = iota
	KindAgent
	KindRoom
	KindGroup
	KindSpecial
)

// KindMask selects a set of Kinds for Find.
type KindMask int

func MaskOf(kinds ...Kind) KindMask {
	var m KindMask
	for _, k := range kinds {
		m |= 1 << uint(k)
	}
	return m
}

func (m KindMask) has(k Kind) bool { return m == 0 || m&(1<<uint(k)) != 0 }

// Flag is a per-contact state bit.
type Flag int

const (
	FlagLockedByUser Flag = 1 << iota
	FlagHideGroup
	FlagHasPendingMessage
)

// PrioOp selects how SetUIPrio combines a new value with the existing one.
type PrioOp int

const (
	PrioSet PrioOp = iota
	PrioMaxKeep
	PrioAdd
)

// Item is one roster contact: a bare JID with metadata and zero or more
// online resources.
type Item struct {
	JID          jid.JID
	Name         string
	Subscription Subscription
	Kind         Kind
	Groups       []string
	Ask          bool // pending subscription request ("ask='subscribe'")
	Resources    map[string]*Resource
	Flags        Flag
	UIPrio       int
	active       string // pinned resource name; "" = implicit highest-priority
}

// HasFlag reports whether all bits in mask are set.
func (it *Item) HasFlag(mask Flag) bool { return it.Flags&mask == mask }

// BestResource returns the highest-priority online resource, ties broken by
// most-recent timestamp, or nil if the contact has none.
func (it *Item) BestResource() *Resource {
	var best *Resource
	for _, r := range it.Resources {
		switch {
		case best == nil:
			best = r
		case r.Priority > best.Priority:
			best = r
		case r.Priority == best.Priority && r.Timestamp.After(best.Timestamp):
			best = r
		}
	}
	return best
}

// IsOnline reports whether the contact has any online resource.
func (it *Item) IsOnline() bool { return len(it.Resources) > 0 }

// ActiveResource returns the resource used for reply routing: the pinned
// resource if one was set via SetActiveResource and is still online,
// otherwise the implicit highest-priority resource; exactly one resource
// per contact is active for reply routing.
func (it *Item) ActiveResource() *Resource {
	if it.active != "" {
		if r, ok := it.Resources[it.active]; ok {
			return r
		}
	}
	return it.BestResource()
}

// Store is the optional persistence mirror a Manager may write through to.
// Implemented by internal/storage/sqlite.
type Store interface {
	UpsertContact(bareJID, name string, subscription string, groups []string) error
	DeleteContact(bareJID string) error
	ListContacts() ([]StoredContact, error)
}

// StoredContact is the persisted shape of a roster Item, minus live
// presence (presence is never durable).
type StoredContact struct {
	BareJID      string
	Name         string
	Subscription string
	Groups       []string
}

// Manager owns one account's roster.
type Manager struct {
	mu    sync.RWMutex
	items map[string]*Item
	store Store

	// Selection cursor over the buddylist. alternate remembers the
	// previously current contact so the UI can flip back with one key.
	current   string
	alternate string
}

// NewManager returns an empty Manager, optionally backed by store.
func NewManager(store Store) *Manager {
	return &Manager{items: make(map[string]*Item), store: store}
}

// LoadFromStore populates the in-memory roster from the persistence mirror,
// called once after construction, before any live roster push arrives.
func (m *Manager) LoadFromStore() error {
	if m.store == nil {
		return nil
	}
	contacts, err := m.store.ListContacts()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contacts {
		j, err := jid.Parse(c.BareJID)
		if err != nil {
			continue
		}
		m.items[j.String()] = &Item{
			JID:          j,
			Name:         c.Name,
			Subscription: Subscription(c.Subscription),
			Groups:       c.Groups,
			Resources:    make(map[string]*Resource),
		}
	}
	return nil
}

// Upsert adds or replaces a roster item (e.g. from a roster push), mirrored
// to the store if one is configured.
func (m *Manager) Upsert(item Item) {
	bare := item.JID.Bare()
	m.mu.Lock()
	if item.Resources == nil {
		if existing := m.items[bare.String()]; existing != nil {
			item.Resources = existing.Resources
		} else {
			item.Resources = make(map[string]*Resource)
		}
	}
	item.JID = bare
	m.items[bare.String()] = &item
	m.mu.Unlock()

	if m.store != nil {
		_ = m.store.UpsertContact(bare.String(), item.Name, string(item.Subscription), item.Groups)
	}
}

// Remove deletes a contact entirely (subscription="remove").
func (m *Manager) Remove(j jid.JID) {
	bare := j.Bare().String()
	m.mu.Lock()
	delete(m.items, bare)
	m.mu.Unlock()
	if m.store != nil {
		_ = m.store.DeleteContact(bare)
	}
}

// Get returns the contact for j's bare JID, or nil.
func (m *Manager) Get(j jid.JID) *Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[j.Bare().String()]
}

// SetPresence updates one resource's presence under its bare JID's item. If
// the contact is not in the roster (e.g. a MUC occupant or unsubscribed
// sender), SetPresence is a no-op: presence only decorates known contacts.
func (m *Manager) SetPresence(full jid.JID, r Resource) {
	bare := full.Bare().String()
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[bare]
	if !ok {
		return
	}
	if it.Resources == nil {
		it.Resources = make(map[string]*Resource)
	}
	it.Resources[full.Resourcepart()] = &r
}

// ClearPresence marks a resource (or all resources, if full has none)
// offline.
func (m *Manager) ClearPresence(full jid.JID) {
	bare := full.Bare().String()
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[bare]
	if !ok {
		return
	}
	if full.Resourcepart() == "" {
		it.Resources = make(map[string]*Resource)
		return
	}
	delete(it.Resources, full.Resourcepart())
}

// All returns every contact, in no particular order.
func (m *Manager) All() []*Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	return out
}

// ByGroup returns contacts belonging to group.
func (m *Manager) ByGroup(group string) []*Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Item
	for _, it := range m.items {
		for _, g := range it.Groups {
			if g == group {
				out = append(out, it)
				break
			}
		}
	}
	return out
}

// Groups returns the set of all distinct group names in use.
func (m *Manager) Groups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]struct{})
	for _, it := range m.items {
		for _, g := range it.Groups {
			set[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	return out
}

// Count returns the number of contacts.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Find returns every contact whose Kind is set in mask (a zero mask matches
// every kind). jid, if non-nil, additionally filters to that bare JID's
// single contact.
func (m *Manager) Find(j *jid.JID, mask KindMask) []*Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if j != nil {
		it, ok := m.items[j.Bare().String()]
		if !ok || !mask.has(it.Kind) {
			return nil
		}
		return []*Item{it}
	}
	var out []*Item
	for _, it := range m.items {
		if mask.has(it.Kind) {
			out = append(out, it)
		}
	}
	return out
}

// SetFlag sets or clears the bits in mask on j's contact.
func (m *Manager) SetFlag(j jid.JID, mask Flag, value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[j.Bare().String()]
	if !ok {
		return
	}
	if value {
		it.Flags |= mask
	} else {
		it.Flags &^= mask
	}
}

// GetActiveResource returns the name of j's active (reply-routing) resource,
// pinned or implicit, or "" if the contact is offline or unknown.
func (m *Manager) GetActiveResource(j jid.JID) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[j.Bare().String()]
	if !ok {
		return ""
	}
	if r := it.ActiveResource(); r != nil {
		return r.Name
	}
	return ""
}

// SetActiveResource pins j's active resource to res; an empty res clears the
// pin and reverts to the implicit highest-priority resource.
func (m *Manager) SetActiveResource(j jid.JID, res string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[j.Bare().String()]; ok {
		it.active = res
	}
}

// GetResources returns the resource names currently online for j, sorted by
// descending priority then resource name.
func (m *Manager) GetResources(j jid.JID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[j.Bare().String()]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(it.Resources))
	for n := range it.Resources {
		names = append(names, n)
	}
	sort.Slice(names, func(a, b int) bool {
		ra, rb := it.Resources[names[a]], it.Resources[names[b]]
		if ra.Priority != rb.Priority {
			return ra.Priority > rb.Priority
		}
		return names[a] < names[b]
	})
	return names
}

// GetStatusMsg returns the status message of the named resource under j, or
// "" if unknown.
func (m *Manager) GetStatusMsg(j jid.JID, res string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[j.Bare().String()]
	if !ok {
		return ""
	}
	r, ok := it.Resources[res]
	if !ok {
		return ""
	}
	return r.Status
}

// GetUIPrio returns j's current UI priority.
func (m *Manager) GetUIPrio(j jid.JID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if it, ok := m.items[j.Bare().String()]; ok {
		return it.UIPrio
	}
	return 0
}

// SetUIPrio applies value to j's UI priority per op: PrioSet replaces it,
// PrioMaxKeep keeps the larger of the two, PrioAdd accumulates.
func (m *Manager) SetUIPrio(j jid.JID, value int, op PrioOp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[j.Bare().String()]
	if !ok {
		return
	}
	switch op {
	case PrioMaxKeep:
		if value > it.UIPrio {
			it.UIPrio = value
		}
	case PrioAdd:
		it.UIPrio += value
	default:
		it.UIPrio = value
	}
}

// SetCurrent moves the selection cursor to j, remembering the previous
// selection as the alternate.
func (m *Manager) SetCurrent(j jid.JID) {
	bare := j.Bare().String()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != "" && m.current != bare {
		m.alternate = m.current
	}
	m.current = bare
}

// Current returns the contact under the selection cursor, or nil.
func (m *Manager) Current() *Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[m.current]
}

// Alternate returns the previously selected contact, or nil.
func (m *Manager) Alternate() *Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[m.alternate]
}

// UnreadSet returns every contact with a pending-message flag or a positive
// UI priority.
func (m *Manager) UnreadSet() []*Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Item
	for _, it := range m.items {
		if it.HasFlag(FlagHasPendingMessage) || it.UIPrio > 0 {
			out = append(out, it)
		}
	}
	return out
}

// StatusFilter is a bitset over presence Show values used by BuddylistBuild
// to decide which contacts are visible; an empty filter shows everything.
type StatusFilter map[Show]bool

// BuddylistEntry is one flattened, display-ready row: either a group
// header (Header true, Item nil) or a contact under its group.
type BuddylistEntry struct {
	Item      *Item
	GroupName string
	Header    bool
	Folded    bool
}

// BuddylistBuild produces the flattened, display-ordered buddylist view:
// each group contributes a header row followed by its visible members,
// and a folded group collapses to its header row alone, so the UI can
// still show and re-expand it. The status filter decides contact
// visibility; folded is the set of group names currently collapsed.
func (m *Manager) BuddylistBuild(filter StatusFilter, folded map[string]bool) []BuddylistEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	visible := func(it *Item) bool {
		if it.HasFlag(FlagHideGroup) {
			return false
		}
		if len(filter) == 0 || !it.IsOnline() {
			return true
		}
		best := it.BestResource()
		return best == nil || filter[best.Show]
	}

	byGroup := make(map[string][]*Item)
	var ungrouped []*Item
	for _, it := range m.items {
		if it.Kind == KindGroup {
			continue
		}
		if !visible(it) {
			continue
		}
		if len(it.Groups) == 0 {
			ungrouped = append(ungrouped, it)
			continue
		}
		for _, g := range it.Groups {
			byGroup[g] = append(byGroup[g], it)
		}
	}

	groups := make([]string, 0, len(byGroup))
	for g := range byGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var out []BuddylistEntry
	for _, g := range groups {
		out = append(out, BuddylistEntry{GroupName: g, Header: true, Folded: folded[g]})
		if folded[g] {
			continue
		}
		items := byGroup[g]
		sort.Slice(items, func(a, b int) bool { return items[a].Name < items[b].Name })
		for _, it := range items {
			out = append(out, BuddylistEntry{Item: it, GroupName: g})
		}
	}
	sort.Slice(ungrouped, func(a, b int) bool { return ungrouped[a].Name < ungrouped[b].Name })
	for _, it := range ungrouped {
		out = append(out, BuddylistEntry{Item: it})
	}
	return out
}
