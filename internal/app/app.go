// Package app wires the standalone components (session, roster, muc,
// history, hooks, event queue, settings) into one running client: it
// implements session.Handler and muc.ChangeHandler, routes stanzas to the
// right component, and drives the whole thing from a single bubbletea
// event loop.
//
// The app drives exactly one account's session at a time; accounts.toml's
// multi-account storage is config, not something this layer orchestrates.
// Rendering lives above this package: app emits EventMsg notifications on
// a channel a bubbletea program listens on, and has no view code of its
// own.
package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tvardek/mcjab/internal/config"
	"github.com/tvardek/mcjab/internal/crypto/otr"
	"github.com/tvardek/mcjab/internal/crypto/pgp"
	"github.com/tvardek/mcjab/internal/event"
	"github.com/tvardek/mcjab/internal/history"
	"github.com/tvardek/mcjab/internal/hooks"
	"github.com/tvardek/mcjab/internal/jid"
	"github.com/tvardek/mcjab/internal/lineedit"
	"github.com/tvardek/mcjab/internal/logging"
	"github.com/tvardek/mcjab/internal/muc"
	"github.com/tvardek/mcjab/internal/roster"
	"github.com/tvardek/mcjab/internal/session"
	"github.com/tvardek/mcjab/internal/settings"
	"github.com/tvardek/mcjab/internal/stanza"
	"github.com/tvardek/mcjab/internal/storage/sqlite"
	"github.com/tvardek/mcjab/internal/transport"
)

// buildTransportConfig resolves the account's server/port (falling back to
// the bare JID's domain and the standard client-to-server port per RFC 6120)
// and layers in the ambient bind-address/proxy options from
// config.TransportConfig.
func buildTransportConfig(account config.Account, tcfg config.TransportConfig) transport.Config {
	host := account.Server
	if host == "" {
		host = account.JID
		if at := strings.IndexByte(host, '@'); at >= 0 {
			host = host[at+1:]
		}
		if slash := strings.IndexByte(host, '/'); slash >= 0 {
			host = host[:slash]
		}
	}
	port := account.Port
	if port == 0 {
		port = 5222
	}

	cfg := transport.Config{
		Addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		BindAddress: tcfg.BindAddress,
		DialTimeout: 30 * time.Second,
	}
	if tcfg.ProxyAddr != "" {
		cfg.Proxy = &transport.ProxyConfig{
			Addr:           tcfg.ProxyAddr,
			Username:       tcfg.ProxyUsername,
			Password:       tcfg.ProxyPassword,
			LegacyAlphabet: tcfg.LegacyProxyAlphabet,
		}
	}
	return cfg
}

// buildTLSConfig returns a *tls.Config when the ambient transport settings
// request TLS, nil otherwise (the session then stays in plaintext;
// internal/session does not negotiate STARTTLS from stream features).
func buildTLSConfig(tcfg config.TransportConfig, serverName string) *tls.Config {
	if !tcfg.UseTLS {
		return nil
	}
	return &tls.Config{ServerName: serverName}
}

// autoAwayDelay is how long a user may go without a keystroke before the
// account's own presence is pushed to "away". The timer is rearmed on
// activity, never polled.
const autoAwayDelay = 10 * time.Minute

// inviteTimeout bounds how long an incoming MUC invitation stays pending
// before it is treated as implicitly declined.
const inviteTimeout = 5 * time.Minute

// EventType identifies the kind of EventMsg delivered to the UI driver.
type EventType int

const (
	EventStateChange EventType = iota
	EventMessage
	EventPresence
	EventMUCMessage
	EventMUCChange
	EventMUCWhois
	EventError
)

// WhoisInfo is the payload of an EventMUCWhois notification: everything a
// /whois would report about a joiner, gathered from the join presence
// itself, no extra round trip needed.
type WhoisInfo struct {
	Room jid.JID
	Occ  muc.Occupant
}

// EventMsg is the tea.Msg every app-layer notification is wrapped in.
type EventMsg struct {
	Type EventType
	Data any
}

// App owns every per-account component and wires them together.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	sess     *session.Session
	roster   *roster.Manager
	mucMgr   *muc.Manager
	history  *history.Store
	hookBus    *hooks.Bus
	hookPlugin *hooks.PluginHandler
	events     *event.Queue
	settings   *settings.Store
	editor     *lineedit.Editor
	db         *sqlite.DB
	otr        *otr.Hook
	pgp        *pgp.Hook

	program      *tea.Program
	settingsPath string
	outCh        chan EventMsg
	ctx     context.Context
	cancel  context.CancelFunc

	self     jid.JID
	priority int
}

// New builds an App for the given account config. It does not connect;
// call Connect to open the session.
func New(cfg *config.Config, logger *logging.Logger, account config.Account) (*App, error) {
	self, err := jid.Parse(account.JID)
	if err != nil {
		return nil, fmt.Errorf("app: parse account jid: %w", err)
	}
	if account.Resource != "" {
		self, err = self.WithResource(account.Resource)
		if err != nil {
			return nil, fmt.Errorf("app: invalid resource: %w", err)
		}
	}

	var db *sqlite.DB
	if cfg.Storage.SaveRoster && cfg.General.DataDir != "" {
		db, err = sqlite.New(cfg.General.DataDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "app: roster cache disabled: %v\n", err)
			db = nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:      cfg,
		logger:   logger,
		history:  history.NewStore(0),
		hookBus:  hooks.NewBus(),
		events:   event.NewQueue(),
		settings: settings.New(),
		editor:   lineedit.New(),
		db:       db,
		otr:      otr.New(otr.PolicyManual),
		pgp:      pgp.New(),
		outCh:    make(chan EventMsg, 64),
		ctx:      ctx,
		cancel:   cancel,
		self:     self,
	}

	var rosterStore roster.Store
	if db != nil {
		rosterStore = db
	}
	a.roster = roster.NewManager(rosterStore)
	if err := a.roster.LoadFromStore(); err != nil && a.logger != nil {
		a.logger.Warn("roster: load from store failed: %v", err)
	}

	a.mucMgr = muc.NewManager(a)

	a.sess = session.New(session.Config{
		JID:        self,
		Password:   account.Password,
		AuthMethod: session.AuthAuto,
		Transport:  buildTransportConfig(account, cfg.General.Transport),
		TLS:        buildTLSConfig(cfg.General.Transport, self.Domainpart()),
	}, a)
	a.mucMgr.SetSender(a.sess)
	if a.logger != nil {
		a.mucMgr.SetLogger(a.logger)
	}

	// Persisted settings load before guards are registered, so startup
	// state is restored verbatim; guards then vet every later write.
	if paths, err := config.GetPaths(); err == nil {
		a.settingsPath = filepath.Join(paths.ConfigDir, "settings.toml")
		if err := a.settings.Load(a.settingsPath); err != nil && logger != nil {
			logger.Warn("settings: %v", err)
		}
	}

	a.registerGuards()
	a.registerHooks()
	a.sess.EnableAutoAway(autoAwayDelay, nil, a.goAway)
	a.priority = account.Priority

	return a, nil
}

// externalHookPriority puts the external command/plugin handlers after any
// in-process handler registered at a lower number, so a veto handler can
// stop propagation before a subprocess ever runs.
const externalHookPriority = 100

// registerHooks wires the external-hook machinery onto the bus, per the
// config's [hooks] section. Both kinds run synchronously inside Emit:
// ExecHandler waits for the command to exit, and PluginHandler waits for
// the subprocess's RPC reply.
func (a *App) registerHooks() {
	if cmd := a.cfg.Hooks.Command; cmd != "" {
		for _, name := range []hooks.Name{
			hooks.PostConnect, hooks.PreDisconnect, hooks.MessageIn,
			hooks.MessageOut, hooks.StatusChange, hooks.MyStatusChange,
		} {
			a.hookBus.On(name, externalHookPriority, hooks.ExecHandler{Command: cmd})
		}
	}
	if path := a.cfg.Hooks.PluginPath; path != "" {
		a.hookPlugin = hooks.NewPluginHandler(path)
		for _, name := range []hooks.Name{
			hooks.MessageIn, hooks.MessageOut, hooks.StatusChange,
			hooks.MyStatusChange, hooks.PostConnect, hooks.PreDisconnect,
			hooks.UnreadListChange,
		} {
			a.hookBus.On(name, externalHookPriority, a.hookPlugin)
		}
	}
}

// registerGuards installs the settings guards that need app state to act
// on: color validation, FIFO reconfiguration, debug-log level, help-dir
// cache invalidation.
func (a *App) registerGuards() {
	a.settings.SetGuard(settings.TypeOption, "color", settings.ColorGuard)
	a.settings.SetGuard(settings.TypeOption, "fifo_name", settings.FIFOGuardFunc(a.reconfigureFIFO))
	a.settings.SetGuard(settings.TypeOption, "debug_log_level", settings.DebugLogLevelGuardFunc(a.setDebugLevel))
	a.settings.SetGuard(settings.TypeOption, "help_dir", settings.HelpDirGuardFunc(a.invalidateHelpCache))
}

// reconfigureFIFO is the fifo_name guard's side effect. The command FIFO
// itself belongs to the command surface above this core; the guard still
// runs, so a write is accepted or rejected consistently, it just has
// nothing to tear down or reopen here.
func (a *App) reconfigureFIFO(path string) error {
	return nil
}

func (a *App) setDebugLevel(level int) {
	switch {
	case level <= 0:
		a.logger.SetLevel(logging.LevelError)
	case level == 1:
		a.logger.SetLevel(logging.LevelWarn)
	case level == 2:
		a.logger.SetLevel(logging.LevelInfo)
	default:
		a.logger.SetLevel(logging.LevelDebug)
	}
}

func (a *App) invalidateHelpCache() {
	// No help-topic cache exists in this core; the guard is still wired
	// so help_dir writes go through the same validation path.
}

// Editor returns the input line editor so the UI driver can forward
// keystrokes and read back completed lines.
func (a *App) Editor() *lineedit.Editor { return a.editor }

// Roster, MUC, History, Settings, Hooks, Events expose the wired components
// for the UI driver / command layer to read.
func (a *App) Roster() *roster.Manager   { return a.roster }
func (a *App) MUC() *muc.Manager         { return a.mucMgr }
func (a *App) History() *history.Store   { return a.history }
func (a *App) Settings() *settings.Store { return a.settings }
func (a *App) OTR() *otr.Hook            { return a.otr }
func (a *App) PGP() *pgp.Hook            { return a.pgp }
func (a *App) Hooks() *hooks.Bus         { return a.hookBus }
func (a *App) Events() *event.Queue      { return a.events }
func (a *App) Self() jid.JID             { return a.self }

// SetProgram attaches the running bubbletea program so app events reach it
// directly even between Update cycles.
func (a *App) SetProgram(p *tea.Program) { a.program = p }

// Init returns the bubbletea init command: begin listening for app events.
func (a *App) Init() tea.Cmd {
	return a.listenForEvents()
}

// listenForEvents is the tea.Cmd that blocks on the app's internal event
// channel.
func (a *App) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev, ok := <-a.outCh:
			if !ok {
				return nil
			}
			return ev
		case <-a.ctx.Done():
			return nil
		}
	}
}

func (a *App) sendEvent(ev EventMsg) {
	select {
	case a.outCh <- ev:
	default:
	}
	if a.program != nil {
		a.program.Send(ev)
	}
}

// Connect opens the session and pushes initial presence once the stream
// reaches StateOn (handled in OnStateChange).
func (a *App) Connect(ctx context.Context) error {
	return a.sess.Connect(ctx)
}

// Pump drives one read cycle of the underlying session; the UI driver
// should call this from a tea.Cmd on a short, non-blocking tick, keeping
// the event loop cooperative and single-threaded.
func (a *App) Pump() error {
	return a.sess.Pump()
}

// NotifyActivity rearms the auto-away timer; the UI driver calls this on
// every keystroke routed through Editor().
func (a *App) NotifyActivity() {
	a.sess.NotifyActivity()
}

func (a *App) goAway() {
	_ = a.sess.Send(fmt.Sprintf(
		`<presence><show>away</show><status>%s</status></presence>`,
		"auto-away"))
}

// Close tears down the session and every component that owns a resource.
func (a *App) Close() {
	a.cancel()
	a.sess.DisableAutoAway()
	_ = a.sess.Close()
	if a.settingsPath != "" {
		_ = a.settings.Save(a.settingsPath)
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.hookPlugin != nil {
		a.hookPlugin.Close()
	}
	close(a.outCh)
}

// SendMessage sends a chat message to to, recording it in history and
// firing hook-message-out.
func (a *App) SendMessage(to jid.JID, body string) error {
	bare := to.Bare().String()
	wire := a.encryptOutgoing(bare, body)

	raw := fmt.Sprintf(`<message to="%s" type="chat"><body>%s</body></message>`,
		stanza.EscapeText(to.String()), stanza.EscapeText(wire))
	if err := a.sess.Send(raw); err != nil {
		return err
	}
	a.history.GetOrCreate(bare).Append(history.Line{
		Timestamp: time.Now(), Text: body, Flags: history.FlagOut,
	})
	a.hookBus.Emit(a.ctx, hooks.MessageOut, map[string]string{
		"to": bare, "body": body,
	})
	return nil
}

// encryptOutgoing applies the OTR/PGP hook points per bareJID's crypto
// prefs (settings.CryptoPref). With no engine attached to either hook this
// is a pass-through; a real OTR/OpenPGP implementation plugs in behind
// otr.Hook.SetEngine / pgp.Hook.SetEngine.
func (a *App) encryptOutgoing(bareJID, body string) string {
	pref := a.settings.CryptoPrefFor(bareJID)
	if pref.PGPForce && !pref.PGPDisabled {
		if wire, err := a.pgp.Encrypt(bareJID, body); err == nil {
			return wire
		}
	}
	if otr.ParsePolicy(pref.OTRPolicy) != otr.PolicyNever {
		if wire, err := a.otr.Encrypt(bareJID, body); err == nil {
			return wire
		}
	}
	return body
}

// --- session.Handler ---

func (a *App) OnStateChange(old, new session.State) {
	if old != session.StateOn && new == session.StateOn {
		a.hookBus.Emit(a.ctx, hooks.PostConnect, map[string]string{"jid": a.self.String()})
		if a.priority != 0 {
			_ = a.sess.Send(fmt.Sprintf(`<presence><priority>%d</priority></presence>`, a.priority))
		} else {
			_ = a.sess.Send(`<presence/>`)
		}
		if a.db != nil {
			_ = a.db.SetAppState("last_connected_jid", a.self.Bare().String())
		}
	}
	if old == session.StateOn && new != session.StateOn {
		a.hookBus.Emit(a.ctx, hooks.PreDisconnect, map[string]string{"jid": a.self.String()})
	}
	a.sendEvent(EventMsg{Type: EventStateChange, Data: new})
}

func (a *App) OnError(err error) {
	if a.logger != nil {
		a.logger.Error("session error: %v", err)
	}
	a.sendEvent(EventMsg{Type: EventError, Data: err})
}

func (a *App) OnStanza(kind stanza.Kind, tree *stanza.Tree) {
	switch kind {
	case stanza.KindPresence:
		a.handlePresence(tree)
	case stanza.KindMessage:
		a.handleMessage(tree)
	case stanza.KindIQ:
		// internal/session.dispatch already intercepts the iq-result/error
		// for the legacy jabber:iq:auth exchange before this handler ever
		// sees it; nothing else arrives here that this core needs to react
		// to.
	}
}

func (a *App) handlePresence(tree *stanza.Tree) {
	root := tree.Root()
	from, _ := tree.Attr(root, "from")
	if from == "" {
		return
	}
	full, err := jid.Parse(from)
	if err != nil {
		return
	}
	typeAttr, _ := tree.Attr(root, "type")
	ptype, known := stanza.ClassifyPresence(typeAttr)
	if !known {
		return
	}

	if x := tree.Query(root, "x"); x != stanza.NoHandle {
		if ns, ok := tree.Attr(x, "xmlns"); ok && (ns == "http://jabber.org/protocol/muc#user" || ns == "http://jabber.org/protocol/muc") {
			a.handleMUCPresence(tree, full, ptype)
			return
		}
	}
	if room := a.mucMgr.Get(full.Bare()); room != nil {
		a.handleMUCPresence(tree, full, ptype)
		return
	}

	switch ptype {
	case stanza.PresenceUnavailable:
		a.roster.ClearPresence(full)
	case stanza.PresenceAvailable:
		show, _ := tree.QueryCData(root, "show")
		status, _ := tree.QueryCData(root, "status")
		a.roster.SetPresence(full, roster.Resource{
			Name: full.Resourcepart(), Show: roster.Show(show), Status: status,
			Timestamp: time.Now(),
		})
	case stanza.PresenceSubscribe, stanza.PresenceSubscribed, stanza.PresenceUnsubscribe, stanza.PresenceUnsubscribed:
		// Subscription-request UI is out of scope here; the roster item's
		// Ask/Subscription fields are updated by the roster-push iq handler
		// a future command layer wires, not by the bare presence itself.
	}
	a.hookBus.Emit(a.ctx, hooks.StatusChange, map[string]string{"from": full.String()})
	a.sendEvent(EventMsg{Type: EventPresence, Data: full})
}

func (a *App) handleMUCPresence(tree *stanza.Tree, full jid.JID, ptype stanza.PresenceType) {
	root := tree.Root()
	x := tree.Query(root, "x")
	upd := muc.PresenceUpdate{
		Room:        full.Bare(),
		Nick:        full.Resourcepart(),
		Unavailable: ptype == stanza.PresenceUnavailable,
	}
	if x != stanza.NoHandle {
		for _, item := range tree.Children(x) {
			switch tree.Name(item) {
			case "status":
				if code, ok := tree.Attr(item, "code"); ok {
					var n int
					fmt.Sscanf(code, "%d", &n)
					upd.StatusCodes = append(upd.StatusCodes, n)
				}
			case "item":
				if aff, ok := tree.Attr(item, "affiliation"); ok {
					upd.Affiliation = muc.Affiliation(aff)
				}
				if role, ok := tree.Attr(item, "role"); ok {
					upd.Role = muc.Role(role)
				}
				if j, ok := tree.Attr(item, "jid"); ok {
					upd.RealJID = j
				}
				if nick, ok := tree.Attr(item, "nick"); ok {
					upd.NewNick = nick
				}
				if reason, ok := tree.QueryCData(item, "reason"); ok {
					upd.Reason = reason
				}
			case "destroy":
				upd.Destroyed = true
				if reason, ok := tree.QueryCData(item, "reason"); ok && reason != "" {
					upd.Reason = reason
				}
			}
		}
	}
	upd.Show, _ = tree.QueryCData(root, "show")
	upd.Status, _ = tree.QueryCData(root, "status")
	a.mucMgr.ApplyPresence(upd)
}

func (a *App) handleMessage(tree *stanza.Tree) {
	root := tree.Root()
	from, _ := tree.Attr(root, "from")
	body, hasBody := tree.QueryCData(root, "body")
	typeAttr, _ := tree.Attr(root, "type")

	if typeAttr == string(stanza.MessageGroupchat) {
		full, err := jid.Parse(from)
		if err != nil || !hasBody {
			a.handleMUCSubjectOrInvite(tree, from)
			return
		}
		a.mucMgr.AddMessage(full.Bare(), muc.Message{From: full.Resourcepart(), Body: body})
		a.sendEvent(EventMsg{Type: EventMUCMessage, Data: full})
		return
	}

	if !hasBody {
		a.handleMUCSubjectOrInvite(tree, from)
		return
	}

	full, err := jid.Parse(from)
	if err != nil {
		return
	}
	bare := full.Bare().String()
	flags := history.FlagIn
	if otrBody, ok, otrErr := a.otr.Decrypt(bare, body); otrErr == nil && ok {
		body = otrBody
		flags |= history.FlagOTREncrypted
	} else if pref := a.settings.CryptoPrefFor(bare); pref.PGPKeyID != "" && !pref.PGPDisabled {
		if pgpBody, pgpErr := a.pgp.Decrypt(body); pgpErr == nil {
			body = pgpBody
			flags |= history.FlagPGPEncrypted
		}
	}
	a.history.GetOrCreate(bare).Append(history.Line{
		Timestamp: time.Now(), Text: body, Flags: flags,
	})
	a.hookBus.Emit(a.ctx, hooks.MessageIn, map[string]string{
		"from": bare, "body": body,
	})
	a.sendEvent(EventMsg{Type: EventMessage, Data: full})
}

// handleMUCSubjectOrInvite covers the two bodiless-<message> shapes this
// core cares about: a groupchat subject change, and a mediated MUC
// invitation (XEP-0045 §7.8).
func (a *App) handleMUCSubjectOrInvite(tree *stanza.Tree, from string) {
	root := tree.Root()
	if subject, ok := tree.QueryCData(root, "subject"); ok {
		if full, err := jid.Parse(from); err == nil {
			a.mucMgr.SetSubject(full.Bare(), subject, full.Resourcepart())
		}
		return
	}
	x := tree.Query(root, "x")
	if x == stanza.NoHandle {
		return
	}
	ns, _ := tree.Attr(x, "xmlns")
	if ns != "http://jabber.org/protocol/muc#user" {
		return
	}
	invite := tree.Query(x, "invite")
	if invite == stanza.NoHandle {
		return
	}
	roomJID, err := jid.Parse(from)
	if err != nil {
		return
	}
	inviterStr, _ := tree.Attr(invite, "from")
	inviter, err := jid.Parse(inviterStr)
	if err != nil {
		return
	}
	reason, _ := tree.QueryCData(invite, "reason")
	var password string
	if pw, ok := tree.QueryCData(x, "password"); ok {
		password = pw
	}
	a.mucMgr.HandleInvitation(inviter, roomJID, reason, password)
}

// --- muc.ChangeHandler ---

func (a *App) OnSelfJoined(room jid.JID, nick string) {
	a.sendEvent(EventMsg{Type: EventMUCChange, Data: room})
}

func (a *App) OnSelfRemoved(room jid.JID, reason muc.LeaveReason) {
	a.sendEvent(EventMsg{Type: EventMUCChange, Data: room})
}

func (a *App) OnNickChanged(room jid.JID, oldNick, newNick string) {
	a.sendEvent(EventMsg{Type: EventMUCChange, Data: room})
}

func (a *App) OnOccupantJoined(room jid.JID, occ muc.Occupant) {
	a.sendEvent(EventMsg{Type: EventMUCChange, Data: room})
}

func (a *App) OnOccupantLeft(room jid.JID, nick string) {
	a.sendEvent(EventMsg{Type: EventMUCChange, Data: room})
}

func (a *App) OnSubjectChanged(room jid.JID, subject, by string) {
	a.sendEvent(EventMsg{Type: EventMUCChange, Data: room})
}

// OnWhois reports a joiner's role/affiliation/real-JID to the UI driver
// when the room's auto-whois policy is on.
func (a *App) OnWhois(room jid.JID, occ muc.Occupant) {
	a.sendEvent(EventMsg{Type: EventMUCWhois, Data: WhoisInfo{Room: room, Occ: occ}})
}

// OnInvitation turns an incoming mediated invitation into a pending
// internal/event.Queue entry the UI driver resolves by calling Events().Fire
// with ActionAccept or ActionReject.
func (a *App) OnInvitation(from jid.JID, room jid.JID, reason, password string) {
	id := a.events.Register(a.ctx, "", inviteTimeout, func(_ string, action event.Action, _ any) {
		switch action {
		case event.ActionAccept:
			optionNick, _ := a.settings.Get(settings.TypeOption, "nickname")
			nick := muc.DefaultNickFor("", optionNick, a.self)
			_ = a.mucMgr.Join(room, nick, password)
		case event.ActionReject:
			_ = a.mucMgr.Decline(room, from, "")
		}
	}, nil)
	a.sendEvent(EventMsg{Type: EventMUCChange, Data: id})
}
