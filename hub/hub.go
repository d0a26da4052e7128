// Package hub implements the ADC hub controller (spec §4.6): the
// object that owns the registry, SID pool, router, event queue, and
// limits policy, and drives every session's view of hub-wide state.
// It generalizes the teacher's Map-based dynamic config layer
// (config.go) and IRC bridge shape (hub_irc.go) to the ADC domain;
// the teacher's own Hub type was never present in the retrieved
// source tree, so this file is grounded directly on spec.md §4.6.
package hub

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/klondi/mimicmod-lan/hub/dispatch"
	"github.com/klondi/mimicmod-lan/internal/adc"
	"github.com/klondi/mimicmod-lan/internal/limits"
	"github.com/klondi/mimicmod-lan/internal/queue"
	"github.com/klondi/mimicmod-lan/internal/registry"
	"github.com/klondi/mimicmod-lan/internal/router"
	"github.com/klondi/mimicmod-lan/internal/session"
	"github.com/klondi/mimicmod-lan/internal/sidpool"
	"github.com/klondi/mimicmod-lan/version"
)

// ErrInsufficientCredentials is returned by Kick when the requester
// does not outrank the target.
var ErrInsufficientCredentials = errors.New("hub: insufficient credentials")

// ErrNoSuchUser is returned by Kick when the target nick isn't
// connected.
var ErrNoSuchUser = errors.New("hub: no such user")

// ACL is the account store the hub's session.ACL wiring needs, plus
// the guest policy the store itself has no opinion on.
type ACL interface {
	NickRestricted(nick string) bool
	Account(nick string) (cred registry.Credentials, needsPassword bool, found bool)
	VerifyPassword(nick, challenge, response string) bool
}

// Config is the static snapshot a Hub is built from. Name, Desc,
// Owner, AllowGuests and ChatOnly only seed values that the Map-based
// config layer in config.go can change later; Limits and the SID pool
// capacity derived from MaxUsers stay fixed for the Hub's lifetime.
type Config struct {
	Name, Desc, Owner string
	MaxUsers          int
	Limits            limits.Policy
	ACL               ACL
	AllowGuests       bool
	ChatOnly          bool
	Persist           func(key string, val interface{})
}

// Hub wires together the registry, SID pool, router, and event queue
// behind the single-threaded event loop the spec requires (§5): those
// four are only touched on that loop. Methods entered from other
// goroutines (serveConn, ServeIRC, Shutdown) hand that work to the
// loop through runSync.
type Hub struct {
	conf confState

	Registry *registry.Registry
	Sids     *sidpool.Pool
	Queue    *queue.Queue
	Router   *router.Router
	acl      ACL

	// limits holds the per-credential-class share/slot/hub-count
	// bounds (spec §4.8). Operator-authored in hub.yml as a whole
	// Policy value, not individually tunable through the key/value
	// config layer in config.go.
	limits limits.Policy

	persist func(key string, val interface{})

	startedAt time.Time

	mu          sync.Mutex // guards supTemplate cache rebuilds
	supTemplate *adc.Command

	// loopTasks funnels every piece of work that touches
	// Registry/Sids/Router/Queue onto runLoop, the single goroutine
	// those packages assume exclusive ownership from (spec §5). done
	// stops it on Shutdown.
	loopTasks chan loopTask
	done      chan struct{}
}

// loopTask is one closure to run on runLoop, with ack closed once it
// has finished so the submitting goroutine can safely read state the
// closure may have written (e.g. a User's State field).
type loopTask struct {
	fn  func()
	ack chan struct{}
}

// runSync executes fn on runLoop and blocks until it has finished.
// Every caller outside runLoop itself (connection reader goroutines,
// the IRC bridge) must route registry/router/queue/sidpool access
// through this instead of touching Hub fields directly.
func (h *Hub) runSync(fn func()) {
	ack := make(chan struct{})
	h.loopTasks <- loopTask{fn: fn, ack: ack}
	<-ack
}

// runLoop is the hub's single event-loop goroutine.
func (h *Hub) runLoop() {
	for {
		select {
		case <-h.done:
			return
		case t, ok := <-h.loopTasks:
			if !ok {
				return
			}
			t.fn()
			close(t.ack)
		}
	}
}

// New constructs a Hub from its static config, filling in the
// dynamic config layer's defaults.
func New(cfg Config) *Hub {
	h := &Hub{
		Registry:  registry.New(),
		Sids:      sidpool.New(maxOr(cfg.MaxUsers, 1<<16)),
		Queue:     queue.New(),
		acl:       cfg.ACL,
		persist:   cfg.Persist,
		loopTasks: make(chan loopTask),
		done:      make(chan struct{}),
	}
	h.Router = router.New(h.Registry)
	h.Router.ChatOnly = cfg.ChatOnly

	h.conf.Name = cfg.Name
	h.conf.Desc = cfg.Desc
	h.conf.Owner = cfg.Owner
	h.conf.BotName = cfg.Name + "Bot"
	h.conf.AllowGuests = cfg.AllowGuests
	h.conf.ChatOnly = cfg.ChatOnly
	h.conf.HandshakeTimeoutSeconds = int(session.HandshakeTimeout / time.Second)
	h.conf.MaxLineLength = 16 * 1024
	h.conf.MaxNickLength = 64
	h.conf.MaxUsers = maxOr(cfg.MaxUsers, 1<<16)

	h.limits = cfg.Limits
	h.startedAt = time.Now()
	h.rebuildTemplates()
	go h.runLoop()
	return h
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Start resets the uptime clock reported by Stats; it does nothing
// else.
func (h *Hub) Start() error {
	h.startedAt = time.Now()
	return nil
}

// Shutdown disconnects every connected user with a hub-shutdown
// status, drains the event queue one final time, and stops runLoop.
// Must be called from outside runLoop (e.g. a signal handler), never
// from a handler invoked by it.
func (h *Hub) Shutdown(reason string) {
	h.runSync(func() {
		h.Registry.Iter(func(u *registry.User) {
			_ = u.Send(adc.BuildStatus(adc.SevFatal, adc.StatusHubDisabled, reason, ""))
		})
		h.Queue.DrainAll(func(ev queue.Event) {
			h.handleEvent(ev)
		})
	})
	close(h.done)
}

// handleEvent applies one lifecycle event (spec §4.7). serveConn
// (server.go) calls Queue.DrainAll(h.handleEvent) after every
// session.Handle call.
func (h *Hub) handleEvent(ev queue.Event) {
	switch ev.Kind {
	case queue.UserJoin:
		// on_login_success already ran inside session.applyBinf; no
		// further action needed here beyond giving observers (metrics,
		// the IRC bridge) a hook point.
	case queue.UserQuit:
		h.Registry.Remove(ev.User)
		iqui := adc.NewCommand(adc.KindInfo, "QUI")
		iqui.Src = adc.HubSID
		iqui.AddArg(ev.User.SID.String())
		// I-kind commands aren't one of router.Route's addressed kinds
		// (B/D/E/F), so QUI is broadcast straight to the registry
		// instead of routed (spec §4.7, §5 invariant b).
		h.Registry.Iter(func(u *registry.User) {
			if u.State == registry.StateNormal {
				_ = u.Send(iqui)
			}
		})
	case queue.UserDestroy:
		if !ev.User.SID.IsZero() {
			h.Sids.Release(ev.User.SID)
		}
	}
}

// NewSession starts the login state machine for a freshly accepted
// connection.
func (h *Hub) NewSession(u *registry.User) *session.Session {
	return session.New(u, h.Registry, h, h, h.Queue)
}

// WireDispatcher connects the in-band `!`/`+` command interpreter to
// the router and gives it a working `!kick`, answering spec §9's
// Open Question on_kick left unimplemented by the dispatcher alone.
func (h *Hub) WireDispatcher(d *dispatch.Dispatcher) {
	h.Router.Dispatcher = d
	d.SetKickHandler(h.Kick)
}

// Kick disconnects targetNick with a fatal status, provided sender
// outranks the target (spec §4.8's credential ordering). The actual
// registry removal happens through the normal USER_QUIT/USER_DESTROY
// path once the caller's event-loop next drains the queue.
func (h *Hub) Kick(sender *registry.User, targetNick string) error {
	target := h.Registry.ByNick(targetNick)
	if target == nil {
		return ErrNoSuchUser
	}
	if sender.Credentials <= target.Credentials {
		return ErrInsufficientCredentials
	}
	_ = target.Send(adc.BuildStatus(adc.SevFatal, adc.StatusBanTemporary, h.StatusText(adc.StatusBanTemporary), ""))
	target.State = registry.StateCleanup
	h.Queue.PushQuit(target, "kicked by "+sender.Nick)
	return nil
}

// --- session.HubContext ---

func (h *Hub) AcquireSID() (adc.SID, error) { return h.Sids.Acquire() }
func (h *Hub) ReleaseSID(sid adc.SID)       { h.Sids.Release(sid) }

func (h *Hub) SupportTemplate() *adc.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.supTemplate.Copy()
}

// InfoTemplate builds the hub's own IINF (spec §4.6) from the current
// config on every call, adding live user/share counts when live is
// set (for +PING clients). The IINF is not cached.
func (h *Hub) InfoTemplate(live bool, _ *registry.User) *adc.Command {
	c := adc.NewCommand(adc.KindInfo, "INF")
	c.Src = adc.HubSID
	c.SetNamed("NI", h.conf.NameOrDefault())
	c.SetNamed("DE", h.conf.Desc)
	c.SetNamed("VE", "mimicmod/"+version.String())
	if live {
		c.SetNamed("UC", strconv.Itoa(h.Registry.Len()))
		c.SetNamed("SS", strconv.FormatUint(h.Registry.SharedSize(), 10))
		c.SetNamed("SF", strconv.Itoa(h.Registry.SharedFiles()))
		c.SetNamed("MC", strconv.Itoa(h.conf.MaxUsers))
	}
	return c
}

func (h *Hub) MOTD() (*adc.Command, bool) {
	h.conf.RLock()
	motd := h.conf.MOTD
	h.conf.RUnlock()
	if motd == "" {
		return nil, false
	}
	c := adc.NewCommand(adc.KindInfo, "MSG")
	c.Src = adc.HubSID
	c.AddArg(motd)
	return c, true
}

func (h *Hub) MaxLineLength() int {
	h.conf.RLock()
	defer h.conf.RUnlock()
	return h.conf.MaxLineLength
}

func (h *Hub) MaxNickLength() int {
	h.conf.RLock()
	defer h.conf.RUnlock()
	return h.conf.MaxNickLength
}

func (h *Hub) Limits() limits.Policy { return h.limits }

// --- session.ACL passthrough, filling in the guest policy Store
// itself has no opinion on ---

func (h *Hub) AllowGuests() bool {
	h.conf.RLock()
	defer h.conf.RUnlock()
	return h.conf.AllowGuests
}

func (h *Hub) NickRestricted(nick string) bool { return h.acl.NickRestricted(nick) }

func (h *Hub) Account(nick string) (registry.Credentials, bool, bool) {
	return h.acl.Account(nick)
}

func (h *Hub) VerifyPassword(nick, challenge, response string) bool {
	return h.acl.VerifyPassword(nick, challenge, response)
}

// rebuildTemplates recomputes the cached ISUP template, the hub's
// fixed feature list. New and every setConfigString call invoke it;
// the result does not depend on any config value.
func (h *Hub) rebuildTemplates() {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := adc.NewCommand(adc.KindInfo, "SUP")
	for _, f := range []adc.Feature{adc.FeaBASE, adc.FeaTIGR, adc.FeaPING, adc.FeaUCM0} {
		c.AddArg("AD" + string(f))
	}
	h.supTemplate = c
}

func (s *confState) NameOrDefault() string {
	if s.Name == "" {
		return "hub"
	}
	return s.Name
}

// Stats is a point-in-time snapshot for status pages and metrics
// (spec §4.6 "status queries").
type Stats struct {
	Users       int
	MaxUsers    int
	SharedSize  uint64
	SharedFiles int
	Uptime      time.Duration
}

func (h *Hub) Stats() Stats {
	h.conf.RLock()
	maxUsers := h.conf.MaxUsers
	h.conf.RUnlock()
	return Stats{
		Users:       h.Registry.Len(),
		MaxUsers:    maxUsers,
		SharedSize:  h.Registry.SharedSize(),
		SharedFiles: h.Registry.SharedFiles(),
		Uptime:      time.Since(h.startedAt),
	}
}
