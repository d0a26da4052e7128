// Package queue implements the hub's single-threaded deferred
// user-lifecycle event queue (spec §4.7). It exists to decouple I/O
// callbacks, which hold borrowed user references, from destructive
// mutations that would invalidate those references mid-callback.
package queue

import "github.com/klondi/mimicmod-lan/internal/registry"

// Kind identifies a lifecycle event.
type Kind int

const (
	// UserJoin fires after BINF validation (NeedsPassword set when a
	// challenge was issued). The session has already sent the password
	// challenge or completed on_login_success before pushing it; the
	// handler does neither.
	UserJoin Kind = iota
	// UserQuit fires on logout; the handler removes the user from the
	// registry and broadcasts IQUI, then schedules UserDestroy.
	UserQuit
	// UserDestroy fires after UserQuit for the same user; the handler
	// frees any remaining per-user state.
	UserDestroy
)

func (k Kind) String() string {
	switch k {
	case UserJoin:
		return "user_join"
	case UserQuit:
		return "user_quit"
	case UserDestroy:
		return "user_destroy"
	default:
		return "unknown"
	}
}

// Event carries one lifecycle transition and its user.
type Event struct {
	Kind Kind
	User *registry.User

	NeedsPassword bool // only meaningful for UserJoin
	Reason        string // only meaningful for UserQuit
}

// Queue is an ordered, single-threaded FIFO of pending lifecycle
// events. All Push/Drain calls happen on the hub's event-loop thread
// (spec §5); it holds no internal locking.
type Queue struct {
	pending []Event

	// destroyed tracks users whose UserDestroy has been pushed and not
	// yet drained, so a second UserQuit for the same user before the
	// next Drain cannot schedule a duplicate destroy. Drain clears the
	// entry, so a later cycle can push a destroy again.
	destroyed map[*registry.User]bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{destroyed: make(map[*registry.User]bool)}
}

// Push enqueues an event at the tail.
func (q *Queue) Push(ev Event) {
	if ev.Kind == UserDestroy && q.destroyed[ev.User] {
		return
	}
	if ev.Kind == UserDestroy {
		q.destroyed[ev.User] = true
	}
	q.pending = append(q.pending, ev)
}

// PushJoin enqueues a USER_JOIN event.
func (q *Queue) PushJoin(u *registry.User, needsPassword bool) {
	q.Push(Event{Kind: UserJoin, User: u, NeedsPassword: needsPassword})
}

// PushQuit enqueues a USER_QUIT event, immediately followed by its
// paired USER_DESTROY so the hard per-user ordering invariant
// (DESTROY always after QUIT) cannot be violated by an intervening
// Push from elsewhere in the same drain.
func (q *Queue) PushQuit(u *registry.User, reason string) {
	q.Push(Event{Kind: UserQuit, User: u, Reason: reason})
	q.Push(Event{Kind: UserDestroy, User: u})
}

// Len reports the number of pending events.
func (q *Queue) Len() int { return len(q.pending) }

// Drain removes and returns every currently pending event, in FIFO
// order. Events pushed by a handler while draining are not included
// in the same Drain call (they land in the next one), matching a
// quiescent-point queue: the loop re-invokes Drain until it is empty.
func (q *Queue) Drain() []Event {
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	for _, ev := range out {
		if ev.Kind == UserDestroy {
			delete(q.destroyed, ev.User)
		}
	}
	return out
}

// DrainAll repeatedly drains until the queue is empty, calling fn for
// every event in order. Handlers are free to Push more events (e.g. a
// UserJoin handler calling on_login_success might itself enqueue
// nothing further, but a kick command enqueues QUIT from inside a
// dispatch that is itself draining a join); DrainAll keeps processing
// until a full pass adds nothing new.
func (q *Queue) DrainAll(fn func(Event)) {
	for {
		batch := q.Drain()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			fn(ev)
		}
	}
}
