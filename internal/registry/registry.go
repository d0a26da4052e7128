package registry

import (
	"errors"

	"github.com/klondi/mimicmod-lan/internal/adc"
)

// Conflict is the possible rejection a registry mutation reports, so
// the session state machine can pick the exact ISTA status code.
type Conflict int

const (
	ConflictNone Conflict = iota
	ConflictNick
	ConflictCID
)

var ErrNickTaken = errors.New("registry: nick taken")
var ErrCIDTaken = errors.New("registry: cid taken")

// Registry is the indexed collection of connected users (spec §4.4).
// All mutation happens on the hub's single event-loop thread, so it
// carries no internal locking (spec §5).
type Registry struct {
	bySID map[adc.SID]*User
	byNick map[string]*User
	byCID map[adc.CID]*User

	order []adc.SID // insertion order, for Iter

	sharedSize  uint64
	sharedFiles int
}

func New() *Registry {
	return &Registry{
		bySID:  make(map[adc.SID]*User),
		byNick: make(map[string]*User),
		byCID:  make(map[adc.CID]*User),
	}
}

// NickTaken reports whether a nick is already bound to a connected
// user.
func (r *Registry) NickTaken(nick string) bool {
	_, ok := r.byNick[nick]
	return ok
}

// CIDTaken reports whether a CID is already bound to a connected user.
func (r *Registry) CIDTaken(cid adc.CID) bool {
	_, ok := r.byCID[cid]
	return ok
}

// Insert adds a user to all three indexes, failing with the
// conflicting kind if its nick or CID is already taken.
func (r *Registry) Insert(u *User) (Conflict, error) {
	if r.NickTaken(u.Nick) {
		return ConflictNick, ErrNickTaken
	}
	if r.CIDTaken(u.CID) {
		return ConflictCID, ErrCIDTaken
	}
	r.bySID[u.SID] = u
	r.byNick[u.Nick] = u
	r.byCID[u.CID] = u
	r.order = append(r.order, u.SID)
	r.sharedSize += u.ShareSize
	r.sharedFiles += u.ShareFiles
	return ConflictNone, nil
}

// Remove deletes a user from all indexes and updates the share
// aggregates. It does not return the user's SID to an allocator; the
// caller (hub controller) owns that.
func (r *Registry) Remove(u *User) {
	if _, ok := r.bySID[u.SID]; !ok {
		return
	}
	delete(r.bySID, u.SID)
	if cur, ok := r.byNick[u.Nick]; ok && cur == u {
		delete(r.byNick, u.Nick)
	}
	if cur, ok := r.byCID[u.CID]; ok && cur == u {
		delete(r.byCID, u.CID)
	}
	r.sharedSize -= u.ShareSize
	r.sharedFiles -= u.ShareFiles
	for i, sid := range r.order {
		if sid == u.SID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Rename updates the nick index for a user whose BINF update changed
// NI, re-enforcing uniqueness first.
func (r *Registry) Rename(u *User, newNick string) error {
	if newNick == u.Nick {
		return nil
	}
	if r.NickTaken(newNick) {
		return ErrNickTaken
	}
	delete(r.byNick, u.Nick)
	u.Nick = newNick
	r.byNick[newNick] = u
	return nil
}

// UpdateShare adjusts the share aggregates when a user's SS/SF change
// via a BINF update.
func (r *Registry) UpdateShare(u *User, newSize uint64, newFiles int) {
	r.sharedSize += newSize - u.ShareSize
	r.sharedFiles += newFiles - u.ShareFiles
	u.ShareSize = newSize
	u.ShareFiles = newFiles
}

func (r *Registry) BySID(sid adc.SID) *User   { return r.bySID[sid] }
func (r *Registry) ByNick(nick string) *User  { return r.byNick[nick] }
func (r *Registry) ByCID(cid adc.CID) *User   { return r.byCID[cid] }

func (r *Registry) Len() int { return len(r.bySID) }

func (r *Registry) SharedSize() uint64 { return r.sharedSize }
func (r *Registry) SharedFiles() int   { return r.sharedFiles }

// Iter calls fn for every user in insertion order. fn may remove
// unrelated entries; removing the current element mid-traversal is
// not safe and restarts are the caller's responsibility (spec §4.4).
func (r *Registry) Iter(fn func(*User)) {
	sids := make([]adc.SID, len(r.order))
	copy(sids, r.order)
	for _, sid := range sids {
		if u, ok := r.bySID[sid]; ok {
			fn(u)
		}
	}
}

// LoggedIn returns every user currently in the normal state.
func (r *Registry) LoggedIn() []*User {
	out := make([]*User, 0, len(r.bySID))
	r.Iter(func(u *User) {
		if u.State == StateNormal {
			out = append(out, u)
		}
	})
	return out
}
