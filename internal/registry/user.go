// Package registry implements the ADC hub's user registry (spec §4.4):
// an indexed collection of connected users keyed by SID, nick, and
// CID, enforcing the hub's uniqueness invariants.
package registry

import (
	"sync"
	"time"

	"github.com/klondi/mimicmod-lan/internal/adc"
)

// Credentials is the ordered privilege level controlling which
// policies and limits apply to a user.
type Credentials int

const (
	CredGuest Credentials = iota
	CredUser
	CredOperator
	CredSuper
	CredAdmin
	CredLink // hub-side pseudo-credential, never held by a real client
)

func (c Credentials) String() string {
	switch c {
	case CredGuest:
		return "guest"
	case CredUser:
		return "user"
	case CredOperator:
		return "operator"
	case CredSuper:
		return "super"
	case CredAdmin:
		return "admin"
	case CredLink:
		return "link"
	default:
		return "unknown"
	}
}

// State is the session state machine's current stage, per spec §4.3.
type State int

const (
	StateProtocol State = iota
	StateIdentify
	StateVerify
	StateNormal
	StateCleanup
)

func (s State) String() string {
	switch s {
	case StateProtocol:
		return "protocol"
	case StateIdentify:
		return "identify"
	case StateVerify:
		return "verify"
	case StateNormal:
		return "normal"
	case StateCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Flag is a bitset of per-user behavioral flags.
type Flag uint32

const (
	// FlagPing marks a client that identified itself as a monitoring
	// probe (SUP +PING); its IINF is decorated with live counts.
	FlagPing Flag = 1 << iota
)

// Sender is the minimal outbound interface a user's transport must
// provide; it lets the registry and router stay transport-agnostic
// (an ADC socket, or an IRC bridge peer sharing the same SID space).
type Sender interface {
	Send(*adc.Command) error
	RemoteAddr() string
}

// User is the per-connected-client state owned exclusively by the
// registry from insertion until its destroy event fires (spec §3
// "Lifecycle ownership").
type User struct {
	SID adc.SID
	CID adc.CID
	Nick string

	Credentials Credentials
	State       State
	Supported   adc.FeatureSet
	Flags       Flag

	ShareSize  uint64 // bytes
	ShareFiles int
	Slots      int
	HubsNormal int
	HubsReg    int
	HubsOp     int

	// PasswordChallenge is the base-32 IGPA challenge issued on entry
	// to the verify state; empty once the user leaves verify.
	PasswordChallenge string

	ConnectedAt time.Time

	mu   sync.Mutex
	sink Sender
}

// NewUser creates a user bound to the given transport sink, in the
// protocol state.
func NewUser(sink Sender) *User {
	return &User{
		State:       StateProtocol,
		Supported:   make(adc.FeatureSet),
		ConnectedAt: time.Now(),
		sink:        sink,
	}
}

// Send delivers a command to the user's transport. The only lock it
// takes is the user's own, held while reading the sink.
func (u *User) Send(cmd *adc.Command) error {
	u.mu.Lock()
	sink := u.sink
	u.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Send(cmd)
}

func (u *User) RemoteAddr() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sink == nil {
		return ""
	}
	return u.sink.RemoteAddr()
}
