// Package limits implements the hub's share, slot, and hub-count
// policy enforcement per credential class (spec §4.8).
package limits

import "github.com/klondi/mimicmod-lan/internal/registry"

// Bounds is an inclusive [Min, Max] range. A zero Max means
// unbounded.
type Bounds struct {
	Min uint64
	Max uint64
}

func (b Bounds) contains(v uint64) bool {
	if v < b.Min {
		return false
	}
	if b.Max != 0 && v > b.Max {
		return false
	}
	return true
}

// Class holds the share/slot/hub-count bounds for one credential
// class. Share values are in bytes on the wire; callers configure
// them in MiB and convert once at load time.
type Class struct {
	Share Bounds
	Slots Bounds
	Hubs  Bounds
}

// Policy is the hub-wide limits configuration, independently bound
// per credential class (guest/registered/operator have independent
// bounds per spec §4.8).
type Policy struct {
	Guest    Class
	User     Class
	Operator Class
}

func (p Policy) classFor(cred registry.Credentials) Class {
	switch {
	case cred >= registry.CredOperator:
		return p.Operator
	case cred == registry.CredUser:
		return p.User
	default:
		return p.Guest
	}
}

// Violation names which field failed and whether it was too low or
// too high, for diagnostic-flag construction by the caller.
type Violation struct {
	Field string // "SS", "SL", or "" for hub-count
	Code  string // "low" or "high"
}

// CheckShare validates a share size (bytes) against the class bounds.
func (p Policy) CheckShare(cred registry.Credentials, shareSize uint64) *Violation {
	b := p.classFor(cred).Share
	if shareSize < b.Min {
		return &Violation{Field: "SS", Code: "low"}
	}
	if b.Max != 0 && shareSize > b.Max {
		return &Violation{Field: "SS", Code: "high"}
	}
	return nil
}

// CheckSlots validates a slot count against the class bounds.
func (p Policy) CheckSlots(cred registry.Credentials, slots int) *Violation {
	b := p.classFor(cred).Slots
	v := uint64(slots)
	if slots < 0 || v < b.Min {
		return &Violation{Field: "SL", Code: "low"}
	}
	if b.Max != 0 && v > b.Max {
		return &Violation{Field: "SL", Code: "high"}
	}
	return nil
}

// CheckHubs validates the sum of a user's normal/registered/operator
// hub counts (HN+HR+HO) against the class bounds.
func (p Policy) CheckHubs(cred registry.Credentials, hn, hr, ho int) *Violation {
	b := p.classFor(cred).Hubs
	total := uint64(hn + hr + ho)
	if hn < 0 || hr < 0 || ho < 0 || total < b.Min {
		return &Violation{Field: "", Code: "low"}
	}
	if b.Max != 0 && total > b.Max {
		return &Violation{Field: "", Code: "high"}
	}
	return nil
}
