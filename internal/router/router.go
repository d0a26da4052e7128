// Package router implements the hub's post-login message router
// (spec §4.5): given a verified command whose source SID is the
// sender, it selects zero or more recipient users per ADC addressing
// rules and re-serializes any rewritten command before sending.
package router

import (
	"github.com/klondi/mimicmod-lan/internal/adc"
	"github.com/klondi/mimicmod-lan/internal/registry"
)

// Dispatcher handles in-band `!`/`+` commands extracted from chat
// text. It returns relay=true if the message should still be routed
// normally, relay=false if it was consumed by the interpreter.
type Dispatcher interface {
	Dispatch(sender *registry.User, text string) (relay bool, err error)
}

// searchCodes is the set of command codes restricted in chat-only
// mode, independent of their addressing kind.
var searchCodes = map[string]bool{
	"SCH": true,
	"RES": true,
	"RCM": true,
	"CTM": true,
}

// Router directs commands among the users held by a Registry.
type Router struct {
	Registry *registry.Registry

	// ChatOnly, when true, discards search/connect traffic from
	// below-operator senders before routing (spec §4.5 "Chat-only
	// mode"). This is an explicit field check, not a switch
	// fall-through (see REDESIGN FLAGS).
	ChatOnly bool

	// Dispatcher receives chat text beginning with `!` or `+`. May be
	// nil, in which case such messages are always relayed.
	Dispatcher Dispatcher
}

// New creates a router bound to a registry.
func New(reg *registry.Registry) *Router {
	return &Router{Registry: reg}
}

// chatOnlyBlocked reports whether cmd must be silently discarded
// under chat-only policy (spec §4.5): search/connect kinds from any
// sender whose credentials are below operator.
func (r *Router) chatOnlyBlocked(cmd *adc.Command, senderCreds registry.Credentials) bool {
	if !r.ChatOnly {
		return false
	}
	if senderCreds >= registry.CredOperator {
		return false
	}
	return searchCodes[cmd.Code]
}

// isChatMessage reports whether cmd carries plain chat text subject
// to in-band command interception (BMSG/DMSG/EMSG/FMSG).
func isChatMessage(cmd *adc.Command) bool {
	return cmd.Code == "MSG"
}

// Route delivers cmd from sender to its recipients, per §4.5. It
// returns the list of users the command was actually sent to (for
// testing and metrics); a nil Registry entry or routing failure for
// one recipient does not abort delivery to others.
func (r *Router) Route(sender *registry.User, cmd *adc.Command) []*registry.User {
	if r.chatOnlyBlocked(cmd, sender.Credentials) {
		return nil
	}

	if isChatMessage(cmd) && r.Dispatcher != nil {
		if text, ok := chatText(cmd); ok && isInBand(text) {
			relay, err := r.Dispatcher.Dispatch(sender, text)
			if err == nil && !relay {
				return nil
			}
		}
	}

	switch cmd.Kind {
	case adc.KindBroadcast:
		return r.deliverAll(cmd, nil)
	case adc.KindFeature:
		return r.deliverAll(cmd, func(u *registry.User) bool {
			return adc.SatisfiesFilter(u.Supported, cmd.Sel)
		})
	case adc.KindDirect:
		return r.deliverOne(cmd, cmd.Dst)
	case adc.KindEcho:
		recipients := r.deliverOne(cmd, cmd.Dst)
		if sender != nil {
			_ = sender.Send(cmd)
			recipients = append(recipients, sender)
		}
		return recipients
	default:
		return nil
	}
}

func (r *Router) deliverAll(cmd *adc.Command, filter func(*registry.User) bool) []*registry.User {
	var sent []*registry.User
	r.Registry.Iter(func(u *registry.User) {
		if u.State != registry.StateNormal {
			return
		}
		if filter != nil && !filter(u) {
			return
		}
		if err := u.Send(cmd); err == nil {
			sent = append(sent, u)
		}
	})
	return sent
}

func (r *Router) deliverOne(cmd *adc.Command, dst adc.SID) []*registry.User {
	u := r.Registry.BySID(dst)
	if u == nil || u.State != registry.StateNormal {
		return nil
	}
	if err := u.Send(cmd); err != nil {
		return nil
	}
	return []*registry.User{u}
}

// chatText extracts the free-form message text from an MSG command's
// first positional argument.
func chatText(cmd *adc.Command) (string, bool) {
	args := cmd.Args()
	if len(args) == 0 {
		return "", false
	}
	return args[0], true
}

func isInBand(text string) bool {
	return len(text) > 0 && (text[0] == '!' || text[0] == '+')
}
