// Package dispatch implements the hub's in-band command interpreter
// (spec §4.5 "In-band commands", an external collaborator per §1):
// chat text beginning with `!` or `+` is handed to a Lua-scripted
// table of commands, generalizing `command_dipatcher` from the
// original hub.c and the plugin-registration pattern in
// hub/plugins/myip.
package dispatch

import (
	"fmt"
	"strings"

	lua "github.com/Shopify/go-lua"

	"github.com/klondi/mimicmod-lan/internal/adc"
	"github.com/klondi/mimicmod-lan/internal/registry"
)

// hubChatLine builds a hub-origin informational chat message (IMSG)
// carrying a command reply.
func hubChatLine(text string) *adc.Command {
	c := adc.NewCommand(adc.KindInfo, "MSG")
	c.AddArg(text)
	return c
}

// ErrNotImplemented is returned by hooks the source leaves
// unimplemented (spec §9 Open Questions: on_kick, HCHK).
var ErrNotImplemented = fmt.Errorf("dispatch: not implemented")

// Reply is how a command function talks back to its caller; the
// dispatcher relays it as a hub-origin chat message to the sender.
type Reply func(text string)

// Dispatcher runs the hub's in-band commands: built-in Go commands
// (myip, kick) first, then the Lua `commands` table of the loaded
// script. The built-ins live in a Go map only; they are not exposed
// to Lua, so a script cannot call them.
type Dispatcher struct {
	l       *lua.State
	onKick  func(sender *registry.User, targetNick string) error
	builtin map[string]func(sender *registry.User, args string, reply Reply) error
}

// New creates a dispatcher and loads its command script.
func New(script string) (*Dispatcher, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)

	d := &Dispatcher{l: l, builtin: make(map[string]func(sender *registry.User, args string, reply Reply) error)}
	d.registerBuiltins()

	if script != "" {
		if err := lua.DoString(l, script); err != nil {
			return nil, fmt.Errorf("dispatch: loading script: %w", err)
		}
	}
	return d, nil
}

// Register adds a Go-implemented command, invoked before falling back
// to the Lua `commands` table.
func (d *Dispatcher) Register(name string, fn func(sender *registry.User, args string, reply Reply) error) {
	d.builtin[strings.ToLower(name)] = fn
}

func (d *Dispatcher) registerBuiltins() {
	d.Register("myip", func(sender *registry.User, _ string, reply Reply) error {
		reply(fmt.Sprintf("your address: %s", sender.RemoteAddr()))
		return nil
	})
	d.Register("kick", func(sender *registry.User, args string, reply Reply) error {
		if d.onKick == nil {
			return ErrNotImplemented
		}
		return d.onKick(sender, strings.TrimSpace(args))
	})
}

// SetKickHandler installs the hub's kick implementation. Left unset,
// !kick returns ErrNotImplemented per spec §9's Open Questions.
func (d *Dispatcher) SetKickHandler(fn func(sender *registry.User, targetNick string) error) {
	d.onKick = fn
}

// Dispatch parses a chat message beginning with `!` or `+` into a
// command name and argument string, runs it, and reports whether the
// message should still be relayed to other users (always false for a
// recognized in-band command; true if nothing handled it, per spec
// §4.5's "if 1, it is routed normally").
func (d *Dispatcher) Dispatch(sender *registry.User, text string) (relay bool, err error) {
	if len(text) == 0 {
		return true, nil
	}
	body := strings.TrimSpace(text[1:])
	if body == "" {
		return true, nil
	}
	name, args := splitCommand(body)

	var out []string
	reply := func(s string) { out = append(out, s) }

	if fn, ok := d.builtin[strings.ToLower(name)]; ok {
		if err := fn(sender, args, reply); err != nil && err != ErrNotImplemented {
			return false, err
		}
	} else if !d.callLua(name, sender, args, reply) {
		return true, nil
	}

	for _, line := range out {
		_ = sender.Send(hubChatLine(line))
	}
	return false, nil
}

// callLua invokes commands[name](nick, credentials, args) if the Lua
// `commands` table defines it, reporting whether the call happened.
func (d *Dispatcher) callLua(name string, sender *registry.User, args string, reply Reply) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			handled = false
		}
	}()
	l := d.l
	l.Global("commands")
	if !l.IsTable(-1) {
		l.Pop(1)
		return false
	}
	l.Field(-1, strings.ToLower(name))
	if !l.IsFunction(-1) {
		l.Pop(2)
		return false
	}
	l.PushString(sender.Nick)
	l.PushInteger(int(sender.Credentials))
	l.PushString(args)
	l.Call(3, 1)
	if s, ok := l.ToString(-1); ok && s != "" {
		reply(s)
	}
	l.Pop(2)
	return true
}

func splitCommand(body string) (name, args string) {
	i := strings.IndexByte(body, ' ')
	if i < 0 {
		return body, ""
	}
	return body[:i], strings.TrimSpace(body[i+1:])
}
