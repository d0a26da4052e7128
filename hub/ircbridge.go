// IRC bridge peer (SPEC_FULL.md's "Bridge peer" addition): an IRC
// client attaches to the hub's global chat without speaking ADC at
// all, generalizing the teacher's hub_irc.go ircPeer/ServeIRC shape.
// Bridge peers get the hub-side CredLink credential, never a SID, and
// never see search/file-sharing traffic (§4.5's search codes are
// ADC-only by construction: nothing here ever calls adc.ParseLine).
package hub

import (
	"fmt"
	"net"
	"time"

	"github.com/go-irc/irc"

	"github.com/klondi/mimicmod-lan/internal/adc"
	"github.com/klondi/mimicmod-lan/internal/registry"
	"github.com/klondi/mimicmod-lan/version"
)

const ircHubChannel = "#hub"

// ircSink adapts an IRC connection to registry.Sender so bridge chat
// can flow through the same Router.Route path as ADC peers: an MSG
// command delivered to the bridge user gets rewritten into a PRIVMSG
// line here instead of wire ADC bytes; every other command is dropped.
type ircSink struct {
	conn net.Conn
	c    *irc.Conn
	reg  *registry.Registry
}

func (s *ircSink) Send(cmd *adc.Command) error {
	if cmd.Code != "MSG" {
		return nil // search/connect/file commands never reach IRC peers
	}
	args := cmd.Args()
	if len(args) == 0 {
		return nil
	}
	from := "hub"
	if cmd.Src != adc.HubSID {
		if u := s.reg.BySID(cmd.Src); u != nil {
			from = u.Nick
		}
	}
	return s.c.WriteMessage(&irc.Message{
		Prefix:  &irc.Prefix{Name: from},
		Command: "PRIVMSG",
		Params:  []string{ircHubChannel, args[0]},
	})
}

func (s *ircSink) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// ServeIRC handles one IRC connection for the lifetime of the TCP
// socket: handshake, welcome burst, then a PRIVMSG/PING/QUIT loop
// bridged onto the hub's registry and router.
func (h *Hub) ServeIRC(conn net.Conn) error {
	defer conn.Close()
	c := irc.NewConn(conn)

	nick, err := h.ircHandshake(conn, c)
	if err != nil {
		return err
	}

	sink := &ircSink{conn: conn, c: c, reg: h.Registry}
	u := registry.NewUser(sink)
	u.Nick = nick
	u.Credentials = registry.CredLink
	u.State = registry.StateNormal

	var insertErr error
	h.runSync(func() {
		_, insertErr = h.Registry.Insert(u)
	})
	if insertErr != nil {
		return insertErr
	}
	defer h.runSync(func() {
		h.Queue.PushQuit(u, "irc disconnect")
		h.Queue.DrainAll(h.handleEvent)
	})

	if err := h.ircWelcome(c, nick); err != nil {
		return err
	}

	for {
		m, err := c.ReadMessage()
		if err != nil {
			return err
		}
		switch m.Command {
		case "PING":
			_ = c.WriteMessage(&irc.Message{Command: "PONG", Params: m.Params})
		case "PRIVMSG":
			if len(m.Params) != 2 || m.Params[0] != ircHubChannel {
				continue
			}
			msg := adc.NewCommand(adc.KindBroadcast, "MSG")
			msg.AddArg(nick + ": " + m.Params[1])
			h.runSync(func() {
				h.Router.Route(u, msg)
			})
		case "QUIT":
			return nil
		}
	}
}

func (h *Hub) ircHandshake(conn net.Conn, c *irc.Conn) (nick string, err error) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	var haveUser bool
	for {
		m, err := c.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("hub: irc handshake: %w", err)
		}
		switch m.Command {
		case "USER":
			haveUser = true
		case "NICK":
			if len(m.Params) != 1 {
				return "", fmt.Errorf("hub: irc handshake: malformed NICK")
			}
			candidate := m.Params[0]
			var rejected bool
			h.runSync(func() {
				rejected = h.acl.NickRestricted(candidate) || h.Registry.NickTaken(candidate)
			})
			if rejected {
				_ = c.WriteMessage(&irc.Message{Command: "433", Params: []string{"*", candidate, "nick in use"}})
				continue
			}
			if haveUser {
				return candidate, nil
			}
			nick = candidate
		}
		if nick != "" && haveUser {
			return nick, nil
		}
	}
}

func (h *Hub) ircWelcome(c *irc.Conn, nick string) error {
	pref := &irc.Prefix{Name: h.conf.NameOrDefault()}
	msgs := []*irc.Message{
		{Prefix: pref, Command: "001", Params: []string{nick, "Welcome to " + h.conf.NameOrDefault()}},
		{Prefix: pref, Command: "002", Params: []string{nick, "Running mimicmod-lan/" + version.String()}},
		{Prefix: pref, Command: "376", Params: []string{nick, "End of MOTD"}},
		{Prefix: &irc.Prefix{Name: nick}, Command: "JOIN", Params: []string{ircHubChannel}},
	}
	for _, m := range msgs {
		if err := c.WriteMessage(m); err != nil {
			return err
		}
	}
	return nil
}
