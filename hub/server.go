// Connection handling: accept ADC sockets and drive each through
// session.Session on a single event-loop goroutine, matching the
// single-threaded model (spec §5) that registry/router/queue/sidpool
// are built around. Generalizes the teacher's cmd/go-hub/cmd/serve.go
// accept loop, splitting transport out of command-line wiring.
//
// Per-connection goroutines only do socket I/O: line parsing and
// addressing verification read the sender's assigned SID, so both are
// deferred to runLoop along with every other touch of hub state.
// registry.User's Sender sink carries its own lock, so the loop
// goroutine can still write to any connection's socket directly.
package hub

import (
	"bufio"
	"crypto/tls"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"

	"github.com/klondi/mimicmod-lan/internal/adc"
	"github.com/klondi/mimicmod-lan/internal/registry"
	"github.com/klondi/mimicmod-lan/internal/session"
)

var (
	metricConnsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mimicmod_adc_connections_open",
		Help: "Currently open ADC client connections.",
	})
	metricConnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mimicmod_adc_connections_total",
		Help: "Total ADC client connections accepted.",
	})
	metricCommandsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mimicmod_adc_commands_total",
		Help: "Total ADC commands successfully parsed and handled.",
	})
)

func init() {
	prometheus.MustRegister(metricConnsOpen, metricConnsTotal, metricCommandsTotal)
}

// connSink adapts a net.Conn to registry.Sender, serializing every
// outbound command to its ADC wire form.
type connSink struct {
	conn net.Conn
}

func (s *connSink) Send(cmd *adc.Command) error {
	_, err := s.conn.Write(append(cmd.Bytes(), '\n'))
	return err
}

func (s *connSink) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// ListenAndServe accepts ADC connections on addr until the listener is
// closed. If tlsConf is non-nil the listener serves ADCS. maxConns, if
// positive, caps concurrently accepted sockets at accept time via
// netutil.LimitListener, independent of the hub's logged-in user cap
// (spec §4.8 bounds registered users; this bounds raw sockets still in
// the handshake).
func (h *Hub) ListenAndServe(addr string, tlsConf *tls.Config, maxConns int) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go h.serveConn(conn)
	}
}

// serveConn only performs socket I/O: it reads lines and forwards them
// to runLoop for parsing and dispatch. It never touches the registry,
// router, queue, or SID pool itself.
func (h *Hub) serveConn(conn net.Conn) {
	metricConnsTotal.Inc()
	metricConnsOpen.Inc()
	defer metricConnsOpen.Dec()
	defer conn.Close()

	sink := &connSink{conn: conn}
	u := registry.NewUser(sink)
	sess := h.NewSession(u)

	_ = conn.SetReadDeadline(sess.HandshakeDeadline())

	maxLine := h.MaxLineLength()
	reader := bufio.NewReaderSize(conn, maxLine+256)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			h.runSync(func() {
				if u.State != registry.StateCleanup {
					h.Queue.PushQuit(u, "connection closed")
				}
				h.Queue.DrainAll(h.handleEvent)
			})
			return
		}
		if len(line) == 0 {
			continue
		}

		h.runSync(func() {
			cmd, err := adc.ParseAndVerify(line, u.SID, maxLine)
			if err != nil {
				return // malformed lines are dropped, not fatal (spec §4.1)
			}
			metricCommandsTotal.Inc()
			if sess.Handle(cmd) == session.ResultRoute {
				h.Router.Route(u, cmd)
			}
			h.Queue.DrainAll(h.handleEvent)
		})

		if u.State == registry.StateCleanup {
			return // Handle already sent the fatal status (spec §4.8)
		}
		if u.State == registry.StateNormal {
			_ = conn.SetReadDeadline(time.Time{})
		}
	}
}
