package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klondi/mimicmod-lan/internal/adc"
	"github.com/klondi/mimicmod-lan/internal/registry"
)

type recordingSink struct {
	sent []*adc.Command
}

func (s *recordingSink) Send(cmd *adc.Command) error {
	s.sent = append(s.sent, cmd)
	return nil
}
func (s *recordingSink) RemoteAddr() string { return "127.0.0.1:0" }

func newRoutedUser(reg *registry.Registry, sid adc.SID, nick string, cid byte) (*registry.User, *recordingSink) {
	sink := &recordingSink{}
	u := registry.NewUser(sink)
	u.SID = sid
	u.Nick = nick
	u.CID[0] = cid
	u.State = registry.StateNormal
	_, _ = reg.Insert(u)
	return u, sink
}

func TestRouteBroadcastReachesEveryLoggedInUser(t *testing.T) {
	reg := registry.New()
	a, sinkA := newRoutedUser(reg, adc.SID{0, 2}, "alice", 1)
	_, sinkB := newRoutedUser(reg, adc.SID{0, 3}, "bob", 2)

	r := New(reg)
	cmd := adc.NewCommand(adc.KindBroadcast, "MSG")
	cmd.Src = a.SID
	cmd.AddArg("hello")

	sent := r.Route(a, cmd)
	assert.Len(t, sent, 2)
	assert.Len(t, sinkA.sent, 1)
	assert.Len(t, sinkB.sent, 1)
}

func TestRouteDirectReachesOnlyTarget(t *testing.T) {
	reg := registry.New()
	a, _ := newRoutedUser(reg, adc.SID{0, 2}, "alice", 1)
	b, sinkB := newRoutedUser(reg, adc.SID{0, 3}, "bob", 2)
	_, sinkC := newRoutedUser(reg, adc.SID{0, 4}, "carol", 3)

	r := New(reg)
	cmd := adc.NewCommand(adc.KindDirect, "MSG")
	cmd.Src = a.SID
	cmd.Dst = b.SID
	cmd.AddArg("hi")

	sent := r.Route(a, cmd)
	require.Len(t, sent, 1)
	assert.Same(t, b, sent[0])
	assert.Len(t, sinkB.sent, 1)
	assert.Len(t, sinkC.sent, 0)
}

func TestRouteEchoReachesTargetAndSender(t *testing.T) {
	reg := registry.New()
	a, sinkA := newRoutedUser(reg, adc.SID{0, 2}, "alice", 1)
	b, sinkB := newRoutedUser(reg, adc.SID{0, 3}, "bob", 2)

	r := New(reg)
	cmd := adc.NewCommand(adc.KindEcho, "MSG")
	cmd.Src = a.SID
	cmd.Dst = b.SID
	cmd.AddArg("hi")

	sent := r.Route(a, cmd)
	assert.Len(t, sent, 2)
	assert.Len(t, sinkA.sent, 1)
	assert.Len(t, sinkB.sent, 1)
}

func TestRouteFeatureFilterOnlyDeliversMatchingUsers(t *testing.T) {
	reg := registry.New()
	a, _ := newRoutedUser(reg, adc.SID{0, 2}, "alice", 1)
	b, sinkB := newRoutedUser(reg, adc.SID{0, 3}, "bob", 2)
	c, sinkC := newRoutedUser(reg, adc.SID{0, 4}, "carol", 3)
	b.Supported[adc.FeaPING] = true

	r := New(reg)
	cmd := adc.NewCommand(adc.KindFeature, "MSG")
	cmd.Src = a.SID
	cmd.Sel = []adc.FeatureSel{{Tag: "PING", Add: true}}
	cmd.AddArg("hi")

	sent := r.Route(a, cmd)
	require.Len(t, sent, 1)
	assert.Same(t, b, sent[0])
	assert.Len(t, sinkB.sent, 1)
	assert.Len(t, sinkC.sent, 0)
	_ = c
}

func TestChatOnlyDropsSearchFromGuest(t *testing.T) {
	reg := registry.New()
	a, _ := newRoutedUser(reg, adc.SID{0, 2}, "alice", 1)
	a.Credentials = registry.CredGuest
	_, sinkB := newRoutedUser(reg, adc.SID{0, 3}, "bob", 2)

	r := New(reg)
	r.ChatOnly = true
	cmd := adc.NewCommand(adc.KindBroadcast, "SCH")
	cmd.Src = a.SID
	cmd.AddArg("TRfoo")

	sent := r.Route(a, cmd)
	assert.Nil(t, sent)
	assert.Len(t, sinkB.sent, 0)
}

func TestChatOnlyAllowsSearchFromOperator(t *testing.T) {
	reg := registry.New()
	a, _ := newRoutedUser(reg, adc.SID{0, 2}, "alice", 1)
	a.Credentials = registry.CredOperator
	_, sinkB := newRoutedUser(reg, adc.SID{0, 3}, "bob", 2)

	r := New(reg)
	r.ChatOnly = true
	cmd := adc.NewCommand(adc.KindBroadcast, "SCH")
	cmd.Src = a.SID
	cmd.AddArg("TRfoo")

	sent := r.Route(a, cmd)
	assert.Len(t, sent, 2)
	assert.Len(t, sinkB.sent, 1)
}

type stubDispatcher struct {
	relay bool
	calls int
}

func (d *stubDispatcher) Dispatch(sender *registry.User, text string) (bool, error) {
	d.calls++
	return d.relay, nil
}

func TestInBandCommandConsumedWhenRelayFalse(t *testing.T) {
	reg := registry.New()
	a, _ := newRoutedUser(reg, adc.SID{0, 2}, "alice", 1)
	_, sinkB := newRoutedUser(reg, adc.SID{0, 3}, "bob", 2)

	disp := &stubDispatcher{relay: false}
	r := New(reg)
	r.Dispatcher = disp

	cmd := adc.NewCommand(adc.KindBroadcast, "MSG")
	cmd.Src = a.SID
	cmd.AddArg("!kick bob")

	sent := r.Route(a, cmd)
	assert.Nil(t, sent)
	assert.Equal(t, 1, disp.calls)
	assert.Len(t, sinkB.sent, 0)
}

func TestInBandCommandRelayedWhenTrue(t *testing.T) {
	reg := registry.New()
	a, _ := newRoutedUser(reg, adc.SID{0, 2}, "alice", 1)
	_, sinkB := newRoutedUser(reg, adc.SID{0, 3}, "bob", 2)

	disp := &stubDispatcher{relay: true}
	r := New(reg)
	r.Dispatcher = disp

	cmd := adc.NewCommand(adc.KindBroadcast, "MSG")
	cmd.Src = a.SID
	cmd.AddArg("!unknown")

	sent := r.Route(a, cmd)
	assert.Len(t, sent, 2)
	assert.Len(t, sinkB.sent, 1)
}
