package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klondi/mimicmod-lan/hub/store"
	"github.com/klondi/mimicmod-lan/internal/adc"
	"github.com/klondi/mimicmod-lan/internal/registry"
)

type nopSink struct{ addr string }

func (n *nopSink) Send(*adc.Command) error { return nil }
func (n *nopSink) RemoteAddr() string      { return n.addr }

func newTestHub(t *testing.T) (*Hub, *store.Store) {
	t.Helper()
	s := store.OpenMemory()
	h := New(Config{
		Name:        "TestHub",
		Desc:        "a hub",
		MaxUsers:    10,
		ACL:         s,
		AllowGuests: true,
	})
	return h, s
}

func loggedInUser(t *testing.T, h *Hub, nick string, cred registry.Credentials) *registry.User {
	t.Helper()
	u := registry.NewUser(&nopSink{addr: "203.0.113.1:412"})
	sid, err := h.AcquireSID()
	require.NoError(t, err)
	u.SID = sid
	u.Nick = nick
	u.CID = adc.CID{byte(len(nick)) + 1}
	u.Credentials = cred
	u.State = registry.StateNormal
	_, err = h.Registry.Insert(u)
	require.NoError(t, err)
	return u
}

func TestSupportTemplateAdvertisesBase(t *testing.T) {
	h, _ := newTestHub(t)
	sup := h.SupportTemplate()
	assert.Equal(t, adc.KindInfo, sup.Kind)
	assert.Contains(t, sup.Args(), "AD"+string(adc.FeaBASE))
}

func TestInfoTemplateOmitsLiveCountsUnlessRequested(t *testing.T) {
	h, _ := newTestHub(t)
	loggedInUser(t, h, "alice", registry.CredUser)

	quiet := h.InfoTemplate(false, nil)
	_, ok := quiet.GetNamed("UC")
	assert.False(t, ok)

	live := h.InfoTemplate(true, nil)
	uc, ok := live.GetNamed("UC")
	assert.True(t, ok)
	assert.Equal(t, "1", uc)
}

func TestMOTDAbsentByDefault(t *testing.T) {
	h, _ := newTestHub(t)
	_, ok := h.MOTD()
	assert.False(t, ok)

	h.SetConfigString(ConfigHubMOTD, "welcome!")
	cmd, ok := h.MOTD()
	require.True(t, ok)
	assert.Equal(t, "welcome!", cmd.Arg(0))
}

func TestAllowGuestsReflectsConfig(t *testing.T) {
	h, _ := newTestHub(t)
	assert.True(t, h.AllowGuests())
	h.SetConfigBool(ConfigAllowGuests, false)
	assert.False(t, h.AllowGuests())
}

func TestKickRequiresOutranking(t *testing.T) {
	h, _ := newTestHub(t)
	op := loggedInUser(t, h, "op", registry.CredOperator)
	peer := loggedInUser(t, h, "peer", registry.CredOperator)

	err := h.Kick(peer, op.Nick)
	assert.ErrorIs(t, err, ErrInsufficientCredentials)
}

func TestKickUnknownNick(t *testing.T) {
	h, _ := newTestHub(t)
	op := loggedInUser(t, h, "op", registry.CredOperator)

	err := h.Kick(op, "ghost")
	assert.ErrorIs(t, err, ErrNoSuchUser)
}

func TestKickEnqueuesQuitAndDestroy(t *testing.T) {
	h, _ := newTestHub(t)
	op := loggedInUser(t, h, "op", registry.CredOperator)
	guest := loggedInUser(t, h, "guest", registry.CredGuest)

	require.NoError(t, h.Kick(op, guest.Nick))
	assert.Equal(t, 2, h.Queue.Len())
}

func TestStatusTextFallsBackToDefault(t *testing.T) {
	h, _ := newTestHub(t)
	assert.Equal(t, "nick already in use", h.StatusText(adc.StatusNickTaken))
}

func TestStatusTextHonorsOverride(t *testing.T) {
	h, _ := newTestHub(t)
	h.SetConfig("status."+itoaStatus(adc.StatusNickTaken), "that name is already taken")
	assert.Equal(t, "that name is already taken", h.StatusText(adc.StatusNickTaken))
}

func TestStatsReflectsConnectedUsers(t *testing.T) {
	h, _ := newTestHub(t)
	loggedInUser(t, h, "alice", registry.CredUser)

	stats := h.Stats()
	assert.Equal(t, 1, stats.Users)
	assert.Equal(t, 10, stats.MaxUsers)
}

func TestStoreSatisfiesHubACL(t *testing.T) {
	_, s := newTestHub(t)
	require.NoError(t, s.Register(context.Background(), "alice", "hunter2", registry.CredUser))
	cred, needsPassword, found := s.Account("alice")
	assert.True(t, found)
	assert.True(t, needsPassword)
	assert.Equal(t, registry.CredUser, cred)
}
