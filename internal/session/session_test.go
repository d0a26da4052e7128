package session

import (
	"crypto/sha256"
	"encoding/base32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klondi/mimicmod-lan/internal/adc"
	"github.com/klondi/mimicmod-lan/internal/limits"
	"github.com/klondi/mimicmod-lan/internal/queue"
	"github.com/klondi/mimicmod-lan/internal/registry"
	"github.com/klondi/mimicmod-lan/internal/sidpool"
)

var testEnc = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)

type fakeSink struct {
	sent []*adc.Command
}

func (f *fakeSink) Send(cmd *adc.Command) error {
	f.sent = append(f.sent, cmd)
	return nil
}
func (f *fakeSink) RemoteAddr() string { return "127.0.0.1:0" }

func (f *fakeSink) last() *adc.Command {
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type fakeHub struct {
	pool    *sidpool.Pool
	openPol limits.Policy
	guests  bool
	motd    *adc.Command
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		pool:   sidpool.New(16),
		guests: true,
		openPol: limits.Policy{
			Guest: limits.Class{
				Share: limits.Bounds{Min: 0},
				Slots: limits.Bounds{Min: 0},
				Hubs:  limits.Bounds{Min: 0},
			},
		},
	}
}

func (h *fakeHub) AcquireSID() (adc.SID, error) { return h.pool.Acquire() }
func (h *fakeHub) ReleaseSID(sid adc.SID)       { h.pool.Release(sid) }
func (h *fakeHub) SupportTemplate() *adc.Command {
	c := adc.NewCommand(adc.KindInfo, "SUP")
	c.AddArg("ADBASE")
	return c
}
func (h *fakeHub) InfoTemplate(live bool, u *registry.User) *adc.Command {
	return adc.NewCommand(adc.KindInfo, "INF")
}
func (h *fakeHub) MOTD() (*adc.Command, bool) {
	if h.motd == nil {
		return nil, false
	}
	return h.motd, true
}
func (h *fakeHub) MaxLineLength() int        { return 65 * 1024 }
func (h *fakeHub) MaxNickLength() int        { return 64 }
func (h *fakeHub) Limits() limits.Policy     { return h.openPol }
func (h *fakeHub) AllowGuests() bool         { return h.guests }

type fakeACL struct {
	restricted map[string]bool
	accounts   map[string]acct
	guests     bool
}

type acct struct {
	cred     registry.Credentials
	password bool
	secret   string
}

func newFakeACL() *fakeACL {
	return &fakeACL{restricted: map[string]bool{}, accounts: map[string]acct{}, guests: true}
}

func (a *fakeACL) AllowGuests() bool              { return a.guests }
func (a *fakeACL) NickRestricted(nick string) bool { return a.restricted[nick] }
func (a *fakeACL) Account(nick string) (registry.Credentials, bool, bool) {
	acc, ok := a.accounts[nick]
	if !ok {
		return 0, false, false
	}
	return acc.cred, acc.password, true
}
func (a *fakeACL) VerifyPassword(nick, challenge, response string) bool {
	acc := a.accounts[nick]
	return VerifyChallengeResponse(acc.secret, challenge, response)
}

func newTestSetup() (*sessionHarness) {
	reg := registry.New()
	hub := newFakeHub()
	acl := newFakeACL()
	q := queue.New()
	return &sessionHarness{reg: reg, hub: hub, acl: acl, q: q}
}

type sessionHarness struct {
	reg *registry.Registry
	hub *fakeHub
	acl *fakeACL
	q   *queue.Queue
}

func (h *sessionHarness) newSession() (*Session, *fakeSink) {
	sink := &fakeSink{}
	u := registry.NewUser(sink)
	u.Supported = make(adc.FeatureSet)
	s := New(u, h.reg, h.hub, h.acl, h.q)
	return s, sink
}

func cidFor(b byte) adc.CID {
	var pid adc.PID
	pid[0] = b
	return adc.HashPID(pid)
}

func TestProtocolStageAssignsSIDOnValidSup(t *testing.T) {
	h := newTestSetup()
	s, sink := h.newSession()

	sup := adc.NewCommand(adc.KindHub, "SUP")
	sup.AddArg("ADBASE")
	res := s.Handle(sup)

	assert.Equal(t, ResultHandled, res)
	assert.Equal(t, registry.StateIdentify, s.User.State)
	assert.False(t, s.User.SID.IsZero())
	require.Len(t, sink.sent, 3) // ISUP, ISID, IINF
}

func TestProtocolStageRejectsMissingBase(t *testing.T) {
	h := newTestSetup()
	s, sink := h.newSession()

	sup := adc.NewCommand(adc.KindHub, "SUP")
	sup.AddArg("ADTIGR")
	res := s.Handle(sup)

	assert.Equal(t, ResultDisconnect, res)
	assert.Equal(t, registry.StateCleanup, s.User.State)
	require.Len(t, sink.sent, 1)
}

func advanceToIdentify(t *testing.T, s *Session) {
	sup := adc.NewCommand(adc.KindHub, "SUP")
	sup.AddArg("ADBASE")
	require.Equal(t, ResultHandled, s.Handle(sup))
}

func TestSuccessfulGuestLogin(t *testing.T) {
	h := newTestSetup()
	s, sink := h.newSession()
	advanceToIdentify(t, s)

	binf := adc.NewCommand(adc.KindBroadcast, "INF")
	binf.Src = s.User.SID
	binf.SetNamed("ID", cidFor(1).String())
	binf.SetNamed("NI", "alice")
	binf.SetNamed("SS", "1000000")
	binf.SetNamed("SL", "2")

	res := s.Handle(binf)
	assert.Equal(t, ResultRoute, res)
	assert.Equal(t, registry.StateNormal, s.User.State)
	assert.Equal(t, registry.CredGuest, s.User.Credentials)
	assert.Equal(t, 1, h.reg.Len())
	assert.Equal(t, uint64(1000000), h.reg.SharedSize())
	_ = sink
}

func TestDuplicateNickRejected(t *testing.T) {
	h := newTestSetup()
	first, _ := h.newSession()
	advanceToIdentify(t, first)
	binf := adc.NewCommand(adc.KindBroadcast, "INF")
	binf.Src = first.User.SID
	binf.SetNamed("ID", cidFor(1).String())
	binf.SetNamed("NI", "alice")
	binf.SetNamed("SS", "100")
	binf.SetNamed("SL", "1")
	require.Equal(t, ResultRoute, first.Handle(binf))

	second, sink2 := h.newSession()
	advanceToIdentify(t, second)
	binf2 := adc.NewCommand(adc.KindBroadcast, "INF")
	binf2.Src = second.User.SID
	binf2.SetNamed("ID", cidFor(2).String())
	binf2.SetNamed("NI", "alice")
	binf2.SetNamed("SS", "100")
	binf2.SetNamed("SL", "1")
	res := second.Handle(binf2)

	assert.Equal(t, ResultDisconnect, res)
	assert.Equal(t, 1, h.reg.Len())
	last := sink2.last()
	require.NotNil(t, last)
	assert.Equal(t, "STA", last.Code)
}

func TestPasswordAccountFlow(t *testing.T) {
	h := newTestSetup()
	h.acl.accounts["alice"] = acct{cred: registry.CredUser, password: true, secret: "hunter2"}
	s, sink := h.newSession()
	advanceToIdentify(t, s)

	binf := adc.NewCommand(adc.KindBroadcast, "INF")
	binf.Src = s.User.SID
	binf.SetNamed("ID", cidFor(1).String())
	binf.SetNamed("NI", "alice")
	binf.SetNamed("SS", "100")
	binf.SetNamed("SL", "1")
	res := s.Handle(binf)
	assert.Equal(t, ResultHandled, res)
	assert.Equal(t, registry.StateVerify, s.User.State)

	igpa := sink.last()
	require.NotNil(t, igpa)
	require.Equal(t, "GPA", igpa.Code)
	challenge := igpa.Args()[0]

	response := computeResponse(t, "hunter2", challenge)
	hpas := adc.NewCommand(adc.KindHub, "PAS")
	hpas.AddArg(response)
	res = s.Handle(hpas)
	assert.Equal(t, ResultRoute, res)
	assert.Equal(t, registry.StateNormal, s.User.State)
}

func TestPasswordMismatchDisconnects(t *testing.T) {
	h := newTestSetup()
	h.acl.accounts["alice"] = acct{cred: registry.CredUser, password: true, secret: "hunter2"}
	s, _ := h.newSession()
	advanceToIdentify(t, s)
	binf := adc.NewCommand(adc.KindBroadcast, "INF")
	binf.Src = s.User.SID
	binf.SetNamed("ID", cidFor(1).String())
	binf.SetNamed("NI", "alice")
	binf.SetNamed("SS", "100")
	binf.SetNamed("SL", "1")
	require.Equal(t, ResultHandled, s.Handle(binf))

	hpas := adc.NewCommand(adc.KindHub, "PAS")
	hpas.AddArg("wrong-response")
	res := s.Handle(hpas)
	assert.Equal(t, ResultDisconnect, res)
}

func TestGuestsDisallowedWhenHubRequiresRegistration(t *testing.T) {
	h := newTestSetup()
	h.acl.guests = false
	s, _ := h.newSession()
	advanceToIdentify(t, s)

	binf := adc.NewCommand(adc.KindBroadcast, "INF")
	binf.Src = s.User.SID
	binf.SetNamed("ID", cidFor(1).String())
	binf.SetNamed("NI", "alice")
	binf.SetNamed("SS", "100")
	binf.SetNamed("SL", "1")
	res := s.Handle(binf)
	assert.Equal(t, ResultDisconnect, res)
}

func TestNormalStateRejectsForgedPeerInfo(t *testing.T) {
	h := newTestSetup()
	s, _ := h.newSession()
	advanceToIdentify(t, s)
	binf := adc.NewCommand(adc.KindBroadcast, "INF")
	binf.Src = s.User.SID
	binf.SetNamed("ID", cidFor(1).String())
	binf.SetNamed("NI", "alice")
	binf.SetNamed("SS", "100")
	binf.SetNamed("SL", "1")
	require.Equal(t, ResultRoute, s.Handle(binf))

	dinf := adc.NewCommand(adc.KindDirect, "INF")
	dinf.Src = s.User.SID
	dinf.Dst = adc.SID{0, 9}
	res := s.Handle(dinf)
	assert.Equal(t, ResultIgnore, res)
}

func computeResponse(t *testing.T, password, challengeB32 string) string {
	t.Helper()
	challenge, err := testEnc.DecodeString(challengeB32)
	require.NoError(t, err)
	sum := sha256.Sum256(append([]byte(password), challenge...))
	return testEnc.EncodeToString(sum[:])
}
