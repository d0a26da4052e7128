// Package session implements the per-connection ADC login protocol
// state machine (spec §4.3): protocol → identify → verify → normal →
// cleanup.
package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/klondi/mimicmod-lan/internal/adc"
	"github.com/klondi/mimicmod-lan/internal/limits"
	"github.com/klondi/mimicmod-lan/internal/queue"
	"github.com/klondi/mimicmod-lan/internal/registry"
	"github.com/klondi/mimicmod-lan/internal/sidpool"
)

// HandshakeTimeout is the default time a connection has to reach the
// normal state before it is dropped (spec §4.3).
const HandshakeTimeout = 30 * time.Second

// ACL is the external collaborator consulted for credential
// determination and nick policy (spec §1 "out of scope: ACL file
// format"). The account store behind it owns password material; the
// session only needs a yes/no on a challenge-response pair.
type ACL interface {
	AllowGuests() bool
	NickRestricted(nick string) bool
	// Account reports the credentials a nick would receive and
	// whether logging in as that nick requires a password.
	Account(nick string) (cred registry.Credentials, needsPassword bool, found bool)
	// VerifyPassword reports whether response is the correct
	// base32(SHA256(password||challenge)) answer for nick's account.
	VerifyPassword(nick, challenge, response string) bool
}

// HubContext is the subset of hub controller state (spec §4.6) a
// session needs: precomputed templates and the SID allocator. The
// hub is threaded through explicitly rather than as process-wide
// state (spec §9 "Global hub state").
type HubContext interface {
	AcquireSID() (adc.SID, error)
	ReleaseSID(adc.SID)
	SupportTemplate() *adc.Command
	InfoTemplate(live bool, u *registry.User) *adc.Command
	MOTD() (*adc.Command, bool)
	MaxLineLength() int
	MaxNickLength() int
	Limits() limits.Policy
}

// Session drives one connected user through the login protocol.
type Session struct {
	User *registry.User
	Reg  *registry.Registry
	Hub  HubContext
	ACL  ACL
	Q    *queue.Queue

	enteredLogin time.Time
}

// New creates a session for a freshly accepted connection. The user
// starts in registry.StateProtocol with no SID assigned.
func New(u *registry.User, reg *registry.Registry, hub HubContext, acl ACL, q *queue.Queue) *Session {
	return &Session{
		User:         u,
		Reg:          reg,
		Hub:          hub,
		ACL:          acl,
		Q:            q,
		enteredLogin: time.Now(),
	}
}

// HandshakeDeadline is when this session's handshake timer expires if
// it has not yet reached the normal state.
func (s *Session) HandshakeDeadline() time.Time {
	return s.enteredLogin.Add(HandshakeTimeout)
}

// Result tells the caller what to do with a dispatched command.
type Result int

const (
	// ResultHandled means the session fully processed the command and
	// already sent any replies; no further action is needed.
	ResultHandled Result = iota
	// ResultRoute means the command passed login-stage checks (or the
	// session is already normal) and must be handed to the router.
	ResultRoute
	// ResultIgnore means the command was dropped defensively; the
	// connection stays open.
	ResultIgnore
	// ResultDisconnect means the caller must close the connection,
	// after which it should enqueue a USER_QUIT event if the user was
	// ever registered.
	ResultDisconnect
)

// Handle dispatches one parsed, codec-verified command according to
// the user's current state.
func (s *Session) Handle(cmd *adc.Command) Result {
	switch s.User.State {
	case registry.StateProtocol:
		return s.handleProtocol(cmd)
	case registry.StateIdentify:
		return s.handleIdentify(cmd)
	case registry.StateVerify:
		return s.handleVerify(cmd)
	case registry.StateNormal:
		return s.handleNormal(cmd)
	default: // cleanup
		return ResultIgnore
	}
}

func (s *Session) handleProtocol(cmd *adc.Command) Result {
	if cmd.Kind != adc.KindHub || cmd.Code != "SUP" {
		return s.disconnect(adc.StatusINFRejected, "expected HSUP", "")
	}
	set := make(adc.FeatureSet)
	ok, err := adc.ApplySupported(set, cmd.Args())
	if err != nil || ok == 0 {
		return s.disconnect(adc.StatusINFRejected, "malformed SUP", adc.FlagBad("SU"))
	}
	if !set.Has(adc.FeaBASE) {
		return s.disconnect(adc.StatusINFRejected, "BASE required", adc.FlagMissing("SU"))
	}
	s.User.Supported = set

	sid, err := s.Hub.AcquireSID()
	if err != nil {
		return s.disconnect(adc.StatusHubFull, "hub is full", "")
	}
	s.User.SID = sid

	_ = s.User.Send(s.Hub.SupportTemplate())
	sidCmd := adc.NewCommand(adc.KindInfo, "SID")
	sidCmd.AddArg(sid.String())
	_ = s.User.Send(sidCmd)
	_ = s.User.Send(s.Hub.InfoTemplate(set.Has(adc.FeaPING), nil))

	if set.Has(adc.FeaPING) {
		s.User.Flags |= registry.FlagPing
	}
	s.User.State = registry.StateIdentify
	return ResultHandled
}

func (s *Session) handleIdentify(cmd *adc.Command) Result {
	if cmd.Kind != adc.KindBroadcast || cmd.Code != "INF" {
		return s.disconnect(adc.StatusINFRejected, "expected BINF", "")
	}
	if cmd.Src != s.User.SID {
		return s.disconnect(adc.StatusINFRejected, "source mismatch", "")
	}
	return s.applyBinf(cmd, true)
}

func (s *Session) handleVerify(cmd *adc.Command) Result {
	if cmd.Kind != adc.KindHub || cmd.Code != "PAS" {
		return s.disconnect(adc.StatusAuthInvalidPassword, "expected HPAS", "")
	}
	args := cmd.Args()
	if len(args) == 0 {
		return s.disconnect(adc.StatusAuthInvalidPassword, "missing response", "")
	}
	if !s.ACL.VerifyPassword(s.User.Nick, s.User.PasswordChallenge, args[0]) {
		return s.disconnect(adc.StatusAuthInvalidPassword, "invalid password", "")
	}
	s.User.PasswordChallenge = ""
	return s.loginSuccess()
}

func (s *Session) handleNormal(cmd *adc.Command) Result {
	if cmd.Kind == adc.KindBroadcast && cmd.Code == "INF" {
		if cmd.Src != s.User.SID {
			return ResultIgnore
		}
		return s.applyBinf(cmd, false)
	}
	// DINF/EINF/FINF are always dropped: clients must not forge peer
	// info (spec §6).
	if cmd.Code == "INF" {
		return ResultIgnore
	}
	return ResultRoute
}

// applyBinf validates and applies a BINF, either during identify
// (first=true, may transition to verify/normal) or as an in-place
// update once normal (first=false, immutable fields rejected).
func (s *Session) applyBinf(cmd *adc.Command, first bool) Result {
	nick, _ := cmd.GetNamed("NI")
	idStr, hasID := cmd.GetNamed("ID")
	pdStr, hasPD := cmd.GetNamed("PD")

	if !first {
		// ID and PD are immutable after login: an update that changes
		// ID, or carries PD at all, is ignored as a whole.
		if hasID && idStr != s.User.CID.String() {
			return s.protocolError("ID is immutable")
		}
		if hasPD {
			return s.protocolError("PD is immutable")
		}
		if nick != "" && nick != s.User.Nick {
			if s.ACL.NickRestricted(nick) || !validNick(nick, s.Hub.MaxNickLength()) {
				return s.sendStatus(adc.SevRecoverable, adc.StatusNickInvalid, "invalid nick", "")
			}
			if err := s.Reg.Rename(s.User, nick); err != nil {
				return s.sendStatus(adc.SevRecoverable, adc.StatusNickTaken, "nick taken", "")
			}
		}
	} else {
		if nick == "" {
			return s.disconnect(adc.StatusINFRejected, "nick missing", adc.FlagMissing("NI"))
		}
		if !validNick(nick, s.Hub.MaxNickLength()) {
			return s.disconnect(adc.StatusNickInvalid, "invalid nick", adc.FlagBad("NI"))
		}
		if s.ACL.NickRestricted(nick) {
			return s.disconnect(adc.StatusNickInvalid, "restricted nick", adc.FlagBad("NI"))
		}
		if !hasID {
			return s.disconnect(adc.StatusINFRejected, "cid missing", adc.FlagMissing("ID"))
		}
		cid, err := adc.ParseCID(idStr)
		if err != nil {
			return s.disconnect(adc.StatusINFRejected, "cid invalid", adc.FlagBad("ID"))
		}
		if hasPD {
			pid, err := adc.ParseCID(pdStr)
			if err != nil {
				return s.disconnect(adc.StatusPIDInvalid, "pid invalid", adc.FlagBad("PD"))
			}
			if adc.HashPID(pid) != cid {
				return s.disconnect(adc.StatusPIDInvalid, "pid mismatch", adc.FlagBad("PD"))
			}
		}
		if s.Reg.CIDTaken(cid) {
			return s.disconnect(adc.StatusCIDTaken, "cid taken", "")
		}
		if s.Reg.NickTaken(nick) {
			return s.disconnect(adc.StatusNickTaken, "nick taken", "")
		}
		s.User.Nick = nick
		s.User.CID = cid
	}

	share, slots, hn, hr, ho := parseCounters(cmd)

	cred, needsPassword, found := s.ACL.Account(s.User.Nick)
	if !found {
		if !s.ACL.AllowGuests() {
			return s.disconnect(adc.StatusRegisteredUsersOnly, "registered users only", "")
		}
		cred = registry.CredGuest
	}

	pol := s.Hub.Limits()
	if v := pol.CheckShare(cred, share); v != nil {
		return s.disconnect(adc.StatusINFRejected, "share size out of range", adc.FlagBad(v.Field))
	}
	if v := pol.CheckSlots(cred, slots); v != nil {
		return s.disconnect(adc.StatusINFRejected, "slots out of range", adc.FlagBad(v.Field))
	}
	if v := pol.CheckHubs(cred, hn, hr, ho); v != nil {
		return s.disconnect(adc.StatusINFRejected, "hub count out of range", "")
	}

	if first {
		// Not yet in the registry; Insert (in loginSuccess) adds the
		// aggregate contribution, so just set the fields here.
		s.User.ShareSize = share
		s.User.ShareFiles = shareFiles(cmd)
	} else {
		s.Reg.UpdateShare(s.User, share, shareFiles(cmd))
		s.User.Slots = slots
		s.User.HubsNormal, s.User.HubsReg, s.User.HubsOp = hn, hr, ho
		return ResultRoute
	}
	s.User.Slots = slots
	s.User.HubsNormal, s.User.HubsReg, s.User.HubsOp = hn, hr, ho
	s.User.Credentials = cred

	if needsPassword {
		challenge, err := adc.RandomChallenge()
		if err != nil {
			return s.disconnect(adc.StatusNoMemory, "internal error", "")
		}
		s.User.PasswordChallenge = challenge
		s.User.State = registry.StateVerify
		s.Q.PushJoin(s.User, true)
		igpa := adc.NewCommand(adc.KindInfo, "GPA")
		igpa.AddArg(challenge)
		_ = s.User.Send(igpa)
		return ResultHandled
	}
	return s.loginSuccess()
}

func (s *Session) loginSuccess() Result {
	conflict, err := s.Reg.Insert(s.User)
	if err != nil {
		switch conflict {
		case registry.ConflictNick:
			return s.disconnect(adc.StatusNickTaken, "nick taken", "")
		case registry.ConflictCID:
			return s.disconnect(adc.StatusCIDTaken, "cid taken", "")
		}
		return s.disconnect(adc.StatusNoMemory, "internal error", "")
	}
	s.User.State = registry.StateNormal
	s.Q.PushJoin(s.User, false)
	if motd, ok := s.Hub.MOTD(); ok {
		_ = s.User.Send(motd)
	}
	return ResultRoute
}

func (s *Session) protocolError(_ string) Result {
	return ResultIgnore
}

func (s *Session) sendStatus(sev adc.Severity, code adc.Status, msg, flag string) Result {
	_ = s.User.Send(adc.BuildStatus(sev, code, msg, flag))
	return ResultHandled
}

// disconnect sends a fatal ISTA and tells the caller to tear the
// connection down.
func (s *Session) disconnect(code adc.Status, msg, flag string) Result {
	_ = s.User.Send(adc.BuildStatus(adc.SevFatal, code, msg, flag))
	s.User.State = registry.StateCleanup
	if s.Hub != nil && !s.User.SID.IsZero() {
		s.Hub.ReleaseSID(s.User.SID)
	}
	return ResultDisconnect
}

func validNick(nick string, max int) bool {
	if nick == "" || (max > 0 && len(nick) > max) {
		return false
	}
	if !utf8.ValidString(nick) {
		return false
	}
	for _, r := range nick {
		if r == ' ' || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func parseCounters(cmd *adc.Command) (share uint64, slots, hn, hr, ho int) {
	if v, ok := cmd.GetNamed("SS"); ok {
		share = parseUint(v)
	}
	if v, ok := cmd.GetNamed("SL"); ok {
		slots = int(parseUint(v))
	}
	if v, ok := cmd.GetNamed("HN"); ok {
		hn = int(parseUint(v))
	}
	if v, ok := cmd.GetNamed("HR"); ok {
		hr = int(parseUint(v))
	}
	if v, ok := cmd.GetNamed("HO"); ok {
		ho = int(parseUint(v))
	}
	return
}

func shareFiles(cmd *adc.Command) int {
	if v, ok := cmd.GetNamed("SF"); ok {
		return int(parseUint(v))
	}
	return 0
}

func parseUint(s string) uint64 {
	var n uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + uint64(r-'0')
	}
	return n
}

// VerifyChallengeResponse is a reference implementation of the
// base32(SHA256(password||challenge)) comparison (spec §9 "use a
// vetted constant-time implementation"), exported so an ACL
// implementation can reuse it instead of rolling its own compare.
func VerifyChallengeResponse(password, challengeB32, responseB32 string) bool {
	enc := base32.NewEncoding(strings.ToUpper("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567")).WithPadding(base32.NoPadding)
	challenge, err := enc.DecodeString(challengeB32)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(append([]byte(password), challenge...))
	expected := enc.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(responseB32)) == 1
}
