package adc

// Severity is the first digit of an ISTA status code.
type Severity int

const (
	SevInfo      Severity = 1
	SevRecoverable Severity = 2
	SevFatal     Severity = 3
)

// Status names the symbolic status conditions of §6's status table.
// The numeric code is fixed per status; severity is supplied by the
// call site since the same code can be informational or fatal
// depending on context (e.g. ban codes are always fatal, but nick
// errors during INF are always fatal too — severity is kept as a
// caller-supplied axis to match the source's hub_send_status, which
// takes level as a separate parameter).
type Status int

const (
	StatusHubFull                Status = 11
	StatusHubDisabled            Status = 12
	StatusAuthUserNotFound       Status = 20
	StatusNickInvalid            Status = 21
	StatusNickTaken              Status = 22
	StatusAuthInvalidPassword    Status = 23
	StatusCIDTaken               Status = 24
	StatusRegisteredUsersOnly    Status = 26
	StatusPIDInvalid             Status = 27
	StatusNoMemory               Status = 30
	StatusBanPermanent           Status = 31
	StatusBanTemporary           Status = 32
	StatusINFRejected            Status = 43
)

// FlagBad, FlagMissing and FlagTimeLimit build a diagnostic field
// appended to an ISTA argument list:
// FB<field> (bad), FM<field> (missing), or TL<secs> (timed ban).
func FlagBad(field string) string     { return "FB" + field }
func FlagMissing(field string) string { return "FM" + field }
func FlagTimeLimit(secs int) string {
	return "TL" + itoa(secs)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// BuildStatus constructs an ISTA command with a three-digit status
// code (severity digit + two-digit table code) and escaped message
// text, plus an optional diagnostic flag argument.
func BuildStatus(sev Severity, code Status, msg string, flag string) *Command {
	c := NewCommand(KindInfo, "STA")
	codeStr := string('0'+byte(sev)) + pad2(int(code))
	c.AddArg(codeStr)
	c.AddArg(msg)
	if flag != "" {
		c.AddArg(flag)
	}
	return c
}

func pad2(n int) string {
	s := itoa(n)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}
