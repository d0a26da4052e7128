package hub

import "github.com/klondi/mimicmod-lan/internal/adc"

// defaultStatusText holds the operator-overridable wording for each
// status code (spec §6), generalizing hub_get_status_message from
// the C source: the numeric code is fixed by the protocol, but the
// human-readable message is hub-configurable.
var defaultStatusText = map[adc.Status]string{
	adc.StatusHubFull:             "hub is full",
	adc.StatusHubDisabled:         "hub is shutting down",
	adc.StatusAuthUserNotFound:    "no such account",
	adc.StatusNickInvalid:         "invalid nick",
	adc.StatusNickTaken:           "nick already in use",
	adc.StatusAuthInvalidPassword: "invalid password",
	adc.StatusCIDTaken:            "CID already registered to another user",
	adc.StatusRegisteredUsersOnly: "this hub only accepts registered users",
	adc.StatusPIDInvalid:          "PID does not match CID",
	adc.StatusNoMemory:            "internal server error",
	adc.StatusBanPermanent:        "you are permanently banned",
	adc.StatusBanTemporary:        "you are temporarily banned",
	adc.StatusINFRejected:         "malformed user info",
}

// StatusText returns the configured wording for code, falling back to
// the built-in default when the operator hasn't overridden it.
func (h *Hub) StatusText(code adc.Status) string {
	h.conf.RLock()
	custom, ok := h.conf.m["status."+itoaStatus(code)]
	h.conf.RUnlock()
	if ok {
		if s, ok := custom.(string); ok && s != "" {
			return s
		}
	}
	return defaultStatusText[code]
}

func itoaStatus(code adc.Status) string {
	const digits = "0123456789"
	if code == 0 {
		return "0"
	}
	n := int(code)
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%10]
		n /= 10
	}
	return string(buf[i:])
}
