package hub

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Map is a generic nested configuration tree, as loaded from
// hub.yml via viper and merged into the hub's live-tunable settings.
type Map map[string]interface{}

const (
	ConfigHubName    = "hub.name"
	ConfigHubDesc    = "hub.desc"
	ConfigHubTopic   = "hub.topic"
	ConfigHubOwner   = "hub.owner"
	ConfigHubWebsite = "hub.website"
	ConfigHubEmail   = "hub.email"
	ConfigBotName    = "bot.name"
	ConfigBotDesc    = "bot.desc"
	ConfigHubMOTD    = "hub.motd"
	ConfigHubPrivate = "hub.private"

	ConfigChatGlobalEnabled = "chat.global.enabled"
	ConfigChatOnly          = "chat.only"
	ConfigAllowGuests       = "accounts.allow_guests"
	ConfigHandshakeTimeout  = "limits.handshake_timeout_seconds"
	ConfigMaxLineLength     = "limits.max_line_length"
	ConfigMaxNickLength     = "limits.max_nick_length"
	ConfigMaxUsers          = "limits.max_users"
)

var configAliases = map[string]string{
	"name":         ConfigHubName,
	"desc":         ConfigHubDesc,
	"topic":        ConfigHubTopic,
	"owner":        ConfigHubOwner,
	"website":      ConfigHubWebsite,
	"email":        ConfigHubEmail,
	"botname":      ConfigBotName,
	"botdesc":      ConfigBotDesc,
	"motd":         ConfigHubMOTD,
	"private":      ConfigHubPrivate,
	"chatonly":     ConfigChatOnly,
	"allowguests":  ConfigAllowGuests,
}

// configIgnored can only be set in the config file, not at runtime.
var configIgnored = map[string]struct{}{
	"database.path":  {},
	"database.type":  {},
	"serve.host":     {},
	"serve.port":     {},
	"serve.tls.cert": {},
	"serve.tls.key":  {},
}

// confState holds the hub's live-tunable settings behind a single
// lock, mirroring the teacher's conf block but generalized from
// NMDC-hub bookkeeping to ADC template inputs.
type confState struct {
	sync.RWMutex

	Name, Desc, Topic, Owner, Website, Email string
	BotName, BotDesc, MOTD                   string
	Private                                  bool

	ChatOnly    bool
	AllowGuests bool

	HandshakeTimeoutSeconds int
	MaxLineLength           int
	MaxNickLength           int
	MaxUsers                int

	m Map
}

func (h *Hub) MergeConfig(m Map) {
	h.MergeConfigPath("", m)
}

func (h *Hub) MergeConfigPath(path string, m Map) {
	for k, v := range m {
		if path != "" {
			k = path + "." + k
		}
		switch v := v.(type) {
		case Map:
			h.MergeConfigPath(k, v)
		case map[string]interface{}:
			h.MergeConfigPath(k, Map(v))
		default:
			h.setConfig(k, v, false)
		}
	}
}

func (h *Hub) saveConfig(key string, val interface{}) {
	if _, ok := configIgnored[key]; ok {
		return
	}
	if h.persist != nil {
		h.persist(key, val)
	}
}

func (h *Hub) setConfigMap(key string, val interface{}) {
	if _, ok := configIgnored[key]; ok {
		return
	}
	h.conf.Lock()
	if h.conf.m == nil {
		h.conf.m = make(Map)
	}
	h.conf.m[key] = val
	h.conf.Unlock()
}

func (h *Hub) getConfigMap(key string) (interface{}, bool) {
	h.conf.RLock()
	val, ok := h.conf.m[key]
	h.conf.RUnlock()
	return val, ok
}

func (h *Hub) setConfig(key string, val interface{}, save bool) {
	if _, ok := configIgnored[key]; ok {
		return
	}
	switch val := val.(type) {
	case bool:
		h.setConfigBool(key, val)
	case string:
		h.setConfigString(key, val)
	case int:
		h.setConfigInt(key, int64(val))
	case int64:
		h.setConfigInt(key, val)
	case int32:
		h.setConfigInt(key, int64(val))
	case uint:
		h.setConfigUint(key, uint64(val))
	case uint64:
		h.setConfigUint(key, val)
	case uint32:
		h.setConfigUint(key, uint64(val))
	case float64:
		h.setConfigFloat(key, val)
	case float32:
		h.setConfigFloat(key, float64(val))
	default:
		panic(fmt.Errorf("unsupported config type: %T", val))
	}
	if save {
		h.saveConfig(key, val)
	}
}

func (h *Hub) SetConfig(key string, val interface{}) {
	h.setConfig(key, val, true)
}

func (h *Hub) ConfigKeys() []string {
	keys := []string{
		ConfigHubName,
		ConfigHubDesc,
		ConfigHubTopic,
		ConfigHubMOTD,
		ConfigHubOwner,
		ConfigHubWebsite,
		ConfigHubEmail,
		ConfigBotName,
		ConfigBotDesc,
		ConfigHubPrivate,
		ConfigChatGlobalEnabled,
		ConfigChatOnly,
		ConfigAllowGuests,
		ConfigHandshakeTimeout,
		ConfigMaxLineLength,
		ConfigMaxNickLength,
		ConfigMaxUsers,
	}
	h.conf.RLock()
	for k := range h.conf.m {
		if _, ok := configIgnored[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	h.conf.RUnlock()
	sort.Strings(keys)
	return keys
}

func (h *Hub) GetConfig(key string) (interface{}, bool) {
	if alias, ok := configAliases[key]; ok {
		key = alias
	}
	switch key {
	case ConfigHubName, ConfigHubDesc, ConfigHubTopic, ConfigHubMOTD,
		ConfigHubOwner, ConfigHubWebsite, ConfigHubEmail,
		ConfigBotName, ConfigBotDesc:
		v, ok := h.GetConfigString(key)
		if !ok {
			return nil, false
		}
		return v, true
	case ConfigHandshakeTimeout, ConfigMaxLineLength, ConfigMaxNickLength, ConfigMaxUsers:
		v, ok := h.GetConfigInt(key)
		if !ok {
			return nil, false
		}
		return v, true
	case ConfigHubPrivate, ConfigChatGlobalEnabled, ConfigChatOnly, ConfigAllowGuests:
		v, ok := h.GetConfigBool(key)
		if !ok {
			return nil, false
		}
		return v, true
	}
	h.conf.RLock()
	v, ok := h.conf.m[key]
	h.conf.RUnlock()
	return v, ok && v != nil
}

func (h *Hub) setConfigString(key string, val string) {
	if alias, ok := configAliases[key]; ok {
		key = alias
	}
	switch key {
	case ConfigHubName:
		h.conf.Lock()
		h.conf.Name = val
		h.conf.Unlock()
	case ConfigHubDesc:
		h.conf.Lock()
		h.conf.Desc = val
		h.conf.Unlock()
	case ConfigHubTopic:
		h.conf.Lock()
		h.conf.Topic = val
		h.conf.Unlock()
	case ConfigHubMOTD:
		h.conf.Lock()
		h.conf.MOTD = val
		h.conf.Unlock()
	case ConfigHubOwner:
		h.conf.Lock()
		h.conf.Owner = val
		h.conf.Unlock()
	case ConfigHubWebsite:
		h.conf.Lock()
		h.conf.Website = val
		h.conf.Unlock()
	case ConfigHubEmail:
		h.conf.Lock()
		h.conf.Email = val
		h.conf.Unlock()
	case ConfigBotName:
		h.conf.Lock()
		h.conf.BotName = val
		h.conf.Unlock()
	case ConfigBotDesc:
		h.conf.Lock()
		h.conf.BotDesc = val
		h.conf.Unlock()
	default:
		h.setConfigMap(key, val)
	}
	h.rebuildTemplates()
}

func (h *Hub) SetConfigString(key string, val string) {
	h.setConfigString(key, val)
	h.saveConfig(key, val)
}

func (h *Hub) GetConfigString(key string) (string, bool) {
	if alias, ok := configAliases[key]; ok {
		key = alias
	}
	h.conf.RLock()
	defer h.conf.RUnlock()
	switch key {
	case ConfigHubName:
		return h.conf.Name, true
	case ConfigHubDesc:
		return h.conf.Desc, true
	case ConfigHubTopic:
		return h.conf.Topic, true
	case ConfigHubMOTD:
		return h.conf.MOTD, true
	case ConfigHubOwner:
		return h.conf.Owner, true
	case ConfigHubWebsite:
		return h.conf.Website, true
	case ConfigHubEmail:
		return h.conf.Email, true
	case ConfigBotName:
		return h.conf.BotName, true
	case ConfigBotDesc:
		return h.conf.BotDesc, true
	default:
		v, ok := h.conf.m[key]
		if !ok || v == nil {
			return "", false
		}
		switch v := v.(type) {
		case string:
			return v, true
		default:
			return fmt.Sprint(v), true
		}
	}
}

func (h *Hub) setConfigBool(key string, val bool) {
	if alias, ok := configAliases[key]; ok {
		key = alias
	}
	if _, ok := configIgnored[key]; ok {
		return
	}
	switch key {
	case ConfigHubPrivate:
		h.conf.Lock()
		h.conf.Private = val
		h.conf.Unlock()
	case ConfigChatGlobalEnabled:
		h.setGlobalChatEnabled(val)
	case ConfigChatOnly:
		h.conf.Lock()
		h.conf.ChatOnly = val
		h.conf.Unlock()
		h.Router.ChatOnly = val
	case ConfigAllowGuests:
		h.conf.Lock()
		h.conf.AllowGuests = val
		h.conf.Unlock()
	default:
		h.setConfigMap(key, val)
	}
}

func (h *Hub) SetConfigBool(key string, val bool) {
	h.setConfigBool(key, val)
	h.saveConfig(key, val)
}

func (h *Hub) GetConfigBool(key string) (bool, bool) {
	if alias, ok := configAliases[key]; ok {
		key = alias
	}
	h.conf.RLock()
	defer h.conf.RUnlock()
	switch key {
	case ConfigHubPrivate:
		return h.conf.Private, true
	case ConfigChatGlobalEnabled:
		return h.getGlobalChatEnabled(), true
	case ConfigChatOnly:
		return h.conf.ChatOnly, true
	case ConfigAllowGuests:
		return h.conf.AllowGuests, true
	default:
		v, ok := h.conf.m[key]
		if !ok || v == nil {
			return false, false
		}
		switch v := v.(type) {
		case bool:
			return v, true
		case int64:
			return v != 0, true
		case uint64:
			return v != 0, true
		case float64:
			return v != 0, true
		case string:
			b, _ := strconv.ParseBool(v)
			return b, true
		default:
			return false, true
		}
	}
}

func (h *Hub) setConfigInt(key string, val int64) {
	if alias, ok := configAliases[key]; ok {
		key = alias
	}
	if _, ok := configIgnored[key]; ok {
		return
	}
	switch key {
	case ConfigHandshakeTimeout:
		h.conf.Lock()
		h.conf.HandshakeTimeoutSeconds = int(val)
		h.conf.Unlock()
	case ConfigMaxLineLength:
		h.conf.Lock()
		h.conf.MaxLineLength = int(val)
		h.conf.Unlock()
	case ConfigMaxNickLength:
		h.conf.Lock()
		h.conf.MaxNickLength = int(val)
		h.conf.Unlock()
	case ConfigMaxUsers:
		h.conf.Lock()
		h.conf.MaxUsers = int(val)
		h.conf.Unlock()
	default:
		h.setConfigMap(key, val)
	}
}

func (h *Hub) SetConfigInt(key string, val int64) {
	h.setConfigInt(key, val)
	h.saveConfig(key, val)
}

func (h *Hub) GetConfigInt(key string) (int64, bool) {
	if alias, ok := configAliases[key]; ok {
		key = alias
	}
	h.conf.RLock()
	defer h.conf.RUnlock()
	switch key {
	case ConfigHandshakeTimeout:
		return int64(h.conf.HandshakeTimeoutSeconds), true
	case ConfigMaxLineLength:
		return int64(h.conf.MaxLineLength), true
	case ConfigMaxNickLength:
		return int64(h.conf.MaxNickLength), true
	case ConfigMaxUsers:
		return int64(h.conf.MaxUsers), true
	default:
		v, ok := h.conf.m[key]
		if !ok || v == nil {
			return 0, false
		}
		switch v := v.(type) {
		case int64:
			return v, true
		case uint64:
			return int64(v), true
		case float64:
			return int64(v), true
		case bool:
			if v {
				return 1, true
			}
			return 0, true
		case string:
			i, _ := strconv.ParseInt(v, 10, 64)
			return i, true
		default:
			return 0, true
		}
	}
}

func (h *Hub) setConfigUint(key string, val uint64) {
	if alias, ok := configAliases[key]; ok {
		key = alias
	}
	if _, ok := configIgnored[key]; ok {
		return
	}
	h.setConfigMap(key, val)
}

func (h *Hub) SetConfigUint(key string, val uint64) {
	h.setConfigUint(key, val)
	h.saveConfig(key, val)
}

func (h *Hub) GetConfigUint(key string) (uint64, bool) {
	v, ok := h.getConfigMap(key)
	if !ok || v == nil {
		return 0, false
	}
	switch v := v.(type) {
	case uint64:
		return v, true
	case int64:
		return uint64(v), true
	case float64:
		return uint64(v), true
	default:
		return 0, true
	}
}

func (h *Hub) setConfigFloat(key string, val float64) {
	if alias, ok := configAliases[key]; ok {
		key = alias
	}
	if _, ok := configIgnored[key]; ok {
		return
	}
	h.setConfigMap(key, val)
}

func (h *Hub) SetConfigFloat(key string, val float64) {
	h.setConfigFloat(key, val)
	h.saveConfig(key, val)
}

func (h *Hub) GetConfigFloat(key string) (float64, bool) {
	v, ok := h.getConfigMap(key)
	if !ok || v == nil {
		return 0, false
	}
	switch v := v.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, true
	}
}

func (h *Hub) setGlobalChatEnabled(val bool) {
	h.conf.Lock()
	if h.conf.m == nil {
		h.conf.m = make(Map)
	}
	h.conf.m[ConfigChatGlobalEnabled] = val
	h.conf.Unlock()
}

func (h *Hub) getGlobalChatEnabled() bool {
	if h.conf.m == nil {
		return true
	}
	v, ok := h.conf.m[ConfigChatGlobalEnabled]
	if !ok {
		return true
	}
	b, _ := v.(bool)
	return b
}

func (h *Hub) IsPrivate() bool {
	h.conf.RLock()
	defer h.conf.RUnlock()
	return h.conf.Private
}
