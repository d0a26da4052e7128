package adc

import (
	"bytes"
	"errors"
	"fmt"
)

// Kind is the addressing scheme a command uses, taken from the first
// byte of its four-byte command code.
type Kind byte

const (
	KindBroadcast Kind = 'B' // every logged-in user
	KindDirect    Kind = 'D' // a single target SID
	KindEcho      Kind = 'E' // target SID, echoed back to sender
	KindFeature   Kind = 'F' // broadcast filtered by supported features
	KindHub       Kind = 'H' // client to hub
	KindInfo      Kind = 'I' // hub to client
	KindClient    Kind = 'C' // client-to-client; never accepted at hub ingress
)

var ErrMalformed = errors.New("adc: malformed command")

// FeatureSel is one entry of an F-command's feature filter list: a
// four-character tag and whether it must be present (+) or absent (-).
type FeatureSel struct {
	Tag string
	Add bool
}

// token is one free-form argument after the addressing-fixed
// arguments. Named tokens carry a two-letter key; positional tokens
// leave Key empty.
type token struct {
	key string
	val string // decoded (unescaped) value
}

// Command is a parsed ADC message together with a lazily computed,
// cache-coherent wire-byte representation. AddArg, SetNamed and
// RemoveNamed invalidate the cache; Bytes recomputes it on next use.
// The addressing fields (Kind, Code, Src, Dst, Sel) are plain fields:
// writing them directly does not invalidate the cache.
type Command struct {
	Kind Kind
	Code string // three-letter command code, e.g. "INF", "SUP", "MSG"

	Src SID // set for B/D/E/F
	Dst SID // set for D/E

	Sel []FeatureSel // set for F

	Priority int // lower priority may be dropped under backpressure

	tokens []token
	named  map[string]int // key -> index into tokens, for O(1) replace

	cache []byte
	dirty bool
}

// NewCommand constructs an empty command of the given kind and code.
// code must be exactly three characters.
func NewCommand(kind Kind, code string) *Command {
	return &Command{
		Kind:  kind,
		Code:  code,
		named: make(map[string]int),
		dirty: true,
	}
}

func (c *Command) invalidate() {
	c.dirty = true
	c.cache = nil
}

// AddArg appends a positional (non-named) argument.
func (c *Command) AddArg(v string) {
	c.tokens = append(c.tokens, token{val: v})
	c.invalidate()
}

// Args returns the positional arguments, in original order.
func (c *Command) Args() []string {
	var out []string
	for _, t := range c.tokens {
		if t.key == "" {
			out = append(out, t.val)
		}
	}
	return out
}

// Arg returns the i-th positional argument, or "" if absent.
func (c *Command) Arg(i int) string {
	args := c.Args()
	if i < 0 || i >= len(args) {
		return ""
	}
	return args[i]
}

// SetNamed sets a two-letter named argument, replacing the first
// prior occurrence in place, or appending if the key is not present.
func (c *Command) SetNamed(key, val string) {
	if idx, ok := c.named[key]; ok {
		c.tokens[idx].val = val
		c.invalidate()
		return
	}
	c.tokens = append(c.tokens, token{key: key, val: val})
	c.named[key] = len(c.tokens) - 1
	c.invalidate()
}

// GetNamed looks up a named argument.
func (c *Command) GetNamed(key string) (string, bool) {
	idx, ok := c.named[key]
	if !ok {
		return "", false
	}
	return c.tokens[idx].val, true
}

// RemoveNamed deletes a named argument if present.
func (c *Command) RemoveNamed(key string) bool {
	idx, ok := c.named[key]
	if !ok {
		return false
	}
	c.tokens = append(c.tokens[:idx], c.tokens[idx+1:]...)
	delete(c.named, key)
	for k, i := range c.named {
		if i > idx {
			c.named[k] = i - 1
		}
	}
	c.invalidate()
	return true
}

// NamedKeys returns the named argument keys in insertion order.
func (c *Command) NamedKeys() []string {
	var out []string
	for _, t := range c.tokens {
		if t.key != "" {
			out = append(out, t.key)
		}
	}
	return out
}

// Bytes returns the wire-format encoding, recomputing it if the
// command was mutated since the last call.
func (c *Command) Bytes() []byte {
	if !c.dirty && c.cache != nil {
		return c.cache
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(c.Kind))
	buf.WriteString(c.Code)
	switch c.Kind {
	case KindBroadcast:
		buf.WriteByte(' ')
		buf.WriteString(c.Src.String())
	case KindDirect, KindEcho:
		buf.WriteByte(' ')
		buf.WriteString(c.Src.String())
		buf.WriteByte(' ')
		buf.WriteString(c.Dst.String())
	case KindFeature:
		buf.WriteByte(' ')
		buf.WriteString(c.Src.String())
		for _, s := range c.Sel {
			buf.WriteByte(' ')
			if s.Add {
				buf.WriteByte('+')
			} else {
				buf.WriteByte('-')
			}
			buf.WriteString(s.Tag)
		}
	}
	for _, t := range c.tokens {
		buf.WriteByte(' ')
		if t.key != "" {
			buf.WriteString(t.key)
		}
		buf.WriteString(Escape(t.val))
	}
	buf.WriteByte('\n')
	c.cache = buf.Bytes()
	c.dirty = false
	return c.cache
}

// Copy returns a deep copy whose cache and mutations are independent
// of the original, for callers (router rewrites) that must mutate a
// shared template without racing other readers of it.
func (c *Command) Copy() *Command {
	cp := &Command{
		Kind:     c.Kind,
		Code:     c.Code,
		Src:      c.Src,
		Dst:      c.Dst,
		Priority: c.Priority,
		tokens:   append([]token(nil), c.tokens...),
		named:    make(map[string]int, len(c.named)),
		dirty:    true,
	}
	for k, v := range c.named {
		cp.named[k] = v
	}
	if len(c.Sel) > 0 {
		cp.Sel = append([]FeatureSel(nil), c.Sel...)
	}
	return cp
}

// isNamedKey reports whether a token's leading two bytes look like a
// named-argument key: two uppercase ASCII letters.
func isNamedKey(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return b[0] >= 'A' && b[0] <= 'Z' && b[1] >= 'A' && b[1] <= 'Z'
}

// ParseLine parses one ADC protocol line (without its trailing
// newline) into a Command. It never returns an error for hostile
// input shape reasons that a verifying caller should instead reject;
// it only fails when the line cannot be tokenized as a command at
// all (too short, unknown kind letter or C kind, wrong fixed-argument
// count for the kind, or a source/target SID that is not a valid
// 4-character base-32 SID).
func ParseLine(line []byte) (*Command, error) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) < 4 {
		return nil, ErrMalformed
	}
	kind := Kind(line[0])
	switch kind {
	case KindBroadcast, KindDirect, KindEcho, KindFeature, KindHub, KindInfo:
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, line[0])
	}
	code := string(line[1:4])

	var fields [][]byte
	if len(line) > 4 {
		if line[4] != ' ' {
			return nil, ErrMalformed
		}
		fields = bytes.Split(line[5:], []byte(" "))
	}

	c := NewCommand(kind, code)
	idx := 0
	switch kind {
	case KindBroadcast:
		if idx >= len(fields) {
			return nil, fmt.Errorf("%w: missing source sid", ErrMalformed)
		}
		sid, err := ParseSID(string(fields[idx]))
		if err != nil {
			return nil, err
		}
		c.Src = sid
		idx++
	case KindDirect, KindEcho:
		if idx+1 >= len(fields) {
			return nil, fmt.Errorf("%w: missing source/target sid", ErrMalformed)
		}
		src, err := ParseSID(string(fields[idx]))
		if err != nil {
			return nil, err
		}
		dst, err := ParseSID(string(fields[idx+1]))
		if err != nil {
			return nil, err
		}
		c.Src, c.Dst = src, dst
		idx += 2
	case KindFeature:
		if idx >= len(fields) {
			return nil, fmt.Errorf("%w: missing source sid", ErrMalformed)
		}
		sid, err := ParseSID(string(fields[idx]))
		if err != nil {
			return nil, err
		}
		c.Src = sid
		idx++
		for idx < len(fields) {
			f := fields[idx]
			if len(f) != 5 || (f[0] != '+' && f[0] != '-') {
				break
			}
			c.Sel = append(c.Sel, FeatureSel{Tag: string(f[1:]), Add: f[0] == '+'})
			idx++
		}
	case KindHub, KindInfo:
		// no fixed arguments
	}

	for ; idx < len(fields); idx++ {
		f := fields[idx]
		if isNamedKey(f) {
			key := string(f[:2])
			val := Unescape(string(f[2:]))
			c.tokens = append(c.tokens, token{key: key, val: val})
			c.named[key] = len(c.tokens) - 1
		} else {
			c.tokens = append(c.tokens, token{val: Unescape(string(f))})
		}
	}
	return c, nil
}

// Verify checks the addressing invariants that only the caller (which
// knows the sending connection's own SID) can enforce: the source SID
// of an addressed command must equal the sender's SID, and the line
// must not exceed the configured maximum length. Kind C is never
// accepted at hub ingress.
func Verify(c *Command, sender SID, maxLineLen int, raw []byte) error {
	if maxLineLen > 0 && len(raw) > maxLineLen {
		return fmt.Errorf("%w: line too long", ErrMalformed)
	}
	if c.Kind == KindClient {
		return fmt.Errorf("%w: C-kind not accepted at hub ingress", ErrMalformed)
	}
	switch c.Kind {
	case KindBroadcast, KindDirect, KindEcho, KindFeature:
		if c.Src != sender {
			return fmt.Errorf("%w: source sid does not match sender", ErrMalformed)
		}
	}
	return nil
}

// ParseAndVerify combines ParseLine and Verify, matching §4.1's
// "parse + verify" contract: on any violation it returns a nil
// command rather than a partially valid one.
func ParseAndVerify(raw []byte, sender SID, maxLineLen int) (*Command, error) {
	c, err := ParseLine(raw)
	if err != nil {
		return nil, err
	}
	if err := Verify(c, sender, maxLineLen, raw); err != nil {
		return nil, err
	}
	return c, nil
}
