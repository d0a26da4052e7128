package adc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"hello world",
		"back\\slash",
		"line\nbreak",
		"",
		"no-special-chars",
		" leading and trailing ",
	}
	for _, s := range cases {
		got := Unescape(Escape(s))
		assert.Equal(t, s, got)
	}
}

func TestParseBroadcastRoundTrip(t *testing.T) {
	c := NewCommand(KindBroadcast, "INF")
	c.Src = SID{0, 2}
	c.SetNamed("ID", "some value")
	c.SetNamed("NI", "nick with space")
	raw := c.Bytes()

	got, err := ParseLine(raw)
	require.NoError(t, err)
	assert.Equal(t, KindBroadcast, got.Kind)
	assert.Equal(t, "INF", got.Code)
	assert.Equal(t, c.Src, got.Src)
	v, ok := got.GetNamed("ID")
	require.True(t, ok)
	assert.Equal(t, "some value", v)
	v, ok = got.GetNamed("NI")
	require.True(t, ok)
	assert.Equal(t, "nick with space", v)
}

func TestParseDirectAndEcho(t *testing.T) {
	c := NewCommand(KindDirect, "MSG")
	c.Src = SID{0, 2}
	c.Dst = SID{0, 3}
	c.AddArg("hi there")
	got, err := ParseLine(c.Bytes())
	require.NoError(t, err)
	assert.Equal(t, KindDirect, got.Kind)
	assert.Equal(t, c.Src, got.Src)
	assert.Equal(t, c.Dst, got.Dst)
	assert.Equal(t, []string{"hi there"}, got.Args())
}

func TestParseFeatureFilter(t *testing.T) {
	c := NewCommand(KindFeature, "MSG")
	c.Src = SID{0, 2}
	c.Sel = []FeatureSel{{Tag: "PING", Add: true}, {Tag: "TIGR", Add: false}}
	c.AddArg("hello")
	got, err := ParseLine(c.Bytes())
	require.NoError(t, err)
	require.Len(t, got.Sel, 2)
	assert.Equal(t, FeatureSel{Tag: "PING", Add: true}, got.Sel[0])
	assert.Equal(t, FeatureSel{Tag: "TIGR", Add: false}, got.Sel[1])
}

func TestVerifyRejectsSourceMismatch(t *testing.T) {
	c := NewCommand(KindBroadcast, "INF")
	c.Src = SID{0, 2}
	raw := c.Bytes()
	parsed, err := ParseLine(raw)
	require.NoError(t, err)
	err = Verify(parsed, SID{0, 3}, 0, raw)
	assert.Error(t, err)
}

func TestVerifyRejectsOversizeLine(t *testing.T) {
	c := NewCommand(KindHub, "SUP")
	c.AddArg("ADBASE")
	raw := c.Bytes()
	err := Verify(c, SID{}, 4, raw)
	assert.Error(t, err)
}

func TestParseRejectsClientKind(t *testing.T) {
	_, err := ParseAndVerify([]byte("CINF\n"), SID{}, 0)
	assert.Error(t, err)
}

func TestParseMalformedSID(t *testing.T) {
	_, err := ParseLine([]byte("BINF ab1\n"))
	assert.Error(t, err)
}

func TestSetNamedReplacesInPlace(t *testing.T) {
	c := NewCommand(KindBroadcast, "INF")
	c.Src = SID{0, 2}
	c.SetNamed("SS", "100")
	c.SetNamed("SS", "200")
	keys := c.NamedKeys()
	require.Len(t, keys, 1)
	v, _ := c.GetNamed("SS")
	assert.Equal(t, "200", v)
}

func TestCacheInvalidatedOnMutation(t *testing.T) {
	c := NewCommand(KindBroadcast, "INF")
	c.Src = SID{0, 2}
	b1 := c.Bytes()
	c.SetNamed("NI", "x")
	b2 := c.Bytes()
	assert.NotEqual(t, string(b1), string(b2))
}

func TestCIDHashRoundTrip(t *testing.T) {
	var pid PID
	copy(pid[:], "0123456789012345678901")
	cid := HashPID(pid)
	s := cid.String()
	assert.Len(t, s, 39)
	back, err := ParseCID(s)
	require.NoError(t, err)
	assert.Equal(t, cid, back)
}

func TestSIDStringLength(t *testing.T) {
	s := SID{1, 2}
	assert.Len(t, s.String(), 4)
}
