package adc

import (
	"fmt"
	"strings"
)

// Feature is a four-character extension tag, e.g. BASE, TIGR, PING.
type Feature string

const (
	FeaBASE Feature = "BASE"
	FeaTIGR Feature = "TIGR"
	FeaPING Feature = "PING" // client self-identifies as a monitoring probe
	FeaUCM0 Feature = "UCM0"
)

// FeatureSet is the set of features a user has asserted via HSUP.
type FeatureSet map[Feature]bool

func (s FeatureSet) Has(f Feature) bool { return s[f] }

func (s FeatureSet) Clone() FeatureSet {
	out := make(FeatureSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ApplySupported parses a sequence of AD<XXXX>/RM<XXXX> SUP tokens
// (already unescaped positional arguments of an HSUP command) into a
// mutation against the set, as described in §4.3. It reports how many
// tokens were well-formed six-character AD/RM tokens so the caller
// can apply the "at least one feature asserted" rule.
func ApplySupported(set FeatureSet, args []string) (ok int, err error) {
	for _, a := range args {
		if len(a) != 6 {
			return ok, fmt.Errorf("adc: malformed SUP token %q", a)
		}
		tag := Feature(a[2:])
		switch strings.ToUpper(a[:2]) {
		case "AD":
			set[tag] = true
		case "RM":
			delete(set, tag)
		default:
			return ok, fmt.Errorf("adc: malformed SUP token %q", a)
		}
		ok++
	}
	return ok, nil
}

// SatisfiesFilter reports whether a user's supported-feature set
// matches an F-command's selector: every + tag present, no - tag
// present.
func SatisfiesFilter(set FeatureSet, sel []FeatureSel) bool {
	for _, s := range sel {
		has := set.Has(Feature(s.Tag))
		if s.Add && !has {
			return false
		}
		if !s.Add && has {
			return false
		}
	}
	return true
}
