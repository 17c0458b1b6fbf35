package vis

import (
	"fmt"
	"strings"
)

// Correlation identifies a polarization product, either a Stokes parameter or
// a pair of feed receptors.
type Correlation int

const (
	CorrUnknown Correlation = iota
	StokesI
	StokesQ
	StokesU
	StokesV
	RR
	RL
	LR
	LL
	XX
	XY
	YX
	YY
)

var corrNames = map[Correlation]string{
	StokesI: "I", StokesQ: "Q", StokesU: "U", StokesV: "V",
	RR: "RR", RL: "RL", LR: "LR", LL: "LL",
	XX: "XX", XY: "XY", YX: "YX", YY: "YY",
}

func (c Correlation) String() string {
	if s, ok := corrNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Correlation(%d)", int(c))
}

// ParseCorrelation accepts the usual names ("I", "RR", "XY", ...).
func ParseCorrelation(s string) (Correlation, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for c, name := range corrNames {
		if name == want {
			return c, nil
		}
	}
	return CorrUnknown, fmt.Errorf("vis: unknown correlation %q", s)
}

// ParseCorrelations parses a list such as ["XX", "YY"].
func ParseCorrelations(names []string) ([]Correlation, error) {
	out := make([]Correlation, len(names))
	for i, n := range names {
		c, err := ParseCorrelation(n)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// IsLinear reports whether c is a product of linear feeds.
func (c Correlation) IsLinear() bool { return c >= XX && c <= YY }

// IsCircular reports whether c is a product of circular feeds.
func (c Correlation) IsCircular() bool { return c >= RR && c <= LL }

// IsParallelHand reports whether c correlates a feed with itself.
func (c Correlation) IsParallelHand() bool {
	return c == RR || c == LL || c == XX || c == YY
}
