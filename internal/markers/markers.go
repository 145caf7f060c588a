// Package markers generates the process-lifetime Unicode delimiter set used
// to frame synthesized tool calls in the prompt stream.
package markers

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// delimiterTriple is one (open, close, mid) row of the fixed pool.
type delimiterTriple struct {
	open, close, mid string
}

var triplePool = []delimiterTriple{
	{"༒", "༒", "࿇"},
	{"꧁", "꧂", "࿔"},
	{"᎒", "᎒", "᎓"},
	{"ꆈ", "ꆈ", "ꊰ"},
	{"꩜", "꩜", "꩟"},
	{"ꓸ", "ꓸ", "ꓹ"},
}

var suffixPool = []string{
	"龘", "靐", "齉", "麤", "爨", "驫", "鱻", "羴", "犇", "骉",
	"飝", "厵", "靇", "飍", "馫", "灥", "厽", "叒", "叕", "芔",
}

// Set is the immutable marker record M, fixed for the lifetime of the
// process once constructed. It must never be derived per-request: multi-turn
// conversations encode tool calls into history using these exact markers, and
// later turns must still parse against the same set.
type Set struct {
	TCStart     string
	TCEnd       string
	NameStart   string
	NameEnd     string
	ArgsStart   string
	ArgsEnd     string
	ResultStart string
	ResultEnd   string
}

// New picks a delimiter-triple and two suffix glyphs uniformly at random from
// the fixed pools (6 x 20 x 20 = 2400 combinations) and builds the eight
// markers per the construction table. Collision with real model output is
// treated as vanishingly unlikely given the code-point rarity of the pools;
// no escaping scheme is defined.
func New() (Set, error) {
	triple, err := randomTriple()
	if err != nil {
		return Set{}, fmt.Errorf("markers: select delimiter triple: %w", err)
	}
	s1, err := randomSuffix()
	if err != nil {
		return Set{}, fmt.Errorf("markers: select suffix glyph: %w", err)
	}
	s2, err := randomSuffix()
	if err != nil {
		return Set{}, fmt.Errorf("markers: select suffix glyph: %w", err)
	}

	return Set{
		TCStart:     triple.open + s1 + "ᐅ",
		TCEnd:       "ᐊ" + s1 + triple.close,
		NameStart:   triple.mid + "▸",
		NameEnd:     "◂" + triple.mid,
		ArgsStart:   triple.mid + "▹",
		ArgsEnd:     "◃" + triple.mid,
		ResultStart: triple.open + s2 + "⟫",
		ResultEnd:   "⟪" + s2 + triple.close,
	}, nil
}

// MustNew is New but panics on entropy failure, for use at process startup
// where there is no sensible recovery path.
func MustNew() Set {
	s, err := New()
	if err != nil {
		panic(err)
	}
	return s
}

func randomTriple() (delimiterTriple, error) {
	idx, err := randomIndex(len(triplePool))
	if err != nil {
		return delimiterTriple{}, err
	}
	return triplePool[idx], nil
}

func randomSuffix() (string, error) {
	idx, err := randomIndex(len(suffixPool))
	if err != nil {
		return "", err
	}
	return suffixPool[idx], nil
}

func randomIndex(n int) (int, error) {
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
