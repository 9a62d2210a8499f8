package invalidcurve

import (
	"fmt"
	"math/big"
	"sort"
)

// maxCombineBranches bounds the cartesian product of sign-ambiguous
// residues. With x-only oracles each prime power contributes up to two
// candidates, so this allows a dozen unresolved entries before the set is
// declared ambiguous.
const maxCombineBranches = 4096

// residueEntry holds the known candidates for the secret modulo prime^exp.
// Full oracles pin a single candidate; x-only oracles may leave two.
type residueEntry struct {
	prime      *big.Int
	exp        int
	modulus    *big.Int
	candidates []*big.Int
}

// ResidueSet accumulates congruences on the secret across curves. Entries
// are keyed by prime; a higher prime power replaces a lower one for the
// same prime.
type ResidueSet struct {
	entries map[string]*residueEntry
}

// NewResidueSet returns an empty accumulator.
func NewResidueSet() *ResidueSet {
	return &ResidueSet{entries: make(map[string]*residueEntry)}
}

// Covered reports whether the set already knows the secret modulo a power
// of prime at least as large as prime^exp.
func (s *ResidueSet) Covered(prime *big.Int, exp int) bool {
	e, ok := s.entries[prime.String()]
	return ok && e.exp >= exp
}

// Add records the candidate residues of the secret modulo prime^exp,
// replacing any entry for the same prime with a smaller exponent.
// Duplicate candidates are collapsed.
func (s *ResidueSet) Add(prime *big.Int, exp int, candidates []*big.Int) {
	if len(candidates) == 0 {
		return
	}
	key := prime.String()
	if e, ok := s.entries[key]; ok && e.exp >= exp {
		return
	}
	mod := new(big.Int).Exp(prime, big.NewInt(int64(exp)), nil)
	var uniq []*big.Int
	for _, c := range candidates {
		r := new(big.Int).Mod(c, mod)
		dup := false
		for _, u := range uniq {
			if u.Cmp(r) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			uniq = append(uniq, r)
		}
	}
	s.entries[key] = &residueEntry{
		prime:      new(big.Int).Set(prime),
		exp:        exp,
		modulus:    mod,
		candidates: uniq,
	}
}

// Len returns the number of distinct primes covered.
func (s *ResidueSet) Len() int { return len(s.entries) }

// Modulus returns the product of all covered prime powers, the modulus the
// combined residues are known under. An empty set has modulus 1.
func (s *ResidueSet) Modulus() *big.Int {
	m := big.NewInt(1)
	for _, e := range s.entries {
		m.Mul(m, e.modulus)
	}
	return m
}

// Branches returns the number of CRT combinations the current entries
// would produce.
func (s *ResidueSet) Branches() int {
	n := 1
	for _, e := range s.entries {
		n *= len(e.candidates)
		if n > maxCombineBranches {
			return n
		}
	}
	return n
}

// Combine runs the Chinese remainder theorem over every combination of
// candidate residues and returns the possible values of the secret modulo
// Modulus, sorted ascending. It fails with ErrAmbiguousResidues when the
// sign ambiguity has fanned out past maxCombineBranches.
func (s *ResidueSet) Combine() ([]*big.Int, error) {
	if len(s.entries) == 0 {
		return nil, nil
	}
	if s.Branches() > maxCombineBranches {
		return nil, fmt.Errorf("%w: %d combinations over %d primes",
			ErrAmbiguousResidues, s.Branches(), len(s.entries))
	}

	// Deterministic entry order so results are reproducible.
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := []*big.Int{big.NewInt(0)}
	modulus := big.NewInt(1)
	for _, k := range keys {
		e := s.entries[k]
		next := make([]*big.Int, 0, len(results)*len(e.candidates))
		for _, r := range results {
			for _, c := range e.candidates {
				x, err := crtPair(r, modulus, c, e.modulus)
				if err != nil {
					return nil, err
				}
				next = append(next, x)
			}
		}
		results = next
		modulus.Mul(modulus, e.modulus)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Cmp(results[j]) < 0 })
	return results, nil
}

// String summarizes the covered prime powers for logging.
func (s *ResidueSet) String() string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		e := s.entries[k]
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%v^%d(%d)", e.prime, e.exp, len(e.candidates))
	}
	return out
}

// crtPair solves x = r1 mod m1, x = r2 mod m2 for coprime moduli.
func crtPair(r1, m1, r2, m2 *big.Int) (*big.Int, error) {
	inv := new(big.Int).ModInverse(m1, m2)
	if inv == nil {
		return nil, fmt.Errorf("crt moduli %v and %v are not coprime", m1, m2)
	}
	// x = r1 + m1 * ((r2 - r1) * m1^-1 mod m2)
	t := new(big.Int).Sub(r2, r1)
	t.Mul(t, inv)
	t.Mod(t, m2)
	x := new(big.Int).Mul(m1, t)
	x.Add(x, r1)
	return x, nil
}
