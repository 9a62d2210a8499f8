package invalidcurve

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sort"
	"time"

	"github.com/forensicskween/invalidcurve/pkg/factorint"
	"github.com/forensicskween/invalidcurve/pkg/weierstrass"
)

// Engine recovers the oracle's secret from a file of precomputed invalid
// curves. It queries the oracle once per subgroup, accumulates residues of
// the secret modulo each prime power, and combines them with the Chinese
// remainder theorem once the accumulated modulus covers the search bound.
type Engine struct {
	bound         *big.Int
	bruteForceMax int
	maxBits       int
	seed          int64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine) error

// WithBound overrides the upper bound on the secret. The default is the
// Hasse bound of the field, which covers any scalar reduced modulo a group
// order over that field.
func WithBound(bound *big.Int) EngineOption {
	return func(e *Engine) error {
		if bound == nil || bound.Sign() <= 0 {
			return configErrorf("bound", "must be a positive integer")
		}
		e.bound = new(big.Int).Set(bound)
		return nil
	}
}

// WithBruteForceCompletion allows finishing a run whose accumulated
// modulus L falls short of the bound by testing secret = r + k*L for
// k up to max.
func WithBruteForceCompletion(max int) EngineOption {
	return func(e *Engine) error {
		if max < 0 {
			return configErrorf("brute-force", "must be non-negative, got %d", max)
		}
		e.bruteForceMax = max
		return nil
	}
}

// WithVerificationSeed fixes the random verification point.
func WithVerificationSeed(seed int64) EngineOption {
	return func(e *Engine) error { e.seed = seed; return nil }
}

// WithSubgroupBitLimit caps the prime powers the engine takes discrete
// logs over; larger factors in the curve file are clamped or skipped.
func WithSubgroupBitLimit(n int) EngineOption {
	return func(e *Engine) error {
		if n < 2 {
			return configErrorf("subgroup-bit-limit", "must be at least 2, got %d", n)
		}
		e.maxBits = n
		return nil
	}
}

// NewEngine applies options over the defaults.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{maxBits: defaultMaxSubgroupBits, seed: time.Now().UnixNano()}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Recovery is the outcome of a successful attack run.
type Recovery struct {
	// Secret is the recovered scalar.
	Secret *big.Int
	// Modulus is the product of covered prime powers the secret was
	// combined under.
	Modulus *big.Int
	// Residues is the accumulated congruence state.
	Residues *ResidueSet
	// Queries counts oracle calls, verification included.
	Queries int
	// Complete reports whether the modulus covered the bound on its own;
	// false means brute-force completion closed the gap.
	Complete bool
}

// RunAttack loads a curve file and recovers the secret behind oracle.
// realB is the b coefficient of the target's legitimate curve, used to
// verify candidate secrets with a single extra query; pass nil when it is
// unknown, in which case ambiguous results cannot be resolved.
func RunAttack(ctx context.Context, path string, oracle Oracle, realB *big.Int, opts ...EngineOption) (*Recovery, error) {
	file, err := LoadCurveFile(path)
	if err != nil {
		return nil, err
	}
	eng, err := NewEngine(opts...)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx, file, oracle, realB)
}

// RunAttackFile is RunAttack for a curve file already in memory.
func RunAttackFile(ctx context.Context, file *CurveFile, oracle Oracle, realB *big.Int, opts ...EngineOption) (*Recovery, error) {
	eng, err := NewEngine(opts...)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx, file, oracle, realB)
}

// workItem is one subgroup to extract a residue from, tagged with the
// record it came from.
type workItem struct {
	rec   *CurveRecord
	crv   *weierstrass.Curve
	prime *big.Int
	exp   int
	power *big.Int
}

// Run executes the attack over an in-memory curve file.
func (e *Engine) Run(ctx context.Context, file *CurveFile, oracle Oracle, realB *big.Int) (*Recovery, error) {
	bound := e.bound
	if bound == nil {
		bound = weierstrass.HasseBound(file.P)
	}
	items, err := e.collectItems(file, realB)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no usable subgroups in curve file", ErrInsufficientCurves)
	}

	queried := 0
	rnd := rand.New(rand.NewSource(e.seed))
	verify, err := e.verifier(file, oracle, realB, rnd, &queried)
	if err != nil {
		return nil, err
	}

	residues := NewResidueSet()
	recovered := func(secret *big.Int) *Recovery {
		return &Recovery{
			Secret:   secret,
			Modulus:  residues.Modulus(),
			Residues: residues,
			Queries:  queried,
			Complete: residues.Modulus().Cmp(bound) >= 0,
		}
	}
	rejected := make(map[string]bool)
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rejected[it.rec.B.String()] {
			continue
		}
		if residues.Covered(it.prime, it.exp) {
			log.Tracef("skipping %v^%d on b=%v, already covered", it.prime, it.exp, it.rec.B)
			continue
		}

		gen, exp, ok := it.rec.generatorFor(it.prime, it.exp)
		if !ok {
			gen, exp, err = subgroupGenerator(it.crv, rnd, it.rec.Order, it.prime, it.exp)
			if err != nil {
				log.Warnf("b=%v: %v", it.rec.B, err)
				continue
			}
		}
		if exp != it.exp {
			// Non-cyclic Sylow subgroup: the full prime power divides the
			// order but no point has it. Take the residue that is there.
			log.Debugf("b=%v: no point of order %v^%d, using %v^%d",
				it.rec.B, it.prime, it.exp, it.prime, exp)
			it.exp = exp
			it.power = new(big.Int).Exp(it.prime, big.NewInt(int64(exp)), nil)
			if residues.Covered(it.prime, it.exp) {
				continue
			}
		}

		res, err := oracle.ScalarMult(gen)
		queried++
		if err != nil {
			if errors.Is(err, ErrOracleRejected) {
				log.Infof("oracle rejected points on b=%v, abandoning curve", it.rec.B)
				rejected[it.rec.B.String()] = true
				continue
			}
			return nil, fmt.Errorf("oracle query failed: %w", err)
		}

		candidates, err := e.extractResidue(it, gen, res)
		if err != nil {
			log.Warnf("b=%v subgroup %v^%d: %v", it.rec.B, it.prime, it.exp, err)
			continue
		}
		residues.Add(it.prime, it.exp, candidates)
		log.Debugf("residues now cover %s, modulus %v", residues, residues.Modulus())

		if residues.Modulus().Cmp(bound) >= 0 {
			secret, err := e.finish(residues, bound, verify)
			if err == nil {
				log.Infof("recovered secret after %d oracle queries", queried)
				return recovered(secret), nil
			}
			if !errors.Is(err, ErrAmbiguousResidues) {
				return nil, err
			}
			// More residues may prune the surviving branches.
			log.Debugf("combination still ambiguous, continuing")
		}
	}

	if queried > 0 && len(rejected) == countRecords(items) {
		return nil, fmt.Errorf("%w: oracle rejected every curve", ErrAttackInfeasible)
	}

	if residues.Modulus().Cmp(bound) >= 0 {
		secret, err := e.finish(residues, bound, verify)
		if err != nil {
			return nil, err
		}
		return recovered(secret), nil
	}
	if e.bruteForceMax > 0 {
		if secret, err := e.completeByBruteForce(residues, bound, verify); err == nil {
			return recovered(secret), nil
		}
	}
	return nil, &InsufficientCoverageError{
		Residues: residues,
		Modulus:  residues.Modulus(),
		Bound:    bound,
	}
}

// collectItems expands the curve file into subgroup work items sorted by
// descending prime power, so the big subgroups contribute first and small
// redundant ones get skipped via coverage checks.
func (e *Engine) collectItems(file *CurveFile, realB *big.Int) ([]workItem, error) {
	var items []workItem
	for _, rec := range file.Curves {
		if realB != nil && rec.B.Cmp(new(big.Int).Mod(realB, file.P)) == 0 {
			log.Warnf("curve file contains the target's own curve b=%v: %v", rec.B, ErrRealCurve)
			continue
		}
		crv, err := file.Curve(rec)
		if err != nil {
			log.Warnf("skipping unusable record b=%v: %v", rec.B, err)
			continue
		}
		for _, uf := range usableFactors(factorint.Result{Factors: rec.Factors}, e.maxBits) {
			power := new(big.Int).Exp(uf.prime, big.NewInt(int64(uf.exp)), nil)
			items = append(items, workItem{
				rec: rec, crv: crv,
				prime: uf.prime, exp: uf.exp, power: power,
			})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].power.Cmp(items[j].power) > 0
	})
	return items, nil
}

// extractResidue turns one oracle reply into candidate residues of the
// secret modulo the item's prime power. A full reply pins one residue; an
// x-only reply leaves the sign open, so both r and q^e-r survive.
func (e *Engine) extractResidue(it workItem, gen weierstrass.Point, res Result) ([]*big.Int, error) {
	if res.Identity() {
		return []*big.Int{big.NewInt(0)}, nil
	}
	if res.XOnly() {
		pt, ok := it.crv.LiftX(res.X)
		if !ok {
			return nil, errors.New("oracle x coordinate does not lift onto the curve")
		}
		r, err := it.crv.PrimePowerLog(gen, pt, it.prime, it.exp)
		if err != nil {
			return nil, err
		}
		neg := new(big.Int).Sub(it.power, r)
		neg.Mod(neg, it.power)
		return []*big.Int{r, neg}, nil
	}
	pt := weierstrass.Point{X: res.X, Y: res.Y}
	if !it.crv.IsOnCurve(pt) {
		return nil, errors.New("oracle reply is not on the invalid curve")
	}
	r, err := it.crv.PrimePowerLog(gen, pt, it.prime, it.exp)
	if err != nil {
		return nil, err
	}
	return []*big.Int{r}, nil
}

// finish combines the residue set and picks the candidate the oracle
// confirms. With a single branch and no verifier the candidate is returned
// as is; multiple branches without a verifier cannot be told apart.
func (e *Engine) finish(residues *ResidueSet, bound *big.Int, verify func(*big.Int) (bool, error)) (*big.Int, error) {
	candidates, err := residues.Combine()
	if err != nil {
		return nil, err
	}
	inBound := candidates[:0:0]
	for _, c := range candidates {
		if c.Cmp(bound) < 0 {
			inBound = append(inBound, c)
		}
	}
	if len(inBound) == 0 {
		// The true secret must fit the bound, so keep everything and let
		// verification decide.
		inBound = candidates
	}
	if verify == nil {
		if len(inBound) == 1 {
			return inBound[0], nil
		}
		return nil, fmt.Errorf("%w: %d candidates and no verification curve",
			ErrAmbiguousResidues, len(inBound))
	}
	for _, c := range inBound {
		ok, err := verify(c)
		if err != nil {
			return nil, err
		}
		if ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: no combined candidate verified", ErrAmbiguousResidues)
}

// completeByBruteForce extends each combined residue r by multiples of the
// accumulated modulus, secret = r + k*L, and verifies each candidate.
func (e *Engine) completeByBruteForce(residues *ResidueSet, bound *big.Int, verify func(*big.Int) (bool, error)) (*big.Int, error) {
	if verify == nil {
		return nil, fmt.Errorf("%w: brute-force completion needs a verification curve",
			ErrAmbiguousResidues)
	}
	candidates, err := residues.Combine()
	if err != nil {
		return nil, err
	}
	mod := residues.Modulus()
	for k := 0; k <= e.bruteForceMax; k++ {
		step := new(big.Int).Mul(mod, big.NewInt(int64(k)))
		for _, r := range candidates {
			c := new(big.Int).Add(r, step)
			if c.Cmp(bound) >= 0 {
				continue
			}
			ok, err := verify(c)
			if err != nil {
				return nil, err
			}
			if ok {
				log.Infof("brute-force completion succeeded at k=%d", k)
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: brute-force completion exhausted k=%d",
		ErrAmbiguousResidues, e.bruteForceMax)
}

// verifier builds a candidate checker backed by one oracle query on a
// point of the target's legitimate curve. The query is made lazily on the
// first check and its reply is reused for every candidate. Returns nil
// when realB is unknown.
func (e *Engine) verifier(file *CurveFile, oracle Oracle, realB *big.Int, rnd *rand.Rand, queried *int) (func(*big.Int) (bool, error), error) {
	if realB == nil {
		return nil, nil
	}
	real, err := weierstrass.NewCurve(file.P, file.A, realB)
	if err != nil {
		return nil, fmt.Errorf("verification curve: %w", err)
	}
	var (
		point weierstrass.Point
		reply Result
		asked bool
	)
	return func(c *big.Int) (bool, error) {
		if !asked {
			point, err = real.RandomPoint(rnd)
			if err != nil {
				return false, err
			}
			reply, err = oracle.ScalarMult(point)
			*queried++
			if err != nil {
				return false, fmt.Errorf("verification query failed: %w", err)
			}
			asked = true
		}
		expect := real.ScalarMult(point, c)
		if reply.Identity() || expect.IsInfinity() {
			return reply.Identity() && expect.IsInfinity(), nil
		}
		if expect.X.Cmp(reply.X) != 0 {
			return false, nil
		}
		if reply.Y != nil && expect.Y.Cmp(reply.Y) != 0 {
			// x matches but y does not: candidate is the negated secret.
			return false, nil
		}
		return true, nil
	}, nil
}

// countRecords counts distinct curves among items.
func countRecords(items []workItem) int {
	seen := make(map[string]struct{})
	for _, it := range items {
		seen[it.rec.B.String()] = struct{}{}
	}
	return len(seen)
}
