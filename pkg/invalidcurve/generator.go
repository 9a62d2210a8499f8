package invalidcurve

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/forensicskween/invalidcurve/internal/timeout"
	"github.com/forensicskween/invalidcurve/pkg/factorint"
	"github.com/forensicskween/invalidcurve/pkg/weierstrass"
)

// Defaults for the generation knobs. The subgroup bit limit keeps every
// discrete log within baby-step giant-step range.
const (
	defaultTimeout         = 30 * time.Second
	defaultMaxTimeout      = 4 * time.Minute
	defaultMinFactors      = 2
	defaultMaxSubgroupBits = 48
	defaultWorkers         = 4
)

// Generator produces invalid curves over a fixed prime field: curves
// y^2 = x^3 + a x + b' sharing the target's p and a but with attacker
// chosen b', filtered down to those whose group order carries enough
// small prime-power subgroups to be useful.
type Generator struct {
	p, a *big.Int

	timeout         time.Duration
	maxTimeout      time.Duration
	deep            bool
	proof           bool
	minFactors      int
	maxSubgroupBits int
	excluded        map[string]struct{}
	seed            int64
	workers         int
	withGenerators  bool
	cache           *factorint.Cache
}

// Option configures a Generator.
type Option func(*Generator) error

// WithTimeout sets the per-curve analysis deadline and the ceiling the
// escalating retries stop at.
func WithTimeout(start, max time.Duration) Option {
	return func(g *Generator) error {
		if start <= 0 || max < start {
			return configErrorf("timeout", "want 0 < start <= max, got %v and %v", start, max)
		}
		g.timeout, g.maxTimeout = start, max
		return nil
	}
}

// WithDeepFactoring enables the slower elliptic-curve factoring pass when
// the first pass leaves a composite cofactor.
func WithDeepFactoring(on bool) Option {
	return func(g *Generator) error { g.deep = on; return nil }
}

// WithPrimalityProofs demands stronger primality testing on the factors.
func WithPrimalityProofs(on bool) Option {
	return func(g *Generator) error { g.proof = on; return nil }
}

// WithMinFactors sets how many usable prime-power subgroups a curve must
// offer to be accepted.
func WithMinFactors(n int) Option {
	return func(g *Generator) error {
		if n < 1 {
			return configErrorf("min-factors", "must be at least 1, got %d", n)
		}
		g.minFactors = n
		return nil
	}
}

// WithMaxSubgroupBits caps the size of prime powers considered usable.
func WithMaxSubgroupBits(n int) Option {
	return func(g *Generator) error {
		if n < 2 {
			return configErrorf("max-subgroup-bits", "must be at least 2, got %d", n)
		}
		g.maxSubgroupBits = n
		return nil
	}
}

// WithExcludedB blacklists b values, typically the target's real
// coefficient so the generator never emits the legitimate curve.
func WithExcludedB(bs ...*big.Int) Option {
	return func(g *Generator) error {
		for _, b := range bs {
			r := new(big.Int).Mod(b, g.p)
			g.excluded[r.String()] = struct{}{}
		}
		return nil
	}
}

// WithSeed fixes the random stream so a run is reproducible.
func WithSeed(seed int64) Option {
	return func(g *Generator) error { g.seed = seed; return nil }
}

// WithWorkers sets how many candidates are analyzed concurrently.
func WithWorkers(n int) Option {
	return func(g *Generator) error {
		if n < 1 {
			return configErrorf("workers", "must be at least 1, got %d", n)
		}
		g.workers = n
		return nil
	}
}

// WithGenerators precomputes a point of exact order q^e for every usable
// factor of every accepted curve, trading generation time for attack time.
func WithGenerators(on bool) Option {
	return func(g *Generator) error { g.withGenerators = on; return nil }
}

// WithFactorCache shares factorization results across candidates.
func WithFactorCache(c *factorint.Cache) Option {
	return func(g *Generator) error { g.cache = c; return nil }
}

// NewGenerator validates the field parameters and applies options.
func NewGenerator(p, a *big.Int, opts ...Option) (*Generator, error) {
	if p == nil || p.Cmp(big.NewInt(3)) <= 0 || !p.ProbablyPrime(64) {
		return nil, configErrorf("p", "must be a prime greater than 3")
	}
	if a == nil || a.Sign() < 0 || a.Cmp(p) >= 0 {
		return nil, configErrorf("a", "must lie in [0, p)")
	}
	g := &Generator{
		p:               new(big.Int).Set(p),
		a:               new(big.Int).Set(a),
		timeout:         defaultTimeout,
		maxTimeout:      defaultMaxTimeout,
		minFactors:      defaultMinFactors,
		maxSubgroupBits: defaultMaxSubgroupBits,
		excluded:        make(map[string]struct{}),
		seed:            time.Now().UnixNano(),
		workers:         defaultWorkers,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if g.cache == nil {
		g.cache = factorint.NewCache()
	}
	return g, nil
}

// Source names the b candidates to try. Exactly one field must be set:
// Count draws random coefficients until that many curves are accepted,
// Values tries an explicit list, and Range sweeps [From, To] inclusive.
// Explicit values and range bounds must lie in (0, p); values outside the
// field are a configuration error, not candidates to reduce.
type Source struct {
	Count  int
	Values []*big.Int
	Range  *BRange
}

// BRange is an inclusive interval of b values.
type BRange struct {
	From, To *big.Int
}

func (s Source) validate(p *big.Int) error {
	set := 0
	if s.Count > 0 {
		set++
	}
	if len(s.Values) > 0 {
		set++
	}
	if s.Range != nil {
		set++
	}
	if set != 1 {
		return configErrorf("source", "exactly one of count, values or range must be set")
	}
	for _, v := range s.Values {
		if v == nil || v.Sign() <= 0 || v.Cmp(p) >= 0 {
			return configErrorf("source", "b value %v outside (0, p)", v)
		}
	}
	if s.Range != nil {
		if s.Range.From == nil || s.Range.To == nil || s.Range.From.Cmp(s.Range.To) > 0 {
			return configErrorf("source", "range bounds must satisfy from <= to")
		}
		if s.Range.From.Sign() <= 0 || s.Range.To.Cmp(p) >= 0 {
			return configErrorf("source", "range must lie inside (0, p)")
		}
		width := new(big.Int).Sub(s.Range.To, s.Range.From)
		if width.BitLen() > 24 {
			return configErrorf("source", "range spans more than 2^24 values")
		}
	}
	return nil
}

// candidate is one b value queued for analysis, tagged with its position
// in the deterministic candidate stream.
type candidate struct {
	idx int
	b   *big.Int
}

// verdict is the analysis outcome for one candidate.
type verdict struct {
	idx int
	rec *CurveRecord
	err error
}

// Generate runs the candidate stream through the analysis pipeline and
// returns the accepted curves. Acceptance order follows the candidate
// stream, not worker completion, so a fixed seed yields an identical
// file every run. When the source is exhausted before enough curves are
// accepted, the partial file is returned together with
// ErrInsufficientCurves.
func (g *Generator) Generate(ctx context.Context, src Source) (*CurveFile, error) {
	if err := src.validate(g.p); err != nil {
		return nil, err
	}

	want := src.Count
	stream, budget := g.candidateStream(src)
	file := &CurveFile{P: new(big.Int).Set(g.p), A: new(big.Int).Set(g.a)}

	chunk := g.workers * 4
	seen := make(map[string]struct{})
	produced := 0
	for produced < budget && (want == 0 || len(file.Curves) < want) {
		if err := ctx.Err(); err != nil {
			return file, err
		}
		var batch []candidate
		for len(batch) < chunk && produced < budget {
			b := stream(produced)
			produced++
			if b == nil {
				continue
			}
			key := b.String()
			if _, dup := seen[key]; dup {
				log.Tracef("skipping candidate b=%v: %v", b, ErrDuplicateCurve)
				continue
			}
			seen[key] = struct{}{}
			if _, bad := g.excluded[key]; bad {
				log.Debugf("skipping candidate b=%v: %v", b, ErrRealCurve)
				continue
			}
			batch = append(batch, candidate{idx: produced - 1, b: b})
		}
		if len(batch) == 0 {
			continue
		}

		for _, v := range g.evaluateBatch(ctx, batch) {
			if v.err != nil {
				if errors.Is(v.err, context.Canceled) || errors.Is(v.err, context.DeadlineExceeded) {
					return file, v.err
				}
				log.Debugf("candidate rejected: %v", v.err)
				continue
			}
			file.Curves = append(file.Curves, v.rec)
			log.Infof("accepted curve b=%v order=%v factors=%d",
				v.rec.B, v.rec.Order, len(v.rec.Factors))
			if want > 0 && len(file.Curves) >= want {
				break
			}
		}
	}

	if want > 0 && len(file.Curves) < want {
		return file, fmt.Errorf("%w: accepted %d of %d after %d candidates",
			ErrInsufficientCurves, len(file.Curves), want, produced)
	}
	if len(file.Curves) == 0 {
		return file, fmt.Errorf("%w: no candidate passed the filters", ErrInsufficientCurves)
	}
	return file, nil
}

// candidateStream maps a stream index to a b value, plus the number of
// indexes available. Random draws are seeded so index i always yields the
// same value.
func (g *Generator) candidateStream(src Source) (func(i int) *big.Int, int) {
	switch {
	case len(src.Values) > 0:
		return func(i int) *big.Int {
			return new(big.Int).Set(src.Values[i])
		}, len(src.Values)
	case src.Range != nil:
		width := new(big.Int).Sub(src.Range.To, src.Range.From)
		n := int(width.Int64()) + 1
		return func(i int) *big.Int {
			return new(big.Int).Add(src.Range.From, big.NewInt(int64(i)))
		}, n
	default:
		// Random mode: cap the stream so a hopeless parameter set
		// terminates instead of spinning forever.
		budget := src.Count * 256
		rnd := rand.New(rand.NewSource(g.seed))
		drawn := make([]*big.Int, 0, 64)
		var mu sync.Mutex
		return func(i int) *big.Int {
			mu.Lock()
			defer mu.Unlock()
			for len(drawn) <= i {
				b := new(big.Int).Rand(rnd, g.p)
				if b.Sign() == 0 {
					continue
				}
				drawn = append(drawn, b)
			}
			return drawn[i]
		}, budget
	}
}

// evaluateBatch analyzes a batch of candidates on the worker pool and
// returns verdicts in candidate order.
func (g *Generator) evaluateBatch(ctx context.Context, batch []candidate) []verdict {
	jobs := make(chan candidate, len(batch))
	out := make(chan verdict, len(batch))

	var wg sync.WaitGroup
	for w := 0; w < g.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range jobs {
				rec, err := g.evaluate(ctx, cand)
				out <- verdict{idx: cand.idx, rec: rec, err: err}
			}
		}()
	}
	for _, cand := range batch {
		jobs <- cand
	}
	close(jobs)
	wg.Wait()
	close(out)

	byIdx := make(map[int]verdict, len(batch))
	for v := range out {
		byIdx[v.idx] = v
	}
	verdicts := make([]verdict, 0, len(batch))
	for _, cand := range batch {
		verdicts = append(verdicts, byIdx[cand.idx])
	}
	return verdicts
}

// evaluate runs the full acceptance pipeline for one candidate.
func (g *Generator) evaluate(ctx context.Context, cand candidate) (*CurveRecord, error) {
	crv, err := weierstrass.NewCurve(g.p, g.a, cand.b)
	if err != nil {
		return nil, fmt.Errorf("b=%v: %w", cand.b, err)
	}

	seed := int64(uint64(g.seed) ^ uint64(cand.idx)*0x9e3779b97f4a7c15)
	analysis, err := g.analyzeCurve(ctx, crv, seed)
	if err != nil {
		if errors.Is(err, timeout.ErrTimedOut) {
			log.Debugf("b=%v: analysis timed out", cand.b)
		}
		return nil, fmt.Errorf("b=%v: %w", cand.b, err)
	}
	if len(analysis.usable) < g.minFactors {
		return nil, fmt.Errorf("b=%v: %w: %d usable subgroups, need %d",
			cand.b, ErrInsufficientFactors, len(analysis.usable), g.minFactors)
	}

	rec := &CurveRecord{
		B:                 new(big.Int).Set(cand.b),
		Order:             analysis.order,
		Factors:           analysis.factors.Factors,
		FactoringComplete: analysis.factors.Complete,
	}
	if g.withGenerators {
		rnd := rand.New(rand.NewSource(seed + 1))
		for _, uf := range analysis.usable {
			pt, got, err := subgroupGenerator(crv, rnd, analysis.order, uf.prime, uf.exp)
			if err != nil {
				log.Warnf("b=%v: no generator of order %v^%d: %v",
					cand.b, uf.prime, uf.exp, err)
				continue
			}
			if got != uf.exp {
				log.Debugf("b=%v: no point of order %v^%d, storing %v^%d",
					cand.b, uf.prime, uf.exp, uf.prime, got)
			}
			rec.Generators = append(rec.Generators, SubgroupGenerator{
				Prime: new(big.Int).Set(uf.prime),
				Exp:   got,
				Point: pt,
			})
		}
	}
	return rec, nil
}
