package invalidcurve

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/forensicskween/invalidcurve/internal/timeout"
	"github.com/forensicskween/invalidcurve/pkg/factorint"
	"github.com/forensicskween/invalidcurve/pkg/weierstrass"
)

// curveAnalysis is the outcome of analyzing one candidate curve: its group
// order, the factorization of that order, and the prime powers small enough
// to host a discrete-log computation.
type curveAnalysis struct {
	order   *big.Int
	factors factorint.Result
	usable  []usableFactor
}

// usableFactor is a prime power q^e with q^e at most maxSubgroupBits bits,
// clamped down from the full multiplicity when the full power is too large.
type usableFactor struct {
	prime *big.Int
	exp   int
}

// OrderOptions configures one OrderFactors call.
type OrderOptions struct {
	// Timeout is the initial per-stage deadline; MaxTimeout the ceiling
	// the escalating retries stop at. Zero values pick the generation
	// defaults.
	Timeout    time.Duration
	MaxTimeout time.Duration
	// Deep enables the slow ECM factoring pass when the fast pass leaves
	// a composite cofactor.
	Deep bool
	// Proof demands deterministic primality testing on the factors.
	Proof bool
	// Cache shares factorization results across calls.
	Cache *factorint.Cache
	// Seed fixes the random streams for reproducible runs.
	Seed int64
}

// OrderFactors computes and factors the group order of crv under a timeout
// policy. Order computation retries with escalating deadlines; factoring
// gets a fast first pass and, when enabled, a deep second pass for whatever
// is left composite.
func OrderFactors(ctx context.Context, crv *weierstrass.Curve, o OrderOptions) (*big.Int, factorint.Result, error) {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxTimeout < o.Timeout {
		o.MaxTimeout = o.Timeout
	}

	order, err := timeout.Loop(ctx, o.Timeout, o.MaxTimeout, o.Timeout,
		func(tc context.Context) (*big.Int, error) {
			rnd := rand.New(rand.NewSource(o.Seed))
			return crv.GroupOrder(tc, rnd)
		})
	if err != nil {
		return nil, factorint.Result{}, err
	}

	opts := factorint.Options{Proof: o.Proof, Cache: o.Cache, Seed: o.Seed}
	res, err := timeout.Run(ctx, o.Timeout,
		func(tc context.Context) (factorint.Result, error) {
			return factorint.Factorize(tc, order, opts)
		})
	if err != nil && !errors.Is(err, timeout.ErrTimedOut) {
		return nil, factorint.Result{}, err
	}
	if o.Deep && (err != nil || !res.Complete) {
		deepOpts := opts
		deepOpts.Deep = true
		deepRes, deepErr := timeout.Run(ctx, o.MaxTimeout,
			func(tc context.Context) (factorint.Result, error) {
				return factorint.Factorize(tc, order, deepOpts)
			})
		if deepErr == nil {
			res, err = deepRes, nil
		} else if !errors.Is(deepErr, timeout.ErrTimedOut) {
			return nil, factorint.Result{}, deepErr
		}
	}
	if err != nil {
		// Both factoring passes timed out; the order alone is useless.
		return nil, factorint.Result{}, err
	}
	return order, res, nil
}

// analyzeCurve runs OrderFactors with the generator's settings and applies
// the usability filter.
func (g *Generator) analyzeCurve(ctx context.Context, crv *weierstrass.Curve, seed int64) (*curveAnalysis, error) {
	order, res, err := OrderFactors(ctx, crv, OrderOptions{
		Timeout:    g.timeout,
		MaxTimeout: g.maxTimeout,
		Deep:       g.deep,
		Proof:      g.proof,
		Cache:      g.cache,
		Seed:       seed,
	})
	if err != nil {
		return nil, err
	}
	return &curveAnalysis{
		order:   order,
		factors: res,
		usable:  usableFactors(res, g.maxSubgroupBits),
	}, nil
}

// usableFactors extracts the prime powers a discrete log can be taken over.
// A factor whose full power exceeds the bit limit still contributes its
// largest power that fits.
func usableFactors(res factorint.Result, maxBits int) []usableFactor {
	var out []usableFactor
	for _, f := range res.Factors {
		if !f.Known {
			continue
		}
		if f.Prime.BitLen() > maxBits {
			continue
		}
		exp := f.Exp
		pw := new(big.Int).Exp(f.Prime, big.NewInt(int64(exp)), nil)
		for exp > 1 && pw.BitLen() > maxBits {
			exp--
			pw.Div(pw, f.Prime)
		}
		out = append(out, usableFactor{prime: f.Prime, exp: exp})
	}
	return out
}

// subgroupGenerator finds a point of exact order prime^exp on a curve of
// known group order, settling for a smaller power of the same prime when the
// Sylow subgroup is not cyclic and the full power does not occur as a point
// order. Random points are multiplied by the prime-free part of the order, the
// surviving prime-power order is measured, and the best point found is shrunk
// to the requested exponent. Returns the point and the exponent achieved.
func subgroupGenerator(crv *weierstrass.Curve, rnd *rand.Rand, order *big.Int, prime *big.Int, exp int) (weierstrass.Point, int, error) {
	h := new(big.Int).Set(order)
	maxExp := 0
	for new(big.Int).Mod(h, prime).Sign() == 0 {
		h.Div(h, prime)
		maxExp++
	}
	if maxExp == 0 {
		return weierstrass.Point{}, 0, fmt.Errorf("order %v has no factor %v", order, prime)
	}
	if exp > maxExp {
		exp = maxExp
	}

	var best weierstrass.Point
	bestExp := 0
	for tries := 0; tries < 128 && bestExp < exp; tries++ {
		pt, err := crv.RandomPoint(rnd)
		if err != nil {
			return weierstrass.Point{}, 0, err
		}
		gen := crv.ScalarMult(pt, h)
		k := 0
		for cur := gen; !cur.IsInfinity(); cur = crv.ScalarMult(cur, prime) {
			k++
		}
		if k > bestExp {
			best, bestExp = gen, k
		}
	}
	if bestExp == 0 {
		return weierstrass.Point{}, 0, errors.New("no point of the requested order found")
	}
	if bestExp > exp {
		shrink := new(big.Int).Exp(prime, big.NewInt(int64(bestExp-exp)), nil)
		best = crv.ScalarMult(best, shrink)
		bestExp = exp
	}
	return best, bestExp, nil
}
