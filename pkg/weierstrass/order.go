package weierstrass

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"

	"github.com/forensicskween/invalidcurve/pkg/factorint"
)

// ErrOrderAmbiguous is returned by GroupOrder when the sampled point orders
// never pin down a unique group order inside the Hasse interval. This can
// happen for groups with very small exponent; callers treat it like any
// other rejected candidate.
var ErrOrderAmbiguous = errors.New("weierstrass: ambiguous group order")

// countScanLimit is the largest field for which GroupOrder falls back to the
// exhaustive character-sum scan instead of the baby-step/giant-step search.
var countScanLimit = big.NewInt(1 << 21)

// CountPoints computes |E(GF(p))| with a full scan of the field, using the
// character sum |E| = p + 1 + Σ_x χ(x³ + ax + b). O(p); only sensible for
// small fields.
func (c *Curve) CountPoints(ctx context.Context) (*big.Int, error) {
	cnt := new(big.Int).Add(c.P, one)
	x := new(big.Int)
	for i := 0; x.Cmp(c.P) < 0; x.Add(x, one) {
		if i++; i&2047 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		fx := c.evalPoly(x)
		if fx.Sign() != 0 {
			cnt.Add(cnt, big.NewInt(int64(big.Jacobi(fx, c.P))))
		}
	}
	return cnt, nil
}

// GroupOrder computes the order of E(GF(p)). Small fields are counted
// exhaustively; for larger ones it samples random points, finds for each an
// annihilating multiple inside the Hasse interval [p+1-2√p, p+1+2√p] by
// baby-step/giant-step, reduces it to the exact point order, and accumulates
// the lcm of point orders until exactly one multiple of the lcm remains in
// the interval.
func (c *Curve) GroupOrder(ctx context.Context, rnd *rand.Rand) (*big.Int, error) {
	if c.P.Cmp(countScanLimit) <= 0 {
		return c.CountPoints(ctx)
	}

	w := new(big.Int).Sqrt(c.P)
	w.Add(w, one)
	w.Lsh(w, 1) // 2⌈√p⌉
	low := new(big.Int).Add(c.P, one)
	low.Sub(low, w)
	high := new(big.Int).Add(c.P, one)
	high.Add(high, w)

	acc := big.NewInt(1)
	for attempt := 0; attempt < 48; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		pt, err := c.RandomPoint(rnd)
		if err != nil {
			return nil, err
		}
		mult, err := c.annihilatorInHasse(ctx, pt, low, w)
		if err != nil {
			return nil, err
		}
		ord, err := c.pointOrder(ctx, pt, mult)
		if err != nil {
			return nil, err
		}
		acc = lcm(acc, ord)

		k0 := ceilDiv(low, acc)
		k1 := new(big.Int).Div(high, acc)
		switch k0.Cmp(k1) {
		case 0:
			return k0.Mul(k0, acc), nil
		case 1:
			return nil, fmt.Errorf("weierstrass: no multiple of %s in Hasse interval", acc)
		}
	}
	return nil, ErrOrderAmbiguous
}

// annihilatorInHasse finds n in [low, low+2w] with n*pt = O. Such n always
// exists because the group order annihilates every point. Baby-step/giant-step
// over the interval width, O(√w) group operations.
func (c *Curve) annihilatorInHasse(ctx context.Context, pt Point, low, w *big.Int) (*big.Int, error) {
	width := new(big.Int).Lsh(w, 1)
	width.Add(width, one)
	m := new(big.Int).Sqrt(width)
	m.Add(m, one)

	// Baby steps: j*pt for j in [0, m), indexed by x coordinate. A match on
	// x with flipped y corresponds to -j.
	type baby struct {
		j *big.Int
		y *big.Int
	}
	table := make(map[string][]baby)
	step := Infinity()
	for j := new(big.Int); j.Cmp(m) < 0; j = new(big.Int).Add(j, one) {
		if j.Sign() == 0 {
			continue
		}
		step = c.Add(step, pt)
		if step.IsInfinity() {
			// ord(pt) = j; low rounded up to the next multiple annihilates.
			n := ceilDiv(low, j)
			return n.Mul(n, j), nil
		}
		key := c.xKey(step.X)
		table[key] = append(table[key], baby{j: new(big.Int).Set(j), y: new(big.Int).Set(step.Y)})
	}

	// Giant steps: target - i*(m*pt) for the target -low*pt.
	target := c.Neg(c.ScalarMult(pt, low))
	giant := c.Neg(c.ScalarMult(pt, m))
	iMax := new(big.Int).Div(width, m)
	iMax.Add(iMax, one)

	cur := target
	count := 0
	for i := new(big.Int); i.Cmp(iMax) <= 0; i = new(big.Int).Add(i, one) {
		if count++; count&255 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		if cur.IsInfinity() {
			// low + i*m annihilates.
			k := new(big.Int).Mul(i, m)
			return k.Add(k, low), nil
		}
		for _, b := range table[c.xKey(cur.X)] {
			k := new(big.Int).Mul(i, m)
			if cur.Y.Cmp(b.y) == 0 {
				k.Add(k, b.j)
			} else {
				k.Sub(k, b.j)
			}
			if k.Sign() < 0 {
				continue
			}
			n := new(big.Int).Add(low, k)
			if c.ScalarMult(pt, n).IsInfinity() {
				return n, nil
			}
		}
		cur = c.Add(cur, giant)
	}
	return nil, fmt.Errorf("weierstrass: no annihilator found for %v", pt)
}

// pointOrder reduces an annihilating multiple n of pt to the exact order of
// pt by stripping prime factors while the point stays annihilated. Requires
// a complete factorization of n; an incomplete one would silently leave the
// result a proper multiple, so it is an error instead.
func (c *Curve) pointOrder(ctx context.Context, pt Point, n *big.Int) (*big.Int, error) {
	res, err := factorint.Factorize(ctx, n, factorint.Options{})
	if err != nil {
		return nil, err
	}
	if !res.Complete {
		return nil, fmt.Errorf("weierstrass: cannot factor annihilator %s to reduce point order", n)
	}
	ord := new(big.Int).Set(n)
	for _, f := range res.Factors {
		for e := 0; e < f.Exp; e++ {
			trial := new(big.Int).Div(ord, f.Prime)
			if !c.ScalarMult(pt, trial).IsInfinity() {
				break
			}
			ord = trial
		}
	}
	return ord, nil
}

func lcm(a, b *big.Int) *big.Int {
	g := new(big.Int).GCD(nil, nil, a, b)
	r := new(big.Int).Div(a, g)
	return r.Mul(r, b)
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).DivMod(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, one)
	}
	return q
}
