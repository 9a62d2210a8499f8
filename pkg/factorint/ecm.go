package factorint

import (
	"context"
	"math/big"
	"math/rand"
)

// ecmCurves is how many random curves one ECM pass tries, and ecmB1 the
// stage-1 smoothness bound. These defaults pull out factors up to roughly
// 2⁴⁰ in a few seconds, which matches the sizes a curve-generation run cares
// about; anything bigger is the caller's timeout's problem.
const (
	ecmCurves = 40
	ecmB1     = 20000
)

// ecmFactor runs Lenstra's elliptic-curve method on the composite m. It
// performs curve arithmetic modulo m as if m were prime; the whole point is
// that a failed modular inversion exposes a divisor of m via the gcd.
// Returns a nontrivial divisor, or nil when every curve ran to completion
// without stumbling.
func ecmFactor(ctx context.Context, m *big.Int, rnd *rand.Rand) (*big.Int, error) {
	if m.Bit(0) == 0 {
		return big.NewInt(2), nil
	}
	// k = product of prime powers up to B1; one big stage-1 exponent shared
	// by all curves.
	k := stage1Exponent(ecmB1)

	for c := 0; c < ecmCurves; c++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		// Random curve through a random point: pick a, x, y; then
		// b = y² - x³ - ax is determined and (x, y) lies on it.
		a := new(big.Int).Rand(rnd, m)
		x := new(big.Int).Rand(rnd, m)
		y := new(big.Int).Rand(rnd, m)

		pt := &ecmPoint{x: x, y: y}
		d := ecmScalarMult(ctx, m, a, pt, k)
		if d != nil && d.Cmp(one) > 0 && d.Cmp(m) < 0 {
			log.Debugf("ecm: curve %d split %d-bit composite", c, m.BitLen())
			return d, nil
		}
	}
	return nil, nil
}

type ecmPoint struct {
	x, y *big.Int
	inf  bool
}

// ecmScalarMult computes k*pt on y² = x³ + ax + b mod m with affine
// formulas, returning a divisor of m when an inversion fails, nil otherwise.
func ecmScalarMult(ctx context.Context, m, a *big.Int, pt *ecmPoint, k *big.Int) *big.Int {
	acc := &ecmPoint{inf: true}
	cur := pt
	for i, bits := 0, k.BitLen(); i < bits; i++ {
		if i&255 == 0 {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
		}
		if k.Bit(i) == 1 {
			next, d := ecmAdd(m, a, acc, cur)
			if d != nil {
				return d
			}
			acc = next
		}
		next, d := ecmAdd(m, a, cur, cur)
		if d != nil {
			return d
		}
		cur = next
	}
	return nil
}

// ecmAdd adds two points with the affine chord/tangent formulas. The second
// return value is a divisor of m when the slope denominator is not
// invertible, which is the ECM success condition.
func ecmAdd(m, a *big.Int, p, q *ecmPoint) (*ecmPoint, *big.Int) {
	if p.inf {
		return q, nil
	}
	if q.inf {
		return p, nil
	}

	var num, den *big.Int
	if p.x.Cmp(q.x) == 0 {
		ySum := new(big.Int).Add(p.y, q.y)
		ySum.Mod(ySum, m)
		if ySum.Sign() == 0 {
			return &ecmPoint{inf: true}, nil
		}
		// Tangent: (3x² + a) / 2y
		num = new(big.Int).Mul(p.x, p.x)
		num.Mul(num, big.NewInt(3))
		num.Add(num, a)
		den = new(big.Int).Lsh(p.y, 1)
	} else {
		// Chord: (y2 - y1) / (x2 - x1)
		num = new(big.Int).Sub(q.y, p.y)
		den = new(big.Int).Sub(q.x, p.x)
	}
	den.Mod(den, m)

	inv := new(big.Int).ModInverse(den, m)
	if inv == nil {
		d := new(big.Int).GCD(nil, nil, den, m)
		return nil, d
	}
	lam := num.Mul(num, inv)
	lam.Mod(lam, m)

	x3 := new(big.Int).Mul(lam, lam)
	x3.Sub(x3, p.x)
	x3.Sub(x3, q.x)
	x3.Mod(x3, m)
	y3 := new(big.Int).Sub(p.x, x3)
	y3.Mul(y3, lam)
	y3.Sub(y3, p.y)
	y3.Mod(y3, m)
	return &ecmPoint{x: x3, y: y3}, nil
}

// stage1Exponent returns the product over primes q ≤ b1 of the largest
// q^e ≤ b1.
func stage1Exponent(b1 int64) *big.Int {
	k := big.NewInt(1)
	sieve := make([]bool, b1+1)
	for q := int64(2); q <= b1; q++ {
		if sieve[q] {
			continue
		}
		for mult := q * q; mult <= b1; mult += q {
			sieve[mult] = true
		}
		pe := q
		for pe*q <= b1 {
			pe *= q
		}
		k.Mul(k, big.NewInt(pe))
	}
	return k
}
