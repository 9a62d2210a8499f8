package weierstrass

import (
	"math/big"
)

// SubgroupLog solves R = x*G for x in [0, q), where G generates a subgroup
// of prime order q. Baby-step/giant-step, O(√q) time and space; q is
// expected to be small enough for that to be cheap, which is exactly why the
// caller picked it. Returns ErrNotInSubgroup when R is not a multiple of G.
func (c *Curve) SubgroupLog(G, R Point, q *big.Int) (*big.Int, error) {
	if !c.ScalarMult(R, q).IsInfinity() {
		return nil, ErrNotInSubgroup
	}
	if R.IsInfinity() {
		return new(big.Int), nil
	}

	m := new(big.Int).Sqrt(q)
	m.Add(m, one)

	// Baby steps: j*G for j in [0, m).
	table := make(map[string]*big.Int)
	step := Infinity()
	for j := new(big.Int); j.Cmp(m) < 0; j = new(big.Int).Add(j, one) {
		if j.Sign() > 0 {
			step = c.Add(step, G)
		}
		table[c.pointKey(step)] = new(big.Int).Set(j)
	}

	// Giant steps: R - i*(m*G) for i in [0, m].
	giant := c.Neg(c.ScalarMult(G, m))
	cur := R
	for i := new(big.Int); i.Cmp(m) <= 0; i = new(big.Int).Add(i, one) {
		if j, ok := table[c.pointKey(cur)]; ok {
			x := new(big.Int).Mul(i, m)
			x.Add(x, j)
			x.Mod(x, q)
			if c.ScalarMult(G, x).Equal(R) {
				return x, nil
			}
		}
		cur = c.Add(cur, giant)
	}
	return nil, ErrNotInSubgroup
}

// PrimePowerLog solves R = x*G for x in [0, q^e), where G has order exactly
// q^e. The exponent is lifted digit by digit (Pohlig-Hellman within the
// prime-power subgroup), so only order-q discrete logs are ever solved.
func (c *Curve) PrimePowerLog(G, R Point, q *big.Int, e int) (*big.Int, error) {
	if e < 1 {
		e = 1
	}
	// G1 = q^(e-1)*G has order q.
	qe1 := new(big.Int).Exp(q, big.NewInt(int64(e-1)), nil)
	G1 := c.ScalarMult(G, qe1)

	x := new(big.Int)
	qk := big.NewInt(1) // q^k
	for k := 0; k < e; k++ {
		// Strip the known digits and push the remainder into the order-q
		// subgroup: Rk = q^(e-1-k) * (R - x*G).
		diff := c.Add(R, c.Neg(c.ScalarMult(G, x)))
		shift := new(big.Int).Exp(q, big.NewInt(int64(e-1-k)), nil)
		Rk := c.ScalarMult(diff, shift)

		d, err := c.SubgroupLog(G1, Rk, q)
		if err != nil {
			return nil, err
		}
		x.Add(x, new(big.Int).Mul(d, qk))
		qk = new(big.Int).Mul(qk, q)
	}
	if !c.ScalarMult(G, x).Equal(R) {
		return nil, ErrNotInSubgroup
	}
	return x, nil
}

// fieldBytes is the fixed encoding width of one field element.
func (c *Curve) fieldBytes() int {
	return (c.P.BitLen() + 7) / 8
}

// pointKey encodes a point as a fixed-width byte string for table lookups.
// Coordinates are padded to the field width so distinct points can never
// share a key.
func (c *Curve) pointKey(p Point) string {
	if p.IsInfinity() {
		return "inf"
	}
	n := c.fieldBytes()
	buf := make([]byte, 2*n)
	p.X.FillBytes(buf[:n])
	p.Y.FillBytes(buf[n:])
	return string(buf)
}

// xKey encodes a single coordinate at the field width.
func (c *Curve) xKey(x *big.Int) string {
	buf := make([]byte, c.fieldBytes())
	x.FillBytes(buf)
	return string(buf)
}
