package weierstrass

import (
	"errors"
	"fmt"
	"math/big"
	"math/rand"
)

// Package-level errors shared by the arithmetic and search routines.
var (
	// ErrSingularCurve indicates that 4a³ + 27b² ≡ 0 (mod p), i.e. the
	// parameters do not describe an elliptic curve.
	ErrSingularCurve = errors.New("weierstrass: singular curve parameters")

	// ErrNotInSubgroup indicates that a discrete-log target does not lie in
	// the subgroup generated by the supplied base point.
	ErrNotInSubgroup = errors.New("weierstrass: point not in subgroup")
)

var (
	one   = big.NewInt(1)
	two   = big.NewInt(2)
	three = big.NewInt(3)
	four  = big.NewInt(4)
)

// Curve represents a short-form Weierstrass curve y² = x³ + ax + b over the
// prime field GF(p). The point-addition formulas only ever reference A, never
// B; two curves sharing (P, A) are interchangeable under the same addition
// code, which is exactly the property the invalid-curve attack exploits.
//
// The behavior of Add, Double, and ScalarMult when the input is not a point
// on the curve is undefined.
type Curve struct {
	P *big.Int // field prime
	A *big.Int // linear coefficient
	B *big.Int // constant coefficient
}

// Point is an affine point. The identity (point at infinity) is represented
// by nil coordinates; use Infinity and IsInfinity rather than touching the
// fields directly.
type Point struct {
	X, Y *big.Int
}

// Infinity returns the identity element.
func Infinity() Point { return Point{} }

// IsInfinity reports whether p is the identity element.
func (p Point) IsInfinity() bool { return p.X == nil || p.Y == nil }

// Equal reports whether two points are the same group element.
func (p Point) Equal(q Point) bool {
	if p.IsInfinity() || q.IsInfinity() {
		return p.IsInfinity() && q.IsInfinity()
	}
	return p.X.Cmp(q.X) == 0 && p.Y.Cmp(q.Y) == 0
}

func (p Point) String() string {
	if p.IsInfinity() {
		return "O"
	}
	return fmt.Sprintf("(%s, %s)", p.X, p.Y)
}

// NewCurve builds a curve over GF(p), reducing a and b into the field. It
// returns ErrSingularCurve when the discriminant vanishes, and an error when
// p is too small to define a prime field of odd characteristic > 3.
func NewCurve(p, a, b *big.Int) (*Curve, error) {
	if p == nil || p.Cmp(three) <= 0 {
		return nil, fmt.Errorf("weierstrass: field prime must be > 3, got %v", p)
	}
	c := &Curve{
		P: new(big.Int).Set(p),
		A: new(big.Int).Mod(a, p),
		B: new(big.Int).Mod(b, p),
	}
	if c.IsSingular() {
		return nil, ErrSingularCurve
	}
	return c, nil
}

// IsSingular reports whether 4a³ + 27b² ≡ 0 (mod p).
func (c *Curve) IsSingular() bool {
	return Discriminant(c.P, c.A, c.B).Sign() == 0
}

// Discriminant returns 4a³ + 27b² mod p for candidate parameters without
// constructing a curve.
func Discriminant(p, a, b *big.Int) *big.Int {
	a3 := new(big.Int).Exp(a, three, p)
	a3.Mul(a3, four)
	b2 := new(big.Int).Mul(b, b)
	b2.Mul(b2, big.NewInt(27))
	a3.Add(a3, b2)
	return a3.Mod(a3, p)
}

// evalPoly returns x³ + ax + b mod p.
func (c *Curve) evalPoly(x *big.Int) *big.Int {
	y2 := new(big.Int).Mul(x, x)
	y2.Mul(y2, x)
	y2.Add(y2, new(big.Int).Mul(c.A, x))
	y2.Add(y2, c.B)
	return y2.Mod(y2, c.P)
}

// IsOnCurve reports whether pt satisfies the curve equation. The identity is
// considered on every curve.
func (c *Curve) IsOnCurve(pt Point) bool {
	if pt.IsInfinity() {
		return true
	}
	if pt.X.Sign() < 0 || pt.X.Cmp(c.P) >= 0 || pt.Y.Sign() < 0 || pt.Y.Cmp(c.P) >= 0 {
		return false
	}
	y2 := new(big.Int).Mul(pt.Y, pt.Y)
	y2.Mod(y2, c.P)
	return c.evalPoly(pt.X).Cmp(y2) == 0
}

// Neg returns the inverse of pt, which is (x, -y).
func (c *Curve) Neg(pt Point) Point {
	if pt.IsInfinity() {
		return pt
	}
	ny := new(big.Int).Neg(pt.Y)
	ny.Mod(ny, c.P)
	return Point{X: new(big.Int).Set(pt.X), Y: ny}
}

// Add returns the sum of two points.
func (c *Curve) Add(p1, p2 Point) Point {
	x1, y1, z1 := c.toJacobian(p1)
	x2, y2, z2 := c.toJacobian(p2)
	return c.fromJacobian(c.addJacobian(x1, y1, z1, x2, y2, z2))
}

// Double returns 2*pt.
func (c *Curve) Double(pt Point) Point {
	x1, y1, z1 := c.toJacobian(pt)
	return c.fromJacobian(c.doubleJacobian(x1, y1, z1))
}

// ScalarMult returns k*pt. Negative k multiplies by |k| and negates.
func (c *Curve) ScalarMult(pt Point, k *big.Int) Point {
	if k.Sign() < 0 {
		return c.Neg(c.ScalarMult(pt, new(big.Int).Neg(k)))
	}
	bx, by, bz := c.toJacobian(pt)
	x, y, z := new(big.Int), new(big.Int), new(big.Int)
	for _, b := range k.Bytes() {
		for bit := 0; bit < 8; bit++ {
			x, y, z = c.doubleJacobian(x, y, z)
			if b&0x80 == 0x80 {
				x, y, z = c.addJacobian(bx, by, bz, x, y, z)
			}
			b <<= 1
		}
	}
	return c.fromJacobian(x, y, z)
}

// LiftX returns a point with the given x coordinate, if x³ + ax + b is a
// quadratic residue. Of the two square roots it returns the even one; the
// caller negates as needed.
func (c *Curve) LiftX(x *big.Int) (Point, bool) {
	xr := new(big.Int).Mod(x, c.P)
	y := new(big.Int).ModSqrt(c.evalPoly(xr), c.P)
	if y == nil {
		return Point{}, false
	}
	if y.Bit(0) == 1 {
		y.Sub(c.P, y)
	}
	return Point{X: xr, Y: y}, true
}

// RandomPoint samples a uniform-ish curve point by drawing x coordinates
// from rnd until the cubic has a square root. A deterministic rnd yields a
// deterministic point sequence, which generation runs rely on for
// reproducibility.
func (c *Curve) RandomPoint(rnd *rand.Rand) (Point, error) {
	for tries := 0; tries < 10000; tries++ {
		x := new(big.Int).Rand(rnd, c.P)
		pt, ok := c.LiftX(x)
		if !ok {
			continue
		}
		if rnd.Intn(2) == 1 {
			pt = c.Neg(pt)
		}
		return pt, nil
	}
	return Point{}, fmt.Errorf("weierstrass: no point found on curve over GF(%s)", c.P)
}

// HasseBound returns p + 1 + 2⌈√p⌉, the largest group order an elliptic
// curve over GF(p) can have.
func HasseBound(p *big.Int) *big.Int {
	s := new(big.Int).Sqrt(p)
	s.Add(s, one) // ceil
	s.Lsh(s, 1)
	return s.Add(s, new(big.Int).Add(p, one))
}

// toJacobian maps an affine point into Jacobian coordinates. The identity
// maps to z = 0.
func (c *Curve) toJacobian(pt Point) (x, y, z *big.Int) {
	if pt.IsInfinity() {
		return new(big.Int), new(big.Int), new(big.Int)
	}
	return new(big.Int).Set(pt.X), new(big.Int).Set(pt.Y), big.NewInt(1)
}

// fromJacobian reverses the Jacobian transform. z = 0 maps to the identity.
func (c *Curve) fromJacobian(x, y, z *big.Int) Point {
	if z.Sign() == 0 {
		return Infinity()
	}
	zinv := new(big.Int).ModInverse(z, c.P)
	zinvsq := new(big.Int).Mul(zinv, zinv)

	xOut := new(big.Int).Mul(x, zinvsq)
	xOut.Mod(xOut, c.P)
	zinvsq.Mul(zinvsq, zinv)
	yOut := new(big.Int).Mul(y, zinvsq)
	yOut.Mod(yOut, c.P)
	return Point{X: xOut, Y: yOut}
}

// addJacobian adds (x1, y1, z1) and (x2, y2, z2) in Jacobian coordinates.
// See https://hyperelliptic.org/EFD/g1p/auto-shortw-jacobian-3.html#addition-add-2007-bl
func (c *Curve) addJacobian(x1, y1, z1, x2, y2, z2 *big.Int) (x3, y3, z3 *big.Int) {
	x3, y3, z3 = new(big.Int), new(big.Int), new(big.Int)
	if z1.Sign() == 0 {
		x3.Set(x2)
		y3.Set(y2)
		z3.Set(z2)
		return
	}
	if z2.Sign() == 0 {
		x3.Set(x1)
		y3.Set(y1)
		z3.Set(z1)
		return
	}

	p := c.P
	z1z1 := new(big.Int).Mul(z1, z1)
	z1z1.Mod(z1z1, p)
	z2z2 := new(big.Int).Mul(z2, z2)
	z2z2.Mod(z2z2, p)

	u1 := new(big.Int).Mul(x1, z2z2)
	u1.Mod(u1, p)
	u2 := new(big.Int).Mul(x2, z1z1)
	u2.Mod(u2, p)
	h := new(big.Int).Sub(u2, u1)
	if h.Sign() == -1 {
		h.Add(h, p)
	}
	i := new(big.Int).Lsh(h, 1)
	i.Mul(i, i)
	j := new(big.Int).Mul(h, i)

	s1 := new(big.Int).Mul(y1, z2)
	s1.Mul(s1, z2z2)
	s1.Mod(s1, p)
	s2 := new(big.Int).Mul(y2, z1)
	s2.Mul(s2, z1z1)
	s2.Mod(s2, p)
	r := new(big.Int).Sub(s2, s1)
	if r.Sign() == -1 {
		r.Add(r, p)
	}
	if h.Sign() == 0 && r.Sign() == 0 {
		return c.doubleJacobian(x1, y1, z1)
	}
	r.Lsh(r, 1)
	v := new(big.Int).Mul(u1, i)

	x3.Set(r)
	x3.Mul(x3, x3)
	x3.Sub(x3, j)
	x3.Sub(x3, v)
	x3.Sub(x3, v)
	x3.Mod(x3, p)

	y3.Set(r)
	v.Sub(v, x3)
	y3.Mul(y3, v)
	s1.Mul(s1, j)
	s1.Lsh(s1, 1)
	y3.Sub(y3, s1)
	y3.Mod(y3, p)

	z3.Add(z1, z2)
	z3.Mul(z3, z3)
	z3.Sub(z3, z1z1)
	z3.Sub(z3, z2z2)
	z3.Mul(z3, h)
	z3.Mod(z3, p)

	return
}

// doubleJacobian doubles (x, y, z) in Jacobian coordinates.
// See https://hyperelliptic.org/EFD/g1p/auto-shortw-jacobian.html#doubling-dbl-2007-bl
func (c *Curve) doubleJacobian(x, y, z *big.Int) (x3, y3, z3 *big.Int) {
	p := c.P
	xx := new(big.Int).Mul(x, x)
	xx.Mod(xx, p)
	yy := new(big.Int).Mul(y, y)
	yy.Mod(yy, p)
	yyyy := new(big.Int).Mul(yy, yy)
	yyyy.Mod(yyyy, p)
	zz := new(big.Int).Mul(z, z)
	zz.Mod(zz, p)
	zzzz := new(big.Int).Mul(zz, zz)
	zzzz.Mod(zzzz, p)

	s := new(big.Int).Add(x, yy)
	s.Mul(s, s)
	s.Sub(s, xx)
	if s.Sign() == -1 {
		s.Add(s, p)
	}
	s.Sub(s, yyyy)
	if s.Sign() == -1 {
		s.Add(s, p)
	}
	s.Lsh(s, 1)
	s.Mod(s, p)

	m := new(big.Int).Lsh(xx, 1)
	m.Add(m, xx)
	m.Add(m, zzzz.Mul(c.A, zzzz))
	m.Mod(m, p)

	t := new(big.Int).Mul(m, m)
	t.Sub(t, new(big.Int).Lsh(s, 1))
	if t.Sign() == -1 {
		t.Add(t, p)
	}
	t.Mod(t, p)

	x3 = t
	s.Sub(s, t)
	if s.Sign() == -1 {
		s.Add(s, p)
	}
	y3 = new(big.Int).Mul(m, s)
	y3.Sub(y3, yyyy.Lsh(yyyy, 3))
	if y3.Sign() == -1 {
		y3.Add(y3, p)
	}
	y3.Mod(y3, p)

	z3 = new(big.Int).Add(y, z)
	z3.Mul(z3, z3)
	z3.Sub(z3, yy)
	if z3.Sign() == -1 {
		z3.Add(z3, p)
	}
	z3.Sub(z3, zz)
	if z3.Sign() == -1 {
		z3.Add(z3, p)
	}
	z3.Mod(z3, p)

	return
}
