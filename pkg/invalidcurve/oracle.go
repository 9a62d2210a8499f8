package invalidcurve

import (
	"math/big"

	"github.com/forensicskween/invalidcurve/pkg/weierstrass"
)

// Result is one oracle reply. X is nil when the product is the identity.
// Y is nil when the oracle only reveals the x coordinate; the attack lifts
// such replies back onto the curve and works with both y candidates.
type Result struct {
	X *big.Int
	Y *big.Int
}

// Identity reports whether the reply is the point at infinity.
func (r Result) Identity() bool { return r.X == nil }

// XOnly reports whether the reply carries no y coordinate.
func (r Result) XOnly() bool { return r.X != nil && r.Y == nil }

// Oracle is the target of the attack: something that multiplies an
// attacker-chosen point by a fixed secret scalar. Implementations may
// reject inputs; a rejection is reported as ErrOracleRejected (possibly
// wrapped) so the caller can move on to another curve.
type Oracle interface {
	ScalarMult(pt weierstrass.Point) (Result, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(pt weierstrass.Point) (Result, error)

// ScalarMult calls f.
func (f OracleFunc) ScalarMult(pt weierstrass.Point) (Result, error) { return f(pt) }

// MockOracle simulates a vulnerable scalar-multiplication service for tests
// and demos. It multiplies by Secret using addition formulas that never read
// the curve's b coefficient, so it computes "correct" results even for points
// on foreign curves. When Strict is set it instead validates inputs against
// the real curve y^2 = x^3 + A x + RealB and rejects everything else, which
// models a patched target.
type MockOracle struct {
	P      *big.Int
	A      *big.Int
	Secret *big.Int

	// Strict enables on-curve validation against RealB.
	Strict bool
	RealB  *big.Int

	// XOnly drops y coordinates from replies.
	XOnly bool

	// Queries counts ScalarMult calls.
	Queries int
}

// ScalarMult implements Oracle.
func (o *MockOracle) ScalarMult(pt weierstrass.Point) (Result, error) {
	o.Queries++
	if pt.IsInfinity() {
		return Result{}, nil
	}
	if o.Strict {
		real, err := weierstrass.NewCurve(o.P, o.A, o.RealB)
		if err != nil {
			return Result{}, err
		}
		if !real.IsOnCurve(pt) {
			return Result{}, ErrOracleRejected
		}
	}

	// Recover the b the submitted point lives on and multiply there. The
	// group law below never uses b, which is exactly the flaw the attack
	// exploits.
	b := new(big.Int).Mul(pt.X, pt.X)
	b.Mul(b, pt.X)
	ax := new(big.Int).Mul(o.A, pt.X)
	b.Add(b, ax)
	y2 := new(big.Int).Mul(pt.Y, pt.Y)
	b.Sub(y2, b)
	b.Mod(b, o.P)

	// Deliberately skips NewCurve so singular inputs are multiplied too,
	// like the flawed implementations this models.
	crv := &weierstrass.Curve{P: o.P, A: o.A, B: b}
	prod := crv.ScalarMult(pt, o.Secret)
	if prod.IsInfinity() {
		return Result{}, nil
	}
	res := Result{X: new(big.Int).Set(prod.X)}
	if !o.XOnly {
		res.Y = new(big.Int).Set(prod.Y)
	}
	return res, nil
}
