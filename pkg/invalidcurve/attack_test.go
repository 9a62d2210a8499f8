package invalidcurve

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
)

// testTarget is the small vulnerable service the attack tests run against:
// y^2 = x^3 + 2x + 3 over GF(97) with secret scalar 13.
func testTarget(xOnly bool) *MockOracle {
	return &MockOracle{
		P:      big.NewInt(97),
		A:      big.NewInt(2),
		Secret: big.NewInt(13),
		XOnly:  xOnly,
	}
}

func testCurveFile(t *testing.T) *CurveFile {
	t.Helper()
	g := testGenerator(t, WithGenerators(true))
	file, err := g.Generate(context.Background(), Source{Range: &BRange{From: big.NewInt(1), To: big.NewInt(15)}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return file
}

func TestAttackRecoversSecret(t *testing.T) {
	oracle := testTarget(false)
	rec, err := RunAttackFile(context.Background(), testCurveFile(t), oracle, big.NewInt(3),
		WithVerificationSeed(21))
	if err != nil {
		t.Fatalf("attack failed: %v", err)
	}
	if rec.Secret.Int64() != 13 {
		t.Fatalf("recovered %v, want 13", rec.Secret)
	}
	if !rec.Complete {
		t.Error("coverage not reported complete")
	}
	if rec.Queries != oracle.Queries {
		t.Errorf("recovery counted %d queries, oracle saw %d", rec.Queries, oracle.Queries)
	}
	t.Logf("recovered secret with %d oracle queries", rec.Queries)
}

func TestAttackRecoversSecretXOnly(t *testing.T) {
	// Without y coordinates every residue is known only up to sign; the
	// verification query must still pin the right combination.
	rec, err := RunAttackFile(context.Background(), testCurveFile(t), testTarget(true), big.NewInt(3),
		WithVerificationSeed(22))
	if err != nil {
		t.Fatalf("attack failed: %v", err)
	}
	if rec.Secret.Int64() != 13 {
		t.Fatalf("recovered %v, want 13", rec.Secret)
	}
}

func TestAttackWithoutStoredGenerators(t *testing.T) {
	// Records without precomputed generator points force the engine to
	// derive them on the fly.
	g := testGenerator(t)
	file, err := g.Generate(context.Background(), Source{Range: &BRange{From: big.NewInt(1), To: big.NewInt(15)}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	rec, err := RunAttackFile(context.Background(), file, testTarget(false), big.NewInt(3),
		WithVerificationSeed(23))
	if err != nil {
		t.Fatalf("attack failed: %v", err)
	}
	if rec.Secret.Int64() != 13 {
		t.Fatalf("recovered %v, want 13", rec.Secret)
	}
}

func TestAttackFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curves.json")
	if err := WriteCurveFile(path, testCurveFile(t)); err != nil {
		t.Fatalf("WriteCurveFile failed: %v", err)
	}
	rec, err := RunAttack(context.Background(), path, testTarget(false), big.NewInt(3),
		WithVerificationSeed(24))
	if err != nil {
		t.Fatalf("attack failed: %v", err)
	}
	if rec.Secret.Int64() != 13 {
		t.Fatalf("recovered %v, want 13", rec.Secret)
	}
}

func TestAttackValidatingOracle(t *testing.T) {
	// A target that checks points against its own curve leaves nothing to
	// attack.
	oracle := testTarget(false)
	oracle.Strict = true
	oracle.RealB = big.NewInt(3)
	_, err := RunAttackFile(context.Background(), testCurveFile(t), oracle, big.NewInt(3),
		WithVerificationSeed(25))
	if !errors.Is(err, ErrAttackInfeasible) {
		t.Fatalf("got %v, want ErrAttackInfeasible", err)
	}
}

func TestAttackInsufficientCoverage(t *testing.T) {
	// A single prime-order curve covers 101 < 118, short of the bound.
	g := testGenerator(t)
	file, err := g.Generate(context.Background(), Source{Values: []*big.Int{big.NewInt(14)}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	_, err = RunAttackFile(context.Background(), file, testTarget(false), big.NewInt(3),
		WithVerificationSeed(26))
	var covErr *InsufficientCoverageError
	if !errors.As(err, &covErr) {
		t.Fatalf("got %v, want InsufficientCoverageError", err)
	}
	if covErr.Modulus.Int64() != 101 {
		t.Errorf("partial modulus = %v, want 101", covErr.Modulus)
	}
	if covErr.Bound.Int64() != 118 {
		t.Errorf("bound = %v, want 118", covErr.Bound)
	}

	// The same file finishes when brute-force completion may extend the
	// residue by multiples of the modulus.
	rec, err := RunAttackFile(context.Background(), file, testTarget(false), big.NewInt(3),
		WithVerificationSeed(27), WithBruteForceCompletion(2))
	if err != nil {
		t.Fatalf("brute-force completion failed: %v", err)
	}
	if rec.Secret.Int64() != 13 {
		t.Fatalf("recovered %v, want 13", rec.Secret)
	}
	if rec.Complete {
		t.Error("a brute-forced recovery should not report complete coverage")
	}
}

func TestAttackFallsBackOnNoncyclicSubgroup(t *testing.T) {
	// The b=9 curve has order 96 = 2^5 * 3 but no point of order 32, so the
	// record advertises a bigger 2-power than any generator can deliver. The
	// engine must settle for the 2^4 residue; together with the factor 3 it
	// covers a modulus of 48.
	g := testGenerator(t)
	file, err := g.Generate(context.Background(), Source{Values: []*big.Int{big.NewInt(9)}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	rec, err := RunAttackFile(context.Background(), file, testTarget(false), big.NewInt(3),
		WithVerificationSeed(29), WithBound(big.NewInt(48)))
	if err != nil {
		t.Fatalf("attack failed: %v", err)
	}
	if rec.Secret.Int64() != 13 {
		t.Fatalf("recovered %v, want 13", rec.Secret)
	}
	if rec.Modulus.Int64() != 48 {
		t.Errorf("modulus = %v, want 48", rec.Modulus)
	}
}

func TestAttackWithTighterBound(t *testing.T) {
	// With a declared secret bound of 50, the 101-element subgroup alone
	// is enough coverage.
	g := testGenerator(t)
	file, err := g.Generate(context.Background(), Source{Values: []*big.Int{big.NewInt(14)}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	rec, err := RunAttackFile(context.Background(), file, testTarget(false), big.NewInt(3),
		WithVerificationSeed(28), WithBound(big.NewInt(50)))
	if err != nil {
		t.Fatalf("attack failed: %v", err)
	}
	if rec.Secret.Int64() != 13 {
		t.Fatalf("recovered %v, want 13", rec.Secret)
	}
}

func TestAttackEmptyFile(t *testing.T) {
	file := &CurveFile{P: big.NewInt(97), A: big.NewInt(2)}
	_, err := RunAttackFile(context.Background(), file, testTarget(false), big.NewInt(3))
	if !errors.Is(err, ErrInsufficientCurves) {
		t.Fatalf("got %v, want ErrInsufficientCurves", err)
	}
}

func TestMockOracleMatchesCurveArithmetic(t *testing.T) {
	oracle := testTarget(false)
	file := testCurveFile(t)
	rec := file.Curves[0]
	crv, err := file.Curve(rec)
	if err != nil {
		t.Fatal(err)
	}
	pt := rec.Generators[0].Point

	res, err := oracle.ScalarMult(pt)
	if err != nil {
		t.Fatalf("ScalarMult failed: %v", err)
	}
	want := crv.ScalarMult(pt, oracle.Secret)
	if res.Identity() != want.IsInfinity() {
		t.Fatalf("identity mismatch")
	}
	if !res.Identity() && (res.X.Cmp(want.X) != 0 || res.Y.Cmp(want.Y) != 0) {
		t.Errorf("oracle product (%v, %v), want %v", res.X, res.Y, want)
	}
}
