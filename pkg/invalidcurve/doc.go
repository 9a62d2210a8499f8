// Package invalidcurve implements the invalid-curve attack against
// scalar-multiplication oracles that skip point validation.
//
// An implementation of short Weierstrass arithmetic that never reads the
// curve coefficient b will happily multiply points that live on a different
// curve y² = x³ + ax + b'. By choosing b' so the foreign curve's group order
// has small prime-power factors, attacker-supplied points of small order
// leak the secret scalar modulo each factor; the Chinese remainder theorem
// stitches the residues back into the full secret.
//
// # Quick Start
//
//	import "github.com/forensicskween/invalidcurve/pkg/invalidcurve"
//
//	// Generate curves sharing the target's p and a but with useful orders
//	gen, err := invalidcurve.NewGenerator(p, a,
//	    invalidcurve.WithExcludedB(realB),
//	    invalidcurve.WithGenerators(true),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	file, err := gen.Generate(ctx, invalidcurve.Source{Count: 8})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Point the engine at the vulnerable service
//	rec, err := invalidcurve.RunAttackFile(ctx, file, oracle, realB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("secret: %v after %d queries\n", rec.Secret, rec.Queries)
//
// # Oracles
//
// Implement the Oracle interface over whatever transport the target
// speaks; the engine only needs secret·P for chosen P:
//
//	type Oracle interface {
//	    ScalarMult(pt weierstrass.Point) (Result, error)
//	}
//
// Return a Result without a y coordinate for targets that only reveal x;
// the engine lifts the reply and resolves the sign ambiguity with a single
// verification query on the legitimate curve.
package invalidcurve
