package invalidcurve

import (
	"errors"
	"fmt"
	"math/big"
)

// Sentinel errors used across generation and attack runs. Generation treats
// the per-candidate ones as "reject and continue", never as run failures.
var (
	// ErrDuplicateCurve marks a candidate b value already processed in the
	// same run.
	ErrDuplicateCurve = errors.New("invalidcurve: duplicate curve")

	// ErrRealCurve marks a candidate equal to the target curve, which
	// carries no information for the attack.
	ErrRealCurve = errors.New("invalidcurve: candidate equals the real curve")

	// ErrInsufficientFactors marks a candidate whose order lacks the
	// requested number of usable small prime factors.
	ErrInsufficientFactors = errors.New("invalidcurve: not enough usable small factors")

	// ErrInsufficientCurves is returned when a generation run exhausts its
	// candidate source without accepting the requested number of curves.
	ErrInsufficientCurves = errors.New("invalidcurve: candidate source exhausted before target")

	// ErrOracleRejected is returned by defensive oracles that validate
	// their input point. The attack switches to another curve.
	ErrOracleRejected = errors.New("invalidcurve: oracle rejected the point")

	// ErrAttackInfeasible is returned when every supplied curve was
	// rejected by the oracle; the precondition of the attack does not hold.
	ErrAttackInfeasible = errors.New("invalidcurve: oracle rejected every curve, attack infeasible")

	// ErrAmbiguousResidues is returned when sign-ambiguous residues cannot
	// be resolved because the oracle offers no way to verify candidates.
	ErrAmbiguousResidues = errors.New("invalidcurve: ambiguous residues and no verification channel")
)

// ConfigError reports invalid run parameters: a composite field prime, a
// coefficient outside the field, a missing or doubled candidate source.
// Fatal; surfaced immediately instead of being skipped.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalidcurve: bad configuration (%s): %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// InsufficientCoverageError is returned by an attack run that consumed every
// curve without the residue moduli reaching the secret bound. It carries the
// partial state so the caller can bring more curves or brute-force the gap.
type InsufficientCoverageError struct {
	Residues *ResidueSet
	Modulus  *big.Int // product of accepted moduli
	Bound    *big.Int // the secret bound that was not reached
}

func (e *InsufficientCoverageError) Error() string {
	return fmt.Sprintf("invalidcurve: residue coverage %s below secret bound %s", e.Modulus, e.Bound)
}
