package invalidcurve

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/forensicskween/invalidcurve/pkg/factorint"
	"github.com/forensicskween/invalidcurve/pkg/weierstrass"
)

// CurveRecord is one generated invalid curve with its derived attributes.
// Records are immutable once persisted; the attack consumes them read-only.
type CurveRecord struct {
	B                 *big.Int
	Order             *big.Int
	Factors           []factorint.Factor
	FactoringComplete bool
	Generators        []SubgroupGenerator
}

// SubgroupGenerator is a precomputed point of exact order Prime^Exp on its
// record's curve.
type SubgroupGenerator struct {
	Prime *big.Int
	Exp   int
	Point weierstrass.Point
}

// CurveFile is the persisted output of one generation run: the shared field
// parameters plus the accepted curves.
type CurveFile struct {
	P      *big.Int
	A      *big.Int
	Curves []*CurveRecord
}

// Curve rebuilds the weierstrass curve for a record within file.
func (f *CurveFile) Curve(rec *CurveRecord) (*weierstrass.Curve, error) {
	return weierstrass.NewCurve(f.P, f.A, rec.B)
}

// generatorFor returns the stored generator for prime with the largest
// exponent not above exp, if any. Stored exponents can fall short of the
// prime's multiplicity in the order when the Sylow subgroup is not cyclic.
func (r *CurveRecord) generatorFor(prime *big.Int, exp int) (weierstrass.Point, int, bool) {
	best := 0
	var pt weierstrass.Point
	for _, g := range r.Generators {
		if g.Prime.Cmp(prime) == 0 && g.Exp <= exp && g.Exp > best {
			best, pt = g.Exp, g.Point
		}
	}
	return pt, best, best > 0
}

// JSON wire form. All big integers are decimal strings: the orders involved
// do not fit in JSON numbers.

type curveFileJSON struct {
	Params curveParamsJSON   `json:"curve_params"`
	Curves []curveRecordJSON `json:"curves"`
}

type curveParamsJSON struct {
	P string `json:"p"`
	A string `json:"a"`
}

type curveRecordJSON struct {
	B                 string          `json:"b"`
	Order             string          `json:"order"`
	Factors           []factorJSON    `json:"factors"`
	FactoringComplete bool            `json:"factoring_complete"`
	Generators        []generatorJSON `json:"generators,omitempty"`
}

type factorJSON struct {
	Prime string `json:"prime"`
	Exp   int    `json:"exp"`
	Known bool   `json:"prime_tested"`
}

type generatorJSON struct {
	Prime string `json:"prime"`
	Exp   int    `json:"exp"`
	X     string `json:"x"`
	Y     string `json:"y"`
}

// WriteCurveFile persists a generation result as JSON at path.
func WriteCurveFile(path string, file *CurveFile) error {
	out := curveFileJSON{
		Params: curveParamsJSON{P: file.P.String(), A: file.A.String()},
	}
	for _, rec := range file.Curves {
		rj := curveRecordJSON{
			B:                 rec.B.String(),
			Order:             rec.Order.String(),
			FactoringComplete: rec.FactoringComplete,
		}
		for _, f := range rec.Factors {
			rj.Factors = append(rj.Factors, factorJSON{Prime: f.Prime.String(), Exp: f.Exp, Known: f.Known})
		}
		for _, g := range rec.Generators {
			rj.Generators = append(rj.Generators, generatorJSON{
				Prime: g.Prime.String(), Exp: g.Exp,
				X: g.Point.X.String(), Y: g.Point.Y.String(),
			})
		}
		out.Curves = append(out.Curves, rj)
	}

	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create curve file: %w", err)
	}
	defer fh.Close()
	enc := json.NewEncoder(fh)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write curve file: %w", err)
	}
	return nil
}

// LoadCurveFile reads a persisted curve file.
func LoadCurveFile(path string) (*CurveFile, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open curve file: %w", err)
	}
	defer fh.Close()

	var raw curveFileJSON
	dec := json.NewDecoder(fh)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse curve file: %w", err)
	}

	file := &CurveFile{}
	if file.P, err = parseBigInt(raw.Params.P); err != nil {
		return nil, fmt.Errorf("failed to parse p: %w", err)
	}
	if file.A, err = parseBigInt(raw.Params.A); err != nil {
		return nil, fmt.Errorf("failed to parse a: %w", err)
	}
	for i, rj := range raw.Curves {
		rec := &CurveRecord{FactoringComplete: rj.FactoringComplete}
		if rec.B, err = parseBigInt(rj.B); err != nil {
			return nil, fmt.Errorf("curve %d: failed to parse b: %w", i, err)
		}
		if rec.Order, err = parseBigInt(rj.Order); err != nil {
			return nil, fmt.Errorf("curve %d: failed to parse order: %w", i, err)
		}
		for _, fj := range rj.Factors {
			prime, err := parseBigInt(fj.Prime)
			if err != nil {
				return nil, fmt.Errorf("curve %d: failed to parse factor: %w", i, err)
			}
			exp := fj.Exp
			if exp < 1 {
				exp = 1
			}
			rec.Factors = append(rec.Factors, factorint.Factor{
				Prime: prime, Exp: exp, Known: fj.Known,
				Proven: fj.Known && prime.BitLen() <= 64,
			})
		}
		for _, gj := range rj.Generators {
			prime, err := parseBigInt(gj.Prime)
			if err != nil {
				return nil, fmt.Errorf("curve %d: failed to parse generator order: %w", i, err)
			}
			x, err := parseBigInt(gj.X)
			if err != nil {
				return nil, fmt.Errorf("curve %d: failed to parse generator x: %w", i, err)
			}
			y, err := parseBigInt(gj.Y)
			if err != nil {
				return nil, fmt.Errorf("curve %d: failed to parse generator y: %w", i, err)
			}
			exp := gj.Exp
			if exp < 1 {
				exp = 1
			}
			rec.Generators = append(rec.Generators, SubgroupGenerator{
				Prime: prime, Exp: exp,
				Point: weierstrass.Point{X: x, Y: y},
			})
		}
		file.Curves = append(file.Curves, rec)
	}
	return file, nil
}

// parseBigInt parses a big integer from a decimal or 0x-prefixed hex string.
func parseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty number")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	z, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid number format: %q", s)
	}
	return z, nil
}
