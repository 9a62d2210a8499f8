package invalidcurve

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/forensicskween/invalidcurve/pkg/factorint"
	"github.com/forensicskween/invalidcurve/pkg/weierstrass"
)

func TestCurveFileRoundTrip(t *testing.T) {
	file := &CurveFile{
		P: big.NewInt(97),
		A: big.NewInt(2),
		Curves: []*CurveRecord{
			{
				B:     big.NewInt(1),
				Order: big.NewInt(112),
				Factors: []factorint.Factor{
					{Prime: big.NewInt(2), Exp: 4, Known: true, Proven: true},
					{Prime: big.NewInt(7), Exp: 1, Known: true, Proven: true},
				},
				FactoringComplete: true,
				Generators: []SubgroupGenerator{
					{Prime: big.NewInt(7), Exp: 1, Point: weierstrass.Point{X: big.NewInt(10), Y: big.NewInt(20)}},
				},
			},
			{
				B:     big.NewInt(2),
				Order: big.NewInt(115),
				Factors: []factorint.Factor{
					{Prime: big.NewInt(5), Exp: 1, Known: true, Proven: true},
					{Prime: big.NewInt(23), Exp: 1, Known: true, Proven: true},
				},
				FactoringComplete: true,
			},
		},
	}

	path := filepath.Join(t.TempDir(), "curves.json")
	if err := WriteCurveFile(path, file); err != nil {
		t.Fatalf("WriteCurveFile failed: %v", err)
	}
	got, err := LoadCurveFile(path)
	if err != nil {
		t.Fatalf("LoadCurveFile failed: %v", err)
	}

	if got.P.Cmp(file.P) != 0 || got.A.Cmp(file.A) != 0 {
		t.Errorf("params = (%v, %v), want (%v, %v)", got.P, got.A, file.P, file.A)
	}
	if len(got.Curves) != len(file.Curves) {
		t.Fatalf("loaded %d curves, want %d", len(got.Curves), len(file.Curves))
	}
	for i, rec := range got.Curves {
		want := file.Curves[i]
		if rec.B.Cmp(want.B) != 0 || rec.Order.Cmp(want.Order) != 0 {
			t.Errorf("curve %d: (b, order) = (%v, %v), want (%v, %v)", i, rec.B, rec.Order, want.B, want.Order)
		}
		if rec.FactoringComplete != want.FactoringComplete {
			t.Errorf("curve %d: FactoringComplete = %v", i, rec.FactoringComplete)
		}
		if len(rec.Factors) != len(want.Factors) {
			t.Fatalf("curve %d: %d factors, want %d", i, len(rec.Factors), len(want.Factors))
		}
		for j, f := range rec.Factors {
			wf := want.Factors[j]
			if f.Prime.Cmp(wf.Prime) != 0 || f.Exp != wf.Exp || f.Known != wf.Known {
				t.Errorf("curve %d factor %d: got %+v, want %+v", i, j, f, wf)
			}
		}
		if len(rec.Generators) != len(want.Generators) {
			t.Fatalf("curve %d: %d generators, want %d", i, len(rec.Generators), len(want.Generators))
		}
		for j, g := range rec.Generators {
			wg := want.Generators[j]
			if g.Prime.Cmp(wg.Prime) != 0 || g.Exp != wg.Exp || !g.Point.Equal(wg.Point) {
				t.Errorf("curve %d generator %d: got %+v, want %+v", i, j, g, wg)
			}
		}
	}
}

func TestLoadCurveFileErrors(t *testing.T) {
	if _, err := LoadCurveFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{"curve_params": {"p": "abc", "a": "2"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCurveFile(bad); err == nil {
		t.Error("expected error for malformed p")
	}
}

func TestParseBigInt(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"97", 97, true},
		{" 42 ", 42, true},
		{"0x61", 97, true},
		{"-5", -5, true},
		{"", 0, false},
		{"12z", 0, false},
	}
	for _, tc := range cases {
		got, err := parseBigInt(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("parseBigInt(%q) error = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got.Int64() != tc.want {
			t.Errorf("parseBigInt(%q) = %v, want %d", tc.in, got, tc.want)
		}
	}
}

func TestCurveFileCurve(t *testing.T) {
	file := &CurveFile{P: big.NewInt(97), A: big.NewInt(2)}
	rec := &CurveRecord{B: big.NewInt(1)}
	crv, err := file.Curve(rec)
	if err != nil {
		t.Fatalf("Curve failed: %v", err)
	}
	if crv.B.Int64() != 1 {
		t.Errorf("curve b = %v, want 1", crv.B)
	}
}
