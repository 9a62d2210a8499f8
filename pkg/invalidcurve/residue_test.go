package invalidcurve

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResidueSetCoverage(t *testing.T) {
	s := NewResidueSet()
	two := big.NewInt(2)

	assert.False(t, s.Covered(two, 1))
	s.Add(two, 2, []*big.Int{big.NewInt(3)})
	assert.True(t, s.Covered(two, 1))
	assert.True(t, s.Covered(two, 2))
	assert.False(t, s.Covered(two, 3))

	// A lower power never downgrades an entry.
	s.Add(two, 1, []*big.Int{big.NewInt(1)})
	assert.True(t, s.Covered(two, 2))
	assert.Equal(t, big.NewInt(4), s.Modulus())

	// A higher power replaces it.
	s.Add(two, 3, []*big.Int{big.NewInt(5)})
	assert.True(t, s.Covered(two, 3))
	assert.Equal(t, big.NewInt(8), s.Modulus())
}

func TestResidueSetDeduplicatesCandidates(t *testing.T) {
	s := NewResidueSet()
	five := big.NewInt(5)
	// 3 and -2 coincide mod 5.
	s.Add(five, 1, []*big.Int{big.NewInt(3), big.NewInt(-2)})
	assert.Equal(t, 1, s.Branches())
}

func TestResidueSetCombineUnique(t *testing.T) {
	// x = 23: 23 mod 4 = 3, 23 mod 9 = 5, 23 mod 5 = 3.
	s := NewResidueSet()
	s.Add(big.NewInt(2), 2, []*big.Int{big.NewInt(3)})
	s.Add(big.NewInt(3), 2, []*big.Int{big.NewInt(5)})
	s.Add(big.NewInt(5), 1, []*big.Int{big.NewInt(3)})
	require.Equal(t, big.NewInt(180), s.Modulus())

	got, err := s.Combine()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, big.NewInt(23), got[0])
}

func TestResidueSetCombineBranches(t *testing.T) {
	// An unresolved sign on the mod-5 entry doubles the output.
	s := NewResidueSet()
	s.Add(big.NewInt(2), 2, []*big.Int{big.NewInt(3)})
	s.Add(big.NewInt(5), 1, []*big.Int{big.NewInt(2), big.NewInt(3)})

	got, err := s.Combine()
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, x := range got {
		assert.Equal(t, int64(3), new(big.Int).Mod(x, big.NewInt(4)).Int64())
		m5 := new(big.Int).Mod(x, big.NewInt(5)).Int64()
		assert.True(t, m5 == 2 || m5 == 3, "x=%v has wrong mod-5 residue", x)
	}
}

func TestResidueSetCombineExplosion(t *testing.T) {
	primes := []int64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41}
	s := NewResidueSet()
	for _, p := range primes {
		s.Add(big.NewInt(p), 1, []*big.Int{big.NewInt(0), big.NewInt(1)})
	}
	_, err := s.Combine()
	assert.True(t, errors.Is(err, ErrAmbiguousResidues), "got %v", err)
}

func TestResidueSetEmpty(t *testing.T) {
	s := NewResidueSet()
	assert.Equal(t, big.NewInt(1), s.Modulus())
	got, err := s.Combine()
	require.NoError(t, err)
	assert.Empty(t, got)
}
