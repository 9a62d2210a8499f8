package factorint

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFactor(t *testing.T, n int64, opts Options) Result {
	t.Helper()
	res, err := Factorize(context.Background(), big.NewInt(n), opts)
	require.NoError(t, err)
	return res
}

func TestFactorizeSmall(t *testing.T) {
	cases := []struct {
		n       int64
		factors map[int64]int
	}{
		{1, map[int64]int{}},
		{2, map[int64]int{2: 1}},
		{97, map[int64]int{97: 1}},
		{100, map[int64]int{2: 2, 5: 2}},
		{10152, map[int64]int{2: 3, 3: 3, 47: 1}},
		{600851475143, map[int64]int{71: 1, 839: 1, 1471: 1, 6857: 1}},
	}
	for _, tc := range cases {
		res := mustFactor(t, tc.n, Options{})
		assert.True(t, res.Complete, "n=%d should factor completely", tc.n)
		assert.Equal(t, big.NewInt(tc.n), res.Product(), "n=%d product mismatch", tc.n)

		got := make(map[int64]int)
		for _, f := range res.Factors {
			assert.True(t, f.Known, "n=%d: factor %v not marked prime", tc.n, f.Prime)
			got[f.Prime.Int64()] = f.Exp
		}
		assert.Equal(t, tc.factors, got, "n=%d", tc.n)
	}
}

func TestFactorizeRejectsNonPositive(t *testing.T) {
	_, err := Factorize(context.Background(), big.NewInt(0), Options{})
	assert.Error(t, err)
	_, err = Factorize(context.Background(), big.NewInt(-6), Options{})
	assert.Error(t, err)
	_, err = Factorize(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestFactorizeSortsAscending(t *testing.T) {
	res := mustFactor(t, 2*3*5*7*11*13, Options{})
	for i := 1; i < len(res.Factors); i++ {
		assert.True(t, res.Factors[i-1].Prime.Cmp(res.Factors[i].Prime) < 0,
			"factors not sorted: %v", res.Factors)
	}
}

func TestFactorizePerfectPower(t *testing.T) {
	// 1000003^3 has no factor below the trial bound, so the perfect-power
	// reduction has to fire before rho sees it.
	p := big.NewInt(1000003)
	n := new(big.Int).Exp(p, big.NewInt(3), nil)
	res, err := Factorize(context.Background(), n, Options{})
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.Len(t, res.Factors, 1)
	assert.Equal(t, p, res.Factors[0].Prime)
	assert.Equal(t, 3, res.Factors[0].Exp)
}

func TestFactorizeSemiprime(t *testing.T) {
	// Two primes above the trial bound force the rho stage.
	p := big.NewInt(1000033)
	q := big.NewInt(1000037)
	n := new(big.Int).Mul(p, q)
	res, err := Factorize(context.Background(), n, Options{Seed: 42})
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.Len(t, res.Factors, 2)
	assert.Equal(t, p, res.Factors[0].Prime)
	assert.Equal(t, q, res.Factors[1].Prime)
}

func TestFactorizeCertified(t *testing.T) {
	res := mustFactor(t, 1000003, Options{Proof: true})
	assert.True(t, res.Complete)
	// Below 2^64 the primality test is deterministic.
	assert.True(t, res.Certified)
	require.Len(t, res.Factors, 1)
	assert.True(t, res.Factors[0].Proven)
}

func TestFactorizeCache(t *testing.T) {
	cache := NewCache()
	n := big.NewInt(10152)
	first, err := Factorize(context.Background(), n, Options{Cache: cache})
	require.NoError(t, err)
	require.True(t, first.Complete)

	second, err := Factorize(context.Background(), n, Options{Cache: cache})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFactorizeCancelled(t *testing.T) {
	// The product of the Mersenne primes 2^107-1 and 2^127-1 is far beyond
	// rho; cancellation must cut the attempt short instead of hanging.
	p := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 107), big.NewInt(1))
	q := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	n := new(big.Int).Mul(p, q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Factorize(ctx, n, Options{})
	assert.Error(t, err)
}

func TestIsPrime(t *testing.T) {
	assert.True(t, IsPrime(big.NewInt(2)))
	assert.True(t, IsPrime(big.NewInt(1000003)))
	assert.False(t, IsPrime(big.NewInt(1)))
	assert.False(t, IsPrime(big.NewInt(1000004)))
}
