// Package factorint factors integers with bounded effort: trial division for
// the small primes, Pollard's rho for mid-sized cofactors, and an optional
// Lenstra ECM pass for the stubborn ones. Callers bound the total work with
// a context; an expired context surfaces as an error, never as a hang.
package factorint

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sort"
	"sync"
)

var one = big.NewInt(1)

// trialBound is the limit for the initial trial-division sweep.
const trialBound = 1 << 16

// Factor is one entry of a factor multiset.
type Factor struct {
	Prime  *big.Int // the factor; composite only when factoring gave up
	Exp    int
	Known  bool // Prime passed a primality test
	Proven bool // the test was deterministic for this size
}

// Result is a factorization. The product of all entries (with exponents)
// always equals the input; Complete reports whether every entry is a tested
// prime, and Certified whether every entry is a proven one.
type Result struct {
	Factors   []Factor
	Complete  bool
	Certified bool
}

// Product multiplies the multiset back together.
func (r Result) Product() *big.Int {
	p := big.NewInt(1)
	for _, f := range r.Factors {
		p.Mul(p, new(big.Int).Exp(f.Prime, big.NewInt(int64(f.Exp)), nil))
	}
	return p
}

// Options configures a Factorize call.
type Options struct {
	// Deep enables the ECM pass for composite cofactors that survive rho.
	Deep bool
	// Proof demands deterministic primality for every factor; probable
	// primes beyond the deterministic range leave Certified false.
	Proof bool
	// RhoRounds caps Pollard-rho restarts per cofactor. 0 means a default.
	RhoRounds int
	// Cache, when set, memoizes factorizations across calls of one
	// generation run.
	Cache *Cache
	// Seed fixes the RNG driving rho and ECM so runs are reproducible.
	// 0 selects a fixed default, which is fine: randomness here only
	// de-correlates retries.
	Seed int64
}

// Cache memoizes complete factorizations. It is an explicit object scoped by
// the caller (typically one curve-generation run) rather than process-global
// state, so runs stay reproducible.
type Cache struct {
	mu sync.Mutex
	m  map[string]Result
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{m: make(map[string]Result)}
}

func (c *Cache) get(n *big.Int) (Result, bool) {
	if c == nil {
		return Result{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.m[n.String()]
	return r, ok
}

func (c *Cache) put(n *big.Int, r Result) {
	if c == nil || !r.Complete {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[n.String()] = r
}

// Factorize factors n > 0. The returned multiset always multiplies back to
// n; when the effort budget runs out before the job is done, the leftover
// composite cofactor is included with Known == false and Complete is left
// false so the caller can decide whether that is good enough.
func Factorize(ctx context.Context, n *big.Int, opts Options) (Result, error) {
	if n == nil || n.Sign() <= 0 {
		return Result{}, fmt.Errorf("factorint: input must be positive, got %v", n)
	}
	if r, ok := opts.Cache.get(n); ok {
		return r, nil
	}

	rounds := opts.RhoRounds
	if rounds == 0 {
		rounds = 24
	}
	seed := opts.Seed
	if seed == 0 {
		seed = 0x1e7b5a // arbitrary fixed default
	}
	rnd := rand.New(rand.NewSource(seed))

	counts := make(map[string]*Factor)
	var order []string
	add := func(p *big.Int, known bool) {
		key := p.String()
		if f, ok := counts[key]; ok {
			f.Exp++
			return
		}
		counts[key] = &Factor{Prime: new(big.Int).Set(p), Exp: 1, Known: known, Proven: known && provenRange(p)}
		order = append(order, key)
	}

	// Trial division first; everything it finds is prime by construction.
	rem := new(big.Int).Set(n)
	for d := int64(2); d < trialBound && rem.Cmp(one) > 0; d++ {
		if d&1023 == 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}
		}
		dd := big.NewInt(d)
		if dd.Mul(dd, dd).Cmp(rem) > 0 {
			break
		}
		dd.SetInt64(d)
		q, r := new(big.Int).DivMod(rem, dd, new(big.Int))
		for r.Sign() == 0 {
			add(dd, true)
			rem.Set(q)
			q, r = new(big.Int).DivMod(rem, dd, new(big.Int))
		}
	}

	// Split the remaining cofactors recursively with rho (and ECM if asked).
	reps := 32
	if opts.Proof {
		reps = 64
	}
	queue := []*big.Int{}
	if rem.Cmp(one) > 0 {
		queue = append(queue, rem)
	}
	incomplete := false
	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		m := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if m.ProbablyPrime(reps) {
			add(m, true)
			continue
		}
		d, err := splitComposite(ctx, m, rounds, opts.Deep, rnd)
		if err != nil {
			return Result{}, err
		}
		if d == nil {
			log.Debugf("giving up on %d-bit composite cofactor", m.BitLen())
			add(m, false)
			incomplete = true
			continue
		}
		queue = append(queue, d, new(big.Int).Div(m, d))
	}

	res := Result{Complete: !incomplete, Certified: !incomplete}
	for _, key := range order {
		f := counts[key]
		if !f.Proven {
			res.Certified = false
		}
		res.Factors = append(res.Factors, *f)
	}
	sort.Slice(res.Factors, func(i, j int) bool {
		return res.Factors[i].Prime.Cmp(res.Factors[j].Prime) < 0
	})
	opts.Cache.put(n, res)
	return res, nil
}

// splitComposite finds one nontrivial divisor of the composite m, or nil
// when the budget is exhausted.
func splitComposite(ctx context.Context, m *big.Int, rhoRounds int, deep bool, rnd *rand.Rand) (*big.Int, error) {
	// Perfect powers slip past rho's x²+c iteration surprisingly often, so
	// peel them first.
	if d := perfectPowerRoot(m); d != nil {
		return d, nil
	}
	for i := 0; i < rhoRounds; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if d := pollardRho(ctx, m, int64(i+1)); d != nil {
			return d, nil
		}
	}
	if deep {
		return ecmFactor(ctx, m, rnd)
	}
	return nil, nil
}

// pollardRho runs Floyd-cycle Pollard rho on m with iteration x² + c.
func pollardRho(ctx context.Context, m *big.Int, c int64) *big.Int {
	cc := big.NewInt(c)
	f := func(x *big.Int) *big.Int {
		y := new(big.Int).Mul(x, x)
		y.Add(y, cc)
		return y.Mod(y, m)
	}
	x := big.NewInt(2)
	y := big.NewInt(2)
	d := new(big.Int)
	for i := 0; i < 1<<20; i++ {
		if i&2047 == 0 {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
		}
		x = f(x)
		y = f(f(y))
		d.GCD(nil, nil, d.Sub(x, y).Abs(d), m)
		if d.Cmp(one) > 0 {
			if d.Cmp(m) == 0 {
				return nil // cycle collapsed, retry with another c
			}
			return new(big.Int).Set(d)
		}
	}
	return nil
}

// perfectPowerRoot returns the k-th root of m when m = r^k for some k ≥ 2.
func perfectPowerRoot(m *big.Int) *big.Int {
	maxK := m.BitLen()
	for k := 2; k <= maxK; k++ {
		r := nthRoot(m, k)
		if new(big.Int).Exp(r, big.NewInt(int64(k)), nil).Cmp(m) == 0 {
			return r
		}
	}
	return nil
}

// nthRoot returns ⌊m^(1/k)⌋ by binary search.
func nthRoot(m *big.Int, k int) *big.Int {
	kk := big.NewInt(int64(k))
	lo := big.NewInt(1)
	hi := new(big.Int).Lsh(one, uint(m.BitLen()/k+1))
	for lo.Cmp(hi) < 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Add(mid, one)
		mid.Rsh(mid, 1)
		if new(big.Int).Exp(mid, kk, nil).Cmp(m) <= 0 {
			lo = mid
		} else {
			hi = mid.Sub(mid, one)
		}
	}
	return lo
}

// provenRange reports whether ProbablyPrime is deterministic for p. Per the
// math/big documentation that holds for all inputs below 2⁶⁴.
func provenRange(p *big.Int) bool {
	return p.BitLen() <= 64
}

// IsPrime is the primality test the rest of the module uses: deterministic
// below 2⁶⁴, Baillie-PSW plus 32 Miller-Rabin rounds above.
func IsPrime(p *big.Int) bool {
	return p.ProbablyPrime(32)
}
