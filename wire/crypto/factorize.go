package crypto

import (
	"math/big"
)

// Factorize splits pq into its two prime factors p < q using Brent's
// improvement of Pollard's rho algorithm, the same variant MTProto clients
// use to factor the 64-bit pq value handed out in res_pq.
//
// https://core.telegram.org/mtproto/auth_key#dh-exchange-initiation
func Factorize(pq uint64) (p, q uint64, err error) {
	if pq == 0 {
		return 0, 0, errFactorizeZero
	}
	if pq%2 == 0 {
		return 2, pq / 2, nil
	}

	bigPQ := new(big.Int).SetUint64(pq)

	y, err := randRange(bigPQ)
	if err != nil {
		return 0, 0, err
	}
	c, err := randRange(bigPQ)
	if err != nil {
		return 0, 0, err
	}
	m, err := randRange(bigPQ)
	if err != nil {
		return 0, 0, err
	}

	g := big.NewInt(1)
	r := big.NewInt(1)
	qAcc := big.NewInt(1)
	x := new(big.Int)
	ys := new(big.Int)

	tmp := new(big.Int)
	one := big.NewInt(1)

	step := func(v *big.Int) *big.Int {
		tmp.Mul(v, v)
		tmp.Add(tmp, c)
		tmp.Mod(tmp, bigPQ)
		return new(big.Int).Set(tmp)
	}

	for g.Cmp(one) == 0 {
		x.Set(y)

		for i := big.NewInt(0); i.Cmp(r) < 0; i.Add(i, one) {
			y = step(y)
		}

		k := big.NewInt(0)
		for k.Cmp(r) < 0 && g.Cmp(one) == 0 {
			ys.Set(y)

			limit := new(big.Int).Sub(r, k)
			if limit.Cmp(m) > 0 {
				limit.Set(m)
			}
			for i := big.NewInt(0); i.Cmp(limit) < 0; i.Add(i, one) {
				y = step(y)
				diff := new(big.Int).Sub(x, y)
				diff.Abs(diff)
				qAcc.Mul(qAcc, diff)
				qAcc.Mod(qAcc, bigPQ)
			}

			g = new(big.Int).GCD(nil, nil, qAcc, bigPQ)
			k.Add(k, m)
		}

		r.Mul(r, big.NewInt(2))
	}

	if g.Cmp(bigPQ) == 0 {
		for {
			ys = step(ys)
			diff := new(big.Int).Sub(x, ys)
			diff.Abs(diff)
			g = new(big.Int).GCD(nil, nil, diff, bigPQ)
			if g.Cmp(one) > 0 {
				break
			}
		}
	}

	pBig := g
	qBig := new(big.Int).Div(bigPQ, g)
	if pBig.Cmp(qBig) > 0 {
		pBig, qBig = qBig, pBig
	}
	return pBig.Uint64(), qBig.Uint64(), nil
}

// randRange returns a uniform random value in [1, n), matching Python's
// randrange(1, n).
func randRange(n *big.Int) (*big.Int, error) {
	// v is drawn from [0, n-2], then shifted to [1, n-1].
	upper := new(big.Int).Sub(n, big.NewInt(2))
	if upper.Sign() <= 0 {
		return big.NewInt(1), nil
	}
	v, err := randBigInt(upper)
	if err != nil {
		return nil, err
	}
	return v.Add(v, big.NewInt(1)), nil
}
