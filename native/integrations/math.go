// Package integrations provides reference money-market, exchange, pooled
// liquidity and vault protocols that strategies route capital through. All of
// their balances live in the shared bank.Book so a failed strategy call rolls
// them back together with everything else.
package integrations

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const secondsPerYear = 365 * 24 * 60 * 60

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
	halfRay     = new(big.Int).Rsh(ray, 1)
	rayToWad    = big.NewInt(1_000_000_000)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfRay)
	product.Quo(product, ray)
	return product
}

// rayDivDown divides without rounding up so minted claims never exceed the
// deposited value.
func rayDivDown(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, ray)
	return numerator.Quo(numerator, b)
}

// rayMulDown multiplies rounding down so redemptions never exceed backing.
func rayMulDown(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, ray)
}

func ratToRay(r *big.Rat) *big.Int {
	if r == nil {
		return new(big.Int).Set(ray)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

// growthFactor returns 1 + apr*elapsed/year as a ray.
func growthFactor(apr *big.Rat, elapsed uint64) *big.Int {
	if apr == nil || apr.Sign() == 0 || elapsed == 0 {
		return new(big.Int).Set(ray)
	}
	perPeriod := new(big.Rat).Set(apr)
	perPeriod.Mul(perPeriod, new(big.Rat).SetFrac(new(big.Int).SetUint64(elapsed), big.NewInt(secondsPerYear)))
	return ratToRay(new(big.Rat).Add(big.NewRat(1, 1), perPeriod))
}

func applyBps(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// deriveToken returns the deterministic address of a receipt token issued by
// owner for the labelled market.
func deriveToken(owner common.Address, label string, key common.Address) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256(owner.Bytes(), []byte(label), key.Bytes()))
}
