// Package precise implements deterministic 18-decimal fixed point arithmetic on
// big integers. Unsigned helpers round down unless the name says otherwise;
// signed helpers state their truncation direction explicitly.
package precise

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow reports a value outside the unsigned 256-bit domain.
	ErrOverflow = errors.New("precise: value exceeds uint256 domain")
	// ErrDivisionByZero reports a zero divisor passed to a checked helper.
	ErrDivisionByZero = errors.New("precise: division by zero")
	// ErrNegative reports a negative operand passed to an unsigned helper.
	ErrNegative = errors.New("precise: negative operand")
)

const decimals = 18

var (
	unit        = new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil)
	bpsDivisor  = big.NewInt(10_000)
	hundredPct  = new(big.Int).Set(unit)
	unitU256, _ = uint256.FromBig(unit)
)

// Unit returns a fresh copy of 1e18.
func Unit() *big.Int { return new(big.Int).Set(unit) }

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// Copy returns a defensive copy; nil maps to zero.
func Copy(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// FromBps converts basis points into a precise percentage (10_000 bps == Unit).
func FromBps(bps uint64) *big.Int {
	out := new(big.Int).Mul(new(big.Int).SetUint64(bps), unit)
	return out.Quo(out, bpsDivisor)
}

// FromUnits scales a whole number into precise units.
func FromUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}

// Percent reports whether x is a valid percentage in [0, 100%].
func Percent(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(hundredPct) <= 0
}

// Mul returns a*b/1e18 rounded down.
func Mul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(orZero(a), orZero(b))
	return out.Quo(out, unit)
}

// MulCeil returns a*b/1e18 rounded up. Both operands must be non-negative.
func MulCeil(a, b *big.Int) *big.Int {
	a, b = orZero(a), orZero(b)
	if a.Sign() == 0 || b.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	out.Sub(out, big.NewInt(1))
	out.Quo(out, unit)
	return out.Add(out, big.NewInt(1))
}

// Div returns a*1e18/b rounded down. b must be non-zero.
func Div(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(orZero(a), unit)
	return out.Quo(out, b)
}

// DivCeil returns a*1e18/b rounded up. Both operands must be non-negative and
// b must be non-zero.
func DivCeil(a, b *big.Int) *big.Int {
	a = orZero(a)
	if a.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, unit)
	out.Sub(out, big.NewInt(1))
	out.Quo(out, b)
	return out.Add(out, big.NewInt(1))
}

// MulSigned returns a*b/1e18 truncated toward zero.
func MulSigned(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(orZero(a), orZero(b))
	return out.Quo(out, unit)
}

// DivSigned returns a*1e18/b truncated toward zero.
func DivSigned(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(orZero(a), unit)
	return out.Quo(out, b)
}

// DivDown returns a/b rounded toward negative infinity.
func DivDown(a, b *big.Int) *big.Int {
	a = orZero(a)
	q, m := new(big.Int).QuoRem(a, b, new(big.Int))
	if m.Sign() != 0 && (m.Sign() < 0) != (b.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return q
}

// ConservativeMul returns a*b/1e18 rounded toward negative infinity so that
// losses are never understated.
func ConservativeMul(a, b *big.Int) *big.Int {
	return DivDown(new(big.Int).Mul(orZero(a), orZero(b)), unit)
}

// ConservativeDiv returns a*1e18/b rounded toward negative infinity.
func ConservativeDiv(a, b *big.Int) *big.Int {
	return DivDown(new(big.Int).Mul(orZero(a), unit), b)
}

// Abs returns |x| as a new value.
func Abs(x *big.Int) *big.Int { return new(big.Int).Abs(orZero(x)) }

// Min returns a copy of the smaller operand.
func Min(a, b *big.Int) *big.Int {
	a, b = orZero(a), orZero(b)
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns a copy of the larger operand.
func Max(a, b *big.Int) *big.Int {
	a, b = orZero(a), orZero(b)
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// FitsUint256 reports whether x lies in [0, 2^256).
func FitsUint256(x *big.Int) bool {
	if x == nil {
		return true
	}
	if x.Sign() < 0 {
		return false
	}
	return x.BitLen() <= 256
}

// CheckedMul computes a*b/1e18 (rounded down) inside the uint256 domain.
func CheckedMul(a, b *big.Int) (*big.Int, error) {
	ua, ub, err := toU256Pair(a, b)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).MulDivOverflow(ua, ub, unitU256)
	if overflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

// CheckedDiv computes a*1e18/b (rounded down) inside the uint256 domain.
func CheckedDiv(a, b *big.Int) (*big.Int, error) {
	ua, ub, err := toU256Pair(a, b)
	if err != nil {
		return nil, err
	}
	if ub.IsZero() {
		return nil, ErrDivisionByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(ua, unitU256, ub)
	if overflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

// CheckedAdd returns a+b, failing when the sum leaves the uint256 domain.
func CheckedAdd(a, b *big.Int) (*big.Int, error) {
	ua, ub, err := toU256Pair(a, b)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).AddOverflow(ua, ub)
	if overflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

// CheckedSub returns a-b, failing on underflow.
func CheckedSub(a, b *big.Int) (*big.Int, error) {
	ua, ub, err := toU256Pair(a, b)
	if err != nil {
		return nil, err
	}
	out, underflow := new(uint256.Int).SubOverflow(ua, ub)
	if underflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

func toU256Pair(a, b *big.Int) (*uint256.Int, *uint256.Int, error) {
	a, b = orZero(a), orZero(b)
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, nil, ErrNegative
	}
	ua, overflow := uint256.FromBig(a)
	if overflow {
		return nil, nil, ErrOverflow
	}
	ub, overflow := uint256.FromBig(b)
	if overflow {
		return nil, nil, ErrOverflow
	}
	return ua, ub, nil
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
