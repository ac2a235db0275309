package bank

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrSlashNegative = errors.New("bank: slash amount cannot be negative")
	ErrSlashDisabled = errors.New("bank: slashing disabled")
)

// Slasher confiscates part of a holder's balance.
type Slasher interface {
	Slash(holder common.Address, amount *big.Int) error
}

// TokenSlasher moves slashed balances of a single token into a beneficiary
// account held in the same book.
type TokenSlasher struct {
	book        *Book
	token       common.Address
	beneficiary common.Address
	enabled     bool
}

func NewTokenSlasher(book *Book, token, beneficiary common.Address, enabled bool) *TokenSlasher {
	return &TokenSlasher{book: book, token: token, beneficiary: beneficiary, enabled: enabled}
}

func (s *TokenSlasher) Slash(holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrSlashNegative
	}
	if !s.enabled || s.book == nil {
		return ErrSlashDisabled
	}
	return s.book.Transfer(s.token, holder, s.beneficiary, amount)
}
