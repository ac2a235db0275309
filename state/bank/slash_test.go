package bank

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	slashToken  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	slashHolder = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	slashSink   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func TestTokenSlasherDisabled(t *testing.T) {
	s := NewTokenSlasher(NewBook(), slashToken, slashSink, false)
	if err := s.Slash(slashHolder, big.NewInt(10)); !errors.Is(err, ErrSlashDisabled) {
		t.Fatalf("expected ErrSlashDisabled, got %v", err)
	}
}

func TestTokenSlasherZeroAmount(t *testing.T) {
	s := NewTokenSlasher(NewBook(), slashToken, slashSink, false)
	if err := s.Slash(slashHolder, big.NewInt(0)); err != nil {
		t.Fatalf("expected no error for zero amount: %v", err)
	}
}

func TestTokenSlasherNegativeAmount(t *testing.T) {
	s := NewTokenSlasher(NewBook(), slashToken, slashSink, true)
	if err := s.Slash(slashHolder, big.NewInt(-1)); !errors.Is(err, ErrSlashNegative) {
		t.Fatalf("expected negative amount error, got %v", err)
	}
}

func TestTokenSlasherMovesBalance(t *testing.T) {
	book := NewBook()
	if err := book.Mint(slashToken, slashHolder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	s := NewTokenSlasher(book, slashToken, slashSink, true)
	if err := s.Slash(slashHolder, big.NewInt(40)); err != nil {
		t.Fatalf("slash: %v", err)
	}
	if got := book.BalanceOf(slashToken, slashHolder); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("holder balance = %s, want 60", got)
	}
	if got := book.BalanceOf(slashToken, slashSink); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("sink balance = %s, want 40", got)
	}
	if err := s.Slash(slashHolder, big.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}
