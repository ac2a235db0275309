package common

import (
	"errors"
	"math/big"
	"testing"
)

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 10 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1, nil)
	if !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied.ReqCount != next.ReqCount || denied.EpochID != next.EpochID {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaFeeCap(t *testing.T) {
	q := Quota{MaxFeePerEpoch: big.NewInt(1000)}
	prev := QuotaNow{EpochID: 5}

	next, err := CheckQuota(q, 5, prev, 0, big.NewInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.FeeUsed.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected fee used: %s", next.FeeUsed)
	}

	if _, err := CheckQuota(q, 5, next, 0, big.NewInt(1)); !errors.Is(err, ErrQuotaFeeCapExceeded) {
		t.Fatalf("expected ErrQuotaFeeCapExceeded, got %v", err)
	}
	if next.FeeUsed.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("denied call must not mutate previous counters")
	}

	rollover, err := CheckQuota(q, 6, next, 0, big.NewInt(500))
	if err != nil {
		t.Fatalf("unexpected error after rollover: %v", err)
	}
	if rollover.FeeUsed.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected fee used after rollover: %s", rollover.FeeUsed)
	}
}

func TestQuotaEpoch(t *testing.T) {
	q := Quota{EpochSeconds: 60}
	if got := q.Epoch(125); got != 2 {
		t.Fatalf("unexpected epoch %d", got)
	}
	if got := (Quota{}).Epoch(125); got != 0 {
		t.Fatalf("zero epoch length should collapse to epoch 0, got %d", got)
	}
}
