package common

import (
	"errors"
	"math"
	"math/big"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaFeeCapExceeded   = errors.New("quota fee cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current usage counters for a caller.
type QuotaNow struct {
	ReqCount uint32
	FeeUsed  *big.Int
	EpochID  uint64
}

// Quota bounds how many keeper calls and how much fee a single caller may
// claim per epoch. Zero limits are unbounded.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxFeePerEpoch      *big.Int
	EpochSeconds        uint32
}

// Epoch maps a unix timestamp onto the quota epoch.
func (q Quota) Epoch(unix int64) uint64 {
	if q.EpochSeconds == 0 || unix <= 0 {
		return 0
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional request and fee fit within the
// quota. The returned QuotaNow reflects the updated counters when the quota is
// not exceeded; on denial prev is returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addFee *big.Int) (QuotaNow, error) {
	next := QuotaNow{ReqCount: prev.ReqCount, FeeUsed: new(big.Int), EpochID: prev.EpochID}
	if prev.FeeUsed != nil {
		next.FeeUsed.Set(prev.FeeUsed)
	}
	if prev.EpochID != nowEpoch {
		next = QuotaNow{FeeUsed: new(big.Int), EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addFee != nil && addFee.Sign() > 0 {
		next.FeeUsed.Add(next.FeeUsed, addFee)
	}
	if q.MaxFeePerEpoch != nil && q.MaxFeePerEpoch.Sign() > 0 && next.FeeUsed.Cmp(q.MaxFeePerEpoch) > 0 {
		return prev, ErrQuotaFeeCapExceeded
	}

	return next, nil
}
