package errors

import stderrors "errors"

// Authorization failures.
var (
	ErrUnauthorized   = stderrors.New("strategy: caller not authorized")
	ErrOnlyKeeper     = stderrors.New("strategy: caller is not a keeper")
	ErrOnlyStrategist = stderrors.New("strategy: caller is not the strategist")
)

// Temporal gates. Callers are expected to retry later.
var (
	ErrVotingWindowClosed  = stderrors.New("strategy: voting window closed")
	ErrCooldownNotElapsed  = stderrors.New("strategy: cooldown not elapsed")
	ErrDurationNotElapsed  = stderrors.New("strategy: duration not elapsed")
	ErrCandidateNotExpired = stderrors.New("strategy: candidate deadline not reached")
)

// Economic bounds.
var (
	ErrFeeTooHigh                  = stderrors.New("strategy: keeper fee above ceiling")
	ErrInsufficientLiquidity       = stderrors.New("strategy: insufficient garden liquidity")
	ErrMaxDepositExceeded          = stderrors.New("strategy: capital above allowed maximum")
	ErrInsufficientCapitalToUnwind = stderrors.New("strategy: insufficient capital to unwind")
	ErrQuorumNotReached            = stderrors.New("strategy: voting quorum not reached")
	ErrInsufficientVotingPower     = stderrors.New("strategy: voter power exceeds available balance")
	ErrInsufficientStake           = stderrors.New("strategy: insufficient stake balance")
)

// State conflicts and latch violations.
var (
	ErrAlreadyFinalized      = stderrors.New("strategy: already finalized")
	ErrVotingAlreadyResolved = stderrors.New("strategy: voting already resolved")
	ErrNotResolved           = stderrors.New("strategy: voting not resolved")
	ErrNotActive             = stderrors.New("strategy: strategy not active")
	ErrAlreadyActive         = stderrors.New("strategy: strategy already active")
	ErrExpired               = stderrors.New("strategy: strategy expired")
	ErrModulePaused          = stderrors.New("strategy: module paused")
	ErrStrategyNotFound      = stderrors.New("strategy: strategy not found")
)

// External price or liquidity conditions.
var (
	ErrNavComputationFailed = stderrors.New("strategy: nav computation failed")
	ErrSlippageExceeded     = stderrors.New("strategy: slippage tolerance exceeded")
)

// Malformed input.
var (
	ErrInvalidVotes          = stderrors.New("strategy: invalid vote submission")
	ErrTallyMismatch         = stderrors.New("strategy: vote totals do not match submitted powers")
	ErrInvalidOperation      = stderrors.New("strategy: invalid operation")
	ErrIntegrationNotAllowed = stderrors.New("strategy: integration not whitelisted")
	ErrInvalidParams         = stderrors.New("strategy: invalid parameters")
	ErrInvalidAmount         = stderrors.New("strategy: amount must be positive")
)

// Class groups errors by how callers should react to them.
type Class uint8

const (
	ClassUnknown Class = iota
	ClassAuthorization
	ClassTemporal
	ClassEconomic
	ClassStateConflict
	ClassComputation
	ClassValidation
)

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case ClassAuthorization:
		return "authorization"
	case ClassTemporal:
		return "temporal"
	case ClassEconomic:
		return "economic"
	case ClassStateConflict:
		return "state_conflict"
	case ClassComputation:
		return "computation"
	case ClassValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Retryable reports whether a later retry of the same call may succeed.
func (c Class) Retryable() bool {
	return c == ClassTemporal || c == ClassComputation
}

var classes = []struct {
	class Class
	errs  []error
}{
	{ClassAuthorization, []error{ErrUnauthorized, ErrOnlyKeeper, ErrOnlyStrategist}},
	{ClassTemporal, []error{ErrVotingWindowClosed, ErrCooldownNotElapsed, ErrDurationNotElapsed, ErrCandidateNotExpired}},
	{ClassEconomic, []error{ErrFeeTooHigh, ErrInsufficientLiquidity, ErrMaxDepositExceeded, ErrInsufficientCapitalToUnwind, ErrQuorumNotReached, ErrInsufficientVotingPower, ErrInsufficientStake}},
	{ClassStateConflict, []error{ErrAlreadyFinalized, ErrVotingAlreadyResolved, ErrNotResolved, ErrNotActive, ErrAlreadyActive, ErrExpired, ErrModulePaused, ErrStrategyNotFound}},
	{ClassComputation, []error{ErrNavComputationFailed, ErrSlippageExceeded}},
	{ClassValidation, []error{ErrInvalidVotes, ErrTallyMismatch, ErrInvalidOperation, ErrIntegrationNotAllowed, ErrInvalidParams, ErrInvalidAmount}},
}

// Classify maps an error (or any error wrapping one of the sentinels) to its
// class. Unrecognised errors return ClassUnknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	for _, group := range classes {
		for _, target := range group.errs {
			if stderrors.Is(err, target) {
				return group.class
			}
		}
	}
	return ClassUnknown
}
