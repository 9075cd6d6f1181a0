package errors

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound           = errors.New("distribution job not found")
	ErrJobExists             = errors.New("distribution job already exists")
	ErrJobNotProcessing      = errors.New("distribution job is not processing")
	ErrJobNotFailed          = errors.New("distribution job is not failed")
	ErrInvalidJobInput       = errors.New("invalid distribution job input")
	ErrDepthExceeded         = errors.New("distribution depth exceeds maximum")
	ErrInvalidPaymentInput   = errors.New("invalid payment input")
	ErrIdempotencyKeyMissing = errors.New("idempotency key is required")
	ErrIdempotencyConflict   = errors.New("idempotency key reused with different payload")
	ErrBatchInProgress       = errors.New("distribution batch already in progress")
	ErrRulesUnavailable      = errors.New("split rules unavailable")
	ErrAccountUnresolved     = errors.New("identifier account not resolved")

	ErrSubmitFailed       = errors.New("settlement submission failed")
	ErrTransactionFailed  = errors.New("settlement transaction failed")
	ErrFinalityTimeout    = errors.New("settlement finality timeout")
	ErrBadSequence        = errors.New("settlement sequence mismatch")
	ErrInvalidSignature   = errors.New("settlement signature invalid")
	ErrUnknownTransaction = errors.New("settlement transaction unknown")
	ErrInvalidCredential  = errors.New("distributor credential invalid")
	ErrSettlementOffline  = errors.New("settlement gateway not configured")
)

// ContractError is a domain error reported by the settlement contract.
type ContractError struct {
	Code    int
	Message string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s (contract error #%d)", e.Message, e.Code)
}

var (
	ErrAlreadyRegistered      = &ContractError{Code: 1, Message: "already registered"}
	ErrUserNotFound           = &ContractError{Code: 2, Message: "user not found"}
	ErrRecipientNotRegistered = &ContractError{Code: 3, Message: "recipient not registered"}
	ErrTooManyRules           = &ContractError{Code: 4, Message: "too many rules"}
	ErrRulesTotalExceedsCap   = &ContractError{Code: 5, Message: "rules total exceeds cap"}
	ErrSelfReference          = &ContractError{Code: 6, Message: "self-reference"}
	ErrInvalidPercentage      = &ContractError{Code: 7, Message: "invalid percentage"}
	ErrNothingToDistribute    = &ContractError{Code: 8, Message: "nothing to distribute"}
	ErrRulesNotSet            = &ContractError{Code: 9, Message: "rules not set"}
	ErrInvalidAmount          = &ContractError{Code: 10, Message: "invalid amount"}
	ErrNothingToClaim         = &ContractError{Code: 11, Message: "nothing to claim"}
)

var contractErrors = map[int]*ContractError{
	ErrAlreadyRegistered.Code:      ErrAlreadyRegistered,
	ErrUserNotFound.Code:           ErrUserNotFound,
	ErrRecipientNotRegistered.Code: ErrRecipientNotRegistered,
	ErrTooManyRules.Code:           ErrTooManyRules,
	ErrRulesTotalExceedsCap.Code:   ErrRulesTotalExceedsCap,
	ErrSelfReference.Code:          ErrSelfReference,
	ErrInvalidPercentage.Code:      ErrInvalidPercentage,
	ErrNothingToDistribute.Code:    ErrNothingToDistribute,
	ErrRulesNotSet.Code:            ErrRulesNotSet,
	ErrInvalidAmount.Code:          ErrInvalidAmount,
	ErrNothingToClaim.Code:         ErrNothingToClaim,
}

// ContractErrorFromCode maps a numeric contract code to its sentinel.
// Unknown codes produce a fresh ContractError that matches no sentinel.
func ContractErrorFromCode(code int) error {
	if known, ok := contractErrors[code]; ok {
		return known
	}
	return &ContractError{Code: code, Message: "unknown contract error"}
}

// IsBenignNoop reports whether err means the distribution had nothing to do.
func IsBenignNoop(err error) bool {
	return errors.Is(err, ErrNothingToDistribute) || errors.Is(err, ErrRulesNotSet)
}
