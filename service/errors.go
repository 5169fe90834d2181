package service

import "errors"

// Error kinds, shared by the mining and claim flows. Validation and
// authorization failures are terminal for the given input; contention
// failures are safe to retry with the same idempotency key.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindContention
	KindAuthorization
	KindInternal
)

// Stable reason codes reported on the wire. Mining validation reasons and
// claim error codes share one namespace.
const (
	ReasonDuplicateAttempt   = "duplicate_attempt"
	ReasonCooldownActive     = "cooldown_active"
	ReasonNodeClaimed        = "node_already_claimed"
	ReasonNodeNotFound       = "not_found"
	ReasonOutOfRange         = "out_of_range"
	ReasonRateLimited        = "rate_limit_exceeded"
	ReasonNoYield            = "no_yield"
	CodeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	CodeNonceConflict        = "NONCE_RESERVATION_CONFLICT"
	CodeAmountMismatch       = "AMOUNT_MISMATCH"
	CodeUnauthorizedWallet   = "UNAUTHORIZED_WALLET"
	CodeClaimExpired         = "CLAIM_EXPIRED"
	CodeClaimUsed            = "CLAIM_ALREADY_USED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Redemption error text is contract-tested by callers; the substrings
// "already been used", "expired", "Amount mismatch" and "Unauthorized
// wallet" must survive any rewording.
var (
	ErrClaimAlreadyUsed   = errors.New("claim has already been used")
	ErrClaimExpired       = errors.New("claim expired")
	ErrAmountMismatch     = errors.New("Amount mismatch between claim and request")
	ErrUnauthorizedWallet = errors.New("Unauthorized wallet for this claim")
	// Vouchers are purged after expiry, so a missing row and an expired row
	// are the same condition from the caller's side; the text must carry the
	// "expired" contract string for both.
	ErrClaimNotFound      = errors.New("claim not found or expired")

	ErrInsufficientBalance = errors.New("insufficient balance for requested amount")
	ErrNodeContended       = errors.New("node is being mined by another player")
)

// Error pairs a kind and wire code with an underlying cause.
type Error struct {
	Kind ErrorKind
	Code string
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func errValidation(code string, err error) *Error {
	return &Error{Kind: KindValidation, Code: code, Err: err}
}

func errContention(code string, err error) *Error {
	return &Error{Kind: KindContention, Code: code, Err: err}
}

func errAuthorization(code string, err error) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Err: err}
}

func errInternal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Err: err}
}

// CodeOf extracts the wire code from an error, defaulting to internal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// KindOf extracts the kind from an error, defaulting to internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
