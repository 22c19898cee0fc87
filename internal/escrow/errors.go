package escrow

import "errors"

// Validation failures: reported to the caller immediately, nothing mutated.
var (
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	ErrBlocked       = errors.New("user is blocked from using this bot")
)

// Precondition failures: the operation was attempted in the wrong state.
var (
	ErrRoleTaken          = errors.New("role already claimed by another user")
	ErrRolesIncomplete    = errors.New("both buyer and seller must be set up first")
	ErrNoAmount           = errors.New("transaction amount must be set first")
	ErrAmountLocked       = errors.New("amount cannot change once a payment request exists")
	ErrPaymentExists      = errors.New("a payment request already exists for this transaction")
	ErrNoPayment          = errors.New("no payment found for this transaction")
	ErrNotConfirmed       = errors.New("payment must be confirmed before release")
	ErrNotParticipant     = errors.New("only the buyer or seller can release funds")
	ErrNotAdmin           = errors.New("this operation is only available to admins")
	ErrSettlementInFlight = errors.New("a settlement is already in progress for this transaction")
)

// ErrSessionNotFound is benign for monitor callbacks but user-visible for
// direct commands.
var ErrSessionNotFound = errors.New("no active transaction found")
