package errors

import "errors"

// Bet validation. Rejected synchronously, nothing is reserved.
var (
	ErrInvalidBet             = errors.New("invalid bet")
	ErrBetOutOfRange          = errors.New("bet amount out of range")
	ErrCommissionModeConflict = errors.New("commission mode already chosen for this round")
	ErrNoBetsToClear          = errors.New("no bets to clear")
)

// Timing and funds.
var (
	ErrPhaseClosed         = errors.New("phase closed")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Internal invariants. These halt the owning table.
var (
	ErrShoeExhausted      = errors.New("shoe exhausted")
	ErrInvariantViolation = errors.New("invariant violation")
)

var (
	ErrTableNotFound        = errors.New("table not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidWalletPayload = errors.New("invalid wallet payload")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrInvalidReportScope   = errors.New("invalid report scope")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidUserStatus    = errors.New("invalid user status")
	ErrUserBanned           = errors.New("user banned")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrPhaseClosed, "phase_closed"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInvalidBet, "invalid_bet"},
	{ErrBetOutOfRange, "bet_out_of_range"},
	{ErrCommissionModeConflict, "commission_mode_conflict"},
	{ErrNoBetsToClear, "no_bets"},
	{ErrTableNotFound, "table_not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidWalletPayload, "invalid_wallet_payload"},
	{ErrWalletNotFound, "wallet_not_found"},
	{ErrInvalidReportScope, "invalid_report_scope"},
	{ErrUserNotFound, "user_not_found"},
	{ErrInvalidUserStatus, "invalid_user_status"},
	{ErrUserBanned, "user_banned"},
}

// Code maps an error to the stable code sent to clients. Timing rejections
// get their own code so clients can tell them from validation failures.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
