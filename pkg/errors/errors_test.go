package errors_test

import (
	"fmt"
	"testing"

	appErr "table-service/pkg/errors"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{appErr.ErrPhaseClosed, "phase_closed"},
		{fmt.Errorf("%w: player above maximum 500", appErr.ErrBetOutOfRange), "bet_out_of_range"},
		{fmt.Errorf("wrapped twice: %w", fmt.Errorf("%w: x", appErr.ErrInvalidBet)), "invalid_bet"},
		{appErr.ErrUserBanned, "user_banned"},
		{appErr.ErrInvariantViolation, "internal"},
		{fmt.Errorf("db down"), "internal"},
	}
	for _, tc := range cases {
		if got := appErr.Code(tc.err); got != tc.want {
			t.Errorf("Code(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
