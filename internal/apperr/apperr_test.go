package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error", errors.New("boom"), Internal},
		{"direct", New(NotFound, "stock not found"), NotFound},
		{"wrapped by fmt", fmt.Errorf("buy: %w", New(InsufficientFunds, "insufficient balance")), InsufficientFunds},
		{"nil", nil, Internal},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("add: %w", New(Duplicate, "stock already in watchlist"))
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("errors.Is(%v, ErrDuplicate) = false, want true", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(%v, ErrNotFound) = true, want false", err)
	}
}

func TestMessageOfHidesInternalDetail(t *testing.T) {
	cause := errors.New("connection refused on 10.0.0.3:27017")
	err := Internalf(cause, "load account %s", "abc")

	if got := MessageOf(err); got != "internal server error" {
		t.Errorf("MessageOf(internal) = %q, want generic message", got)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause is not reachable through Unwrap")
	}
	if got := MessageOf(New(Validation, "invalid quantity")); got != "invalid quantity" {
		t.Errorf("MessageOf(validation) = %q, want %q", got, "invalid quantity")
	}
}
