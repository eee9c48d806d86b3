package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestIsRetryableError(t *testing.T) {
	var jsonErr error = &json.SyntaxError{}

	cases := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{"nil", nil, false, ""},
		{"json syntax", jsonErr, false, "json_decode_error"},
		{"no rows", pgx.ErrNoRows, false, "row_not_found"},
		{"wrapped no rows", fmt.Errorf("query: %w", pgx.ErrNoRows), false, "row_not_found"},
		{"duplicate key", errors.New(`duplicate key value violates unique constraint`), false, "duplicate_key"},
		{"db connection", errors.New("failed to connect: connection refused"), true, "db_connection_error"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"unknown", errors.New("something odd"), false, "unknown_error"},
	}

	for _, tc := range cases {
		retryable, errType := IsRetryableError(tc.err)
		if retryable != tc.retryable || errType != tc.errType {
			t.Errorf("%s: got (%v, %s), want (%v, %s)", tc.name, retryable, errType, tc.retryable, tc.errType)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	if ShouldRetry(1, 5, false) {
		t.Error("non-retryable errors must never retry")
	}
	if !ShouldRetry(3, 5, true) {
		t.Error("under the budget a retryable error retries")
	}
	if ShouldRetry(6, 5, true) {
		t.Error("over the budget retries stop")
	}
}
