package cogerror

import (
	"fmt"
	"net/http"
	"testing"
)

func TestIsAndOf(t *testing.T) {
	err := NotFound("session %s", "ses_1")
	if !Is(err, KindNotFound) {
		t.Errorf("expected KindNotFound")
	}
	if Of(err) != KindNotFound {
		t.Errorf("Of() = %v, want KindNotFound", Of(err))
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !Is(wrapped, KindNotFound) {
		t.Errorf("Is() must see through fmt.Errorf wrapping")
	}
}

func TestOfDefaultsToInternal(t *testing.T) {
	if Of(fmt.Errorf("plain error")) != KindInternal {
		t.Errorf("plain errors must map to KindInternal")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:          http.StatusNotFound,
		KindAlreadyExists:     http.StatusConflict,
		KindForbidden:         http.StatusForbidden,
		KindRateLimited:       http.StatusTooManyRequests,
		KindResourceExhausted: http.StatusTooManyRequests,
		KindConflict:          http.StatusConflict,
		KindUnavailable:       http.StatusServiceUnavailable,
		KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		got := HTTPStatus(New(kind, "x"))
		if got != want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestRateLimitedDetails(t *testing.T) {
	err := RateLimited("session:abc", 60, 60)
	if err.Details["resource"] != "session:abc" {
		t.Errorf("missing resource detail: %+v", err.Details)
	}
	if err.Details["limit"] != 60 {
		t.Errorf("missing limit detail: %+v", err.Details)
	}
}

func TestToEnvelope(t *testing.T) {
	env := ToEnvelope(Forbidden("missing scope headers"))
	if env.Error.Code != "forbidden" {
		t.Errorf("code = %s, want forbidden", env.Error.Code)
	}
	if env.Error.Message != "missing scope headers" {
		t.Errorf("message = %s", env.Error.Message)
	}
}
