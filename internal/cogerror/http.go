package cogerror

import "net/http"

// httpStatus maps each Kind to the HTTP status code used by both the JSON
// error envelope and, for turn-prelude failures, the response that aborts
// before any SSE stream opens.
var httpStatus = map[Kind]int{
	KindInternal:          http.StatusInternalServerError,
	KindNotFound:          http.StatusNotFound,
	KindAlreadyExists:     http.StatusConflict,
	KindForbidden:         http.StatusForbidden,
	KindResourceExhausted: http.StatusTooManyRequests,
	KindRateLimited:       http.StatusTooManyRequests,
	KindConflict:          http.StatusConflict,
	KindCancelled:         http.StatusBadRequest,
	KindUnavailable:       http.StatusServiceUnavailable,
}

// HTTPStatus returns the status code for err's Kind, defaulting to 500.
func HTTPStatus(err error) int {
	status, ok := httpStatus[Of(err)]
	if !ok {
		return http.StatusInternalServerError
	}
	return status
}

// Envelope is the JSON shape returned for every HTTP error. SSE "error"
// events do not use it; their data field carries types.ErrorPayload.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToEnvelope converts err into the shared wire envelope.
func ToEnvelope(err error) Envelope {
	var e *Error
	if !asError(err, &e) {
		return Envelope{Error: EnvelopeBody{
			Code:    KindInternal.String(),
			Message: err.Error(),
		}}
	}
	return Envelope{Error: EnvelopeBody{
		Code:    e.Kind.String(),
		Message: e.Message,
		Details: e.Details,
	}}
}
