package gateway

import (
	"fmt"

	"github.com/go-resty/resty/v2"
)

// maxErrorBody caps the upstream body kept for diagnostics.
const maxErrorBody = 2048

// UpstreamError is a gateway failure: transport error, non-2xx status, malformed
// JSON or an explicit refusal. StatusCode is 0 when no response was received.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("gateway %s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func upstream(resp *resty.Response, op string, err error) *UpstreamError {
	body := string(resp.Body())
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &UpstreamError{Op: op, StatusCode: resp.StatusCode(), Body: body, Err: err}
}
