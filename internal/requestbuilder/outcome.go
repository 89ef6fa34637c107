package requestbuilder

import "net/http"

// Outcome classifies the result of executing a built request so the
// dispatch handlers know whether to latch success, retry, or give up.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomePermanent Outcome = "permanent"
)

// transientStatuses are the non-2xx codes worth retrying: request
// timeout, too-early, rate-limited, and the 5xx codes that typically
// indicate a transient upstream condition rather than a malformed
// request.
var transientStatuses = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooEarly:            true, // 425
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// Classify maps a completed HTTP round trip (or its transport error) to
// an Outcome: a transport-level error (timeout, connection refused, proxy
// failure) is transient and worth retrying; any 2xx response is success;
// every other non-success status is permanent except the fixed set of
// transient codes above, since retrying an identical request against a
// misconfigured/rejecting endpoint otherwise cannot succeed.
func Classify(resp *http.Response, err error) Outcome {
	if err != nil {
		return OutcomeTransient
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OutcomeSuccess
	case transientStatuses[resp.StatusCode]:
		return OutcomeTransient
	default:
		return OutcomePermanent
	}
}
