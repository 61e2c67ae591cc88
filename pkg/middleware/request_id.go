package middleware

import (
	"net/http"

	"github.com/kubev2v/texbatch/pkg/requestid"
)

// RequestID returns a RoundTripper that sends the request ID found in the
// request context, or a fresh one, in the X-Request-Id header. The ID is
// put back in the context so later round trippers log the same value.
func RequestID(next http.RoundTripper) http.RoundTripper {
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		requestID := r.Header.Get(requestid.Header)
		if requestID == "" {
			requestID = requestid.FromContextOrNew(r.Context())
		}

		r = r.Clone(requestid.ToContext(r.Context(), requestID))
		r.Header.Set(requestid.Header, requestID)

		return next.RoundTrip(r)
	})
}
