package middleware

import (
	"net/http"
	"time"

	"github.com/kubev2v/texbatch/pkg/requestid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Logger returns a RoundTripper that logs outgoing requests using zap.
// It logs request start at debug level, then the outcome with status and
// latency at a level depending on the status.
func Logger(next http.RoundTripper) http.RoundTripper {
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		log := zap.S().Named("http").Desugar()
		start := time.Now()
		requestID := requestid.FromContext(r.Context())

		log.Debug("Request started",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("host", r.URL.Host),
			zap.String("path", r.URL.Path),
		)

		resp, err := next.RoundTrip(r)
		latency := time.Since(start)

		if err != nil {
			log.Error("Request failed",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("latency", latency),
				zap.Error(err),
			)
			return resp, err
		}

		endFields := []zapcore.Field{
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", latency),
			zap.Int64("response_bytes", resp.ContentLength),
		}

		msg := "Request completed"
		switch {
		case resp.StatusCode >= 500:
			log.Error(msg, endFields...)
		case resp.StatusCode >= 400:
			log.Warn(msg, endFields...)
		default:
			log.Debug(msg, endFields...)
		}
		return resp, nil
	})
}
