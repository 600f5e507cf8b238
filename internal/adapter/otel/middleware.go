package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// untracedPaths are polled or long-lived and would only add noise.
var untracedPaths = map[string]bool{
	"/health": true,
	"/ws":     true,
}

// HTTPMiddleware starts a server span per API request. The span carries the
// sending agent when the request has an x-sender-id header.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sender := r.Header.Get("x-sender-id"); sender != "" {
				trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("conductor.sender", sender))
			}
			next.ServeHTTP(w, r)
		})
		return otelhttp.NewHandler(tagged, serviceName,
			otelhttp.WithFilter(func(r *http.Request) bool { return !untracedPaths[r.URL.Path] }),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}
