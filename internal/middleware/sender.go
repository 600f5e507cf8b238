package middleware

import (
	"context"
	"net/http"
)

// HeaderSenderID identifies the agent or service posting to /recv.
const HeaderSenderID = "x-sender-id"

type senderKey struct{}

// RequireSender rejects requests without an x-sender-id header and stores
// the sender in the request context.
func RequireSender(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sender := r.Header.Get(HeaderSenderID)
		if sender == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"missing x-sender-id header"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), senderKey{}, sender)))
	})
}

// Sender returns the sender id stored by RequireSender, or "".
func Sender(ctx context.Context) string {
	s, _ := ctx.Value(senderKey{}).(string)
	return s
}
