// Package middleware provides HTTP middlewares for client identity and logging.
package middleware

import (
	"context"
	"net/http"
)

type ctxKey string

const actorKey ctxKey = "actor"

// Anonymous is the actor recorded for requests without a client certificate.
const Anonymous = "anonymous"

// ClientIdentity stores the caller's identity in the request context. The
// identity is the Common Name of the verified client certificate, or
// Anonymous when the request carries none.
func ClientIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := Anonymous
		if cn := peerCommonName(r); cn != "" {
			actor = cn
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireClientCert rejects requests that did not present a client
// certificate with a non-empty Common Name.
func RequireClientCert(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if peerCommonName(r) == "" {
			http.Error(w, "no client certificate provided", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetActorFromContext extracts the caller identity stored by ClientIdentity.
// Returns Anonymous if not found.
func GetActorFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(actorKey).(string); ok && s != "" {
		return s
	}
	return Anonymous
}

func peerCommonName(r *http.Request) string {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return ""
	}
	return r.TLS.PeerCertificates[0].Subject.CommonName
}
