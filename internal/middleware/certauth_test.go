package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"testing"
)

// dummyHandler is a placeholder that records if it was called and the context it received.
type dummyHandler struct {
	called bool
	ctx    context.Context
}

func (d *dummyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.called = true
	d.ctx = r.Context()
	w.WriteHeader(http.StatusOK)
}

func withPeer(req *http.Request, cn string) *http.Request {
	cert := &x509.Certificate{Subject: pkix.Name{CommonName: cn}}
	req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	return req
}

func TestClientIdentity_Anonymous(t *testing.T) {
	dummy := &dummyHandler{}
	h := ClientIdentity(dummy)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/embed", nil)
	h.ServeHTTP(rec, req)

	if !dummy.called {
		t.Fatal("expected next handler to be called")
	}
	if actor := GetActorFromContext(dummy.ctx); actor != Anonymous {
		t.Errorf("expected %q, got %q", Anonymous, actor)
	}
}

func TestClientIdentity_Certificate(t *testing.T) {
	dummy := &dummyHandler{}
	h := ClientIdentity(dummy)
	rec := httptest.NewRecorder()
	req := withPeer(httptest.NewRequest("POST", "/api/embed", nil), "alice")
	h.ServeHTTP(rec, req)

	if actor := GetActorFromContext(dummy.ctx); actor != "alice" {
		t.Errorf("expected context actor 'alice', got '%s'", actor)
	}
}

func TestRequireClientCert(t *testing.T) {
	dummy := &dummyHandler{}
	h := RequireClientCert(dummy)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history", nil))

	if dummy.called {
		t.Error("did not expect next handler to be called when no certificate provided")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 Unauthorized, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withPeer(httptest.NewRequest("GET", "/api/history", nil), "bob"))
	if !dummy.called {
		t.Error("expected next handler to be called when valid certificate provided")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 OK, got %d", rec.Code)
	}
}

func TestGetActorFromContext(t *testing.T) {
	if got := GetActorFromContext(context.Background()); got != Anonymous {
		t.Errorf("expected %q for missing actor, got '%s'", Anonymous, got)
	}
	ctx := context.WithValue(context.Background(), actorKey, "bob")
	if got := GetActorFromContext(ctx); got != "bob" {
		t.Errorf("expected 'bob', got '%s'", got)
	}
}
