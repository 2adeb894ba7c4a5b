package router

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestDispatchReturnsNotFoundForUnknownEvent(t *testing.T) {
	rt := New(nil)
	resp := rt.Dispatch(context.Background(), Envelope{Event: "does_not_exist"}, "")
	if resp.OK {
		t.Fatal("expected unknown event to fail")
	}
	if resp.Error == nil || resp.Error.Kind != "not_found" {
		t.Fatalf("expected not_found kind, got %+v", resp.Error)
	}
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	rt := New(nil)
	rt.Register("ping", func(ctx context.Context, req *Request) (any, error) {
		return map[string]string{"pong": req.Field("name")}, nil
	})
	resp := rt.Dispatch(context.Background(), Envelope{Event: "ping", Payload: map[string]any{"name": "alice"}}, "")
	if !resp.OK {
		t.Fatalf("expected success, got error %+v", resp.Error)
	}
	data, ok := resp.Data.(map[string]string)
	if !ok || data["pong"] != "alice" {
		t.Fatalf("unexpected response data: %+v", resp.Data)
	}
}

func signHMAC(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return s
}

func TestDispatchDeniesMissingToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSigningKey: "secret", Audience: "infraweave"})
	rt := New(auth)
	rt.Register("noop", func(ctx context.Context, req *Request) (any, error) { return "ok", nil })

	resp := rt.Dispatch(context.Background(), Envelope{Event: "noop"}, "")
	if resp.OK {
		t.Fatal("expected missing token to be rejected")
	}
	if resp.Error.Kind != "unauthenticated" {
		t.Fatalf("expected unauthenticated kind, got %+v", resp.Error)
	}
}

func TestDispatchDeniesProjectOutsideTokenClaim(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSigningKey: "secret", Audience: "infraweave"})
	rt := New(auth)
	rt.Register("get_deployment", func(ctx context.Context, req *Request) (any, error) { return "ok", nil })

	token := signHMAC(t, "secret", jwt.MapClaims{
		"sub":                  "alice",
		"aud":                  "infraweave",
		"exp":                  time.Now().Add(time.Hour).Unix(),
		"infraweave-projects": []string{"acme"},
	})

	resp := rt.Dispatch(context.Background(), Envelope{
		Event:   "get_deployment",
		Payload: map[string]any{"project": "other-project"},
	}, token)
	if resp.OK {
		t.Fatal("expected out-of-scope project to be denied")
	}
	if resp.Error.Kind != "forbidden" {
		t.Fatalf("expected forbidden kind, got %+v", resp.Error)
	}
}

func TestDispatchAllowsProjectWithinTokenClaim(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSigningKey: "secret", Audience: "infraweave"})
	rt := New(auth)
	rt.Register("get_deployment", func(ctx context.Context, req *Request) (any, error) {
		return map[string]string{"caller": req.Caller.Subject}, nil
	})

	token := signHMAC(t, "secret", jwt.MapClaims{
		"sub":                  "alice",
		"aud":                  "infraweave",
		"exp":                  time.Now().Add(time.Hour).Unix(),
		"infraweave-projects": []string{"acme"},
	})

	resp := rt.Dispatch(context.Background(), Envelope{
		Event:   "get_deployment",
		Payload: map[string]any{"project": "acme"},
	}, token)
	if !resp.OK {
		t.Fatalf("expected success, got error %+v", resp.Error)
	}
}

func TestBearerTokenExtractsRawToken(t *testing.T) {
	if got := BearerToken("Bearer abc123"); got != "abc123" {
		t.Fatalf("expected 'abc123', got %q", got)
	}
	if got := BearerToken("Basic xyz"); got != "" {
		t.Fatalf("expected empty string for non-bearer header, got %q", got)
	}
}

func TestExtractProjectsHandlesArrayAndStringForms(t *testing.T) {
	if got := extractProjects([]any{"a", "b"}); len(got) != 2 {
		t.Fatalf("expected 2 projects, got %v", got)
	}
	if got := extractProjects("solo"); len(got) != 1 || got[0] != "solo" {
		t.Fatalf("expected single-element slice, got %v", got)
	}
	if got := extractProjects(nil); got != nil {
		t.Fatalf("expected nil for unrecognized shape, got %v", got)
	}
}

func TestIssueTokenRequiresStaticSigningKey(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{JWKSURL: "https://issuer.example/jwks.json"})
	_, err := auth.IssueToken("svc-account", []string{"acme"}, time.Hour)
	if err == nil {
		t.Fatal("expected token issuance to fail without a static HMAC key")
	}
}

func TestIssueTokenProducesTokenTheAuthenticatorAccepts(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSigningKey: "secret", Audience: "infraweave"})
	token, err := auth.IssueToken("svc-account", []string{"acme"}, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	identity, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("issued token failed authentication: %v", err)
	}
	if identity.Subject != "svc-account" || !identity.CanAccessProject("acme") {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}
