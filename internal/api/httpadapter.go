package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/infraweave-io/infraweave/internal/router"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

// dispatch decodes an envelope's payload from body/path/query and routes
// it through rt, writing the {ok, data?, error?} response body per
// spec.md §6. HTTP and direct-invocation adapters share this one
// dispatch path, per spec.md §9's decision to keep a single handler for
// both transports.
func dispatch(rt *router.Router, event string, payload map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := router.BearerToken(r.Header.Get("Authorization"))
		merged := mergePayload(payload, pathParams(r), queryParams(r))
		if r.Body != nil && r.ContentLength != 0 {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				merged = mergePayload(merged, body)
			}
		}
		resp := rt.Dispatch(r.Context(), router.Envelope{Event: event, Payload: merged}, token)
		writeResponse(w, resp)
	}
}

// dispatchEnvelope handles the generic POST /api/v1/dispatch route used
// by adapters (CLI, MCP) that submit a full {event, payload} envelope in
// the request body.
func dispatchEnvelope(rt *router.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeResponse(w, router.Response{OK: false, Error: &router.ResponseError{
				Kind: string(appErr.KindMalformed), Message: "unreadable request body",
			}})
			return
		}
		var env router.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			writeResponse(w, router.Response{OK: false, Error: &router.ResponseError{
				Kind: string(appErr.KindMalformed), Message: "malformed envelope",
			}})
			return
		}
		token := router.BearerToken(r.Header.Get("Authorization"))
		resp := rt.Dispatch(r.Context(), env, token)
		writeResponse(w, resp)
	}
}

// issueToken backs POST /auth/token for the static-HMAC deployment mode:
// it mints a token signed with the same key the Authenticator validates
// against, for callers with no external IdP in front of them (CLI
// service accounts, CI runners). Unavailable when the control plane is
// configured for OIDC/JWKS verification, since there is no local key to
// sign with in that mode — auth.IssueToken reports that as an error.
func issueToken(auth *router.Authenticator) http.HandlerFunc {
	type request struct {
		Subject    string   `json:"subject"`
		Projects   []string `json:"projects"`
		TTLSeconds int      `json:"ttl_seconds"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" {
			writeResponse(w, router.Response{OK: false, Error: &router.ResponseError{
				Kind: string(appErr.KindMalformed), Message: "subject is required",
			}})
			return
		}
		ttl := time.Hour
		if req.TTLSeconds > 0 {
			ttl = time.Duration(req.TTLSeconds) * time.Second
		}
		token, err := auth.IssueToken(req.Subject, req.Projects, ttl)
		if err != nil {
			writeResponse(w, router.Response{OK: false, Error: &router.ResponseError{
				Kind: string(appErr.KindOf(err)), Message: appErr.Sanitize(err),
			}})
			return
		}
		writeResponse(w, router.Response{OK: true, Data: map[string]string{"token": token}})
	}
}

func pathParams(r *http.Request) map[string]any {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	out := make(map[string]any, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		out[key] = rctx.URLParams.Values[i]
	}
	return out
}

func queryParams(r *http.Request) map[string]any {
	q := r.URL.Query()
	out := make(map[string]any, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

func mergePayload(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

func writeResponse(w http.ResponseWriter, resp router.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForResponse(resp))
	_ = json.NewEncoder(w).Encode(resp)
}

func statusForResponse(resp router.Response) int {
	if resp.OK {
		return http.StatusOK
	}
	if resp.Error == nil {
		return http.StatusInternalServerError
	}
	switch appErr.Kind(resp.Error.Kind) {
	case appErr.KindMalformed, appErr.KindMissingRequired, appErr.KindTypeMismatch,
		appErr.KindConstraintViolation, appErr.KindUnresolvedDependency, appErr.KindCyclicDependency,
		appErr.KindProviderConflict, appErr.KindUnknownVariable:
		return http.StatusBadRequest
	case appErr.KindUnauthenticated, appErr.KindInvalidToken:
		return http.StatusUnauthorized
	case appErr.KindForbidden, appErr.KindPermissionDenied:
		return http.StatusForbidden
	case appErr.KindNotFound:
		return http.StatusNotFound
	case appErr.KindAlreadyExists, appErr.KindConflict:
		return http.StatusConflict
	case appErr.KindBusy:
		return http.StatusTooManyRequests
	case appErr.KindTimeout:
		return http.StatusGatewayTimeout
	case appErr.KindTransient, appErr.KindQuotaExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
