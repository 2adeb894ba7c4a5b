// Package router implements spec.md §4.6's uniform request envelope:
// every adapter (HTTP, CLI, direct invocation) builds an Envelope and
// calls Dispatch, which authenticates, resolves the target project
// scope, and routes to the handler bound to Envelope.Event. Grounded on
// internal/api/router.go's chi-based HTTP router, generalized from a
// fixed set of REST routes to a single event-keyed dispatch table so
// every adapter that dispatches an envelope falls through one code path
// per spec.md §9's "single handler, both transports" decision. The GitOps
// ingester does not use it: it enqueues run_claim tasks directly.
package router

import (
	"context"
	"encoding/json"

	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

// Envelope is the uniform request shape every adapter builds.
type Envelope struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Response is the uniform reply shape, mirroring spec.md §6's
// `{ ok, data?, error? }` contract.
type Response struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data,omitempty"`
	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError carries a machine-readable kind alongside the message.
type ResponseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Handler processes one authenticated envelope and returns its payload
// or an error.
type Handler func(ctx context.Context, req *Request) (any, error)

// Request carries an authenticated envelope's payload and the resolved
// caller identity through to a Handler.
type Request struct {
	Payload map[string]any
	Caller  Identity
}

// Field reads a string field from the payload, returning "" if absent
// or not a string.
func (r *Request) Field(name string) string {
	v, _ := r.Payload[name].(string)
	return v
}

// RawField returns a payload field's raw value for handler-specific decoding.
func (r *Request) RawField(name string) any {
	return r.Payload[name]
}

// Decode re-marshals the payload into out, letting handlers reuse
// struct-tagged types instead of hand-walking the map.
func (r *Request) Decode(out any) error {
	raw, err := json.Marshal(r.Payload)
	if err != nil {
		return appErr.Wrap(err, appErr.KindMalformed, "re-encoding payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return appErr.Wrap(err, appErr.KindMalformed, "decoding payload")
	}
	return nil
}

// Router dispatches authenticated envelopes to registered handlers.
type Router struct {
	authenticator *Authenticator
	handlers      map[string]Handler
	// projectField names the payload key carrying the target project,
	// consulted for the per-request project-scope check.
	projectField string
}

// New constructs a Router. If authenticator is nil, every request is
// treated as authenticated with an empty Identity — for callers that
// have already verified the request themselves.
func New(authenticator *Authenticator) *Router {
	return &Router{authenticator: authenticator, handlers: make(map[string]Handler), projectField: "project"}
}

// Register binds a Handler to an event name.
func (rt *Router) Register(event string, h Handler) {
	rt.handlers[event] = h
}

// Dispatch authenticates token (if the router has an authenticator),
// resolves and authorizes the envelope's project scope, and invokes the
// bound handler. token may be empty when dev-mode auth is disabled.
func (rt *Router) Dispatch(ctx context.Context, env Envelope, token string) Response {
	handler, ok := rt.handlers[env.Event]
	if !ok {
		return errorResponse(appErr.New(appErr.KindNotFound, "unknown event: "+env.Event))
	}

	var identity Identity
	if rt.authenticator != nil {
		id, err := rt.authenticator.Authenticate(token)
		if err != nil {
			return errorResponse(err)
		}
		identity = id

		if project, ok := env.Payload[rt.projectField].(string); ok && project != "" {
			if !identity.CanAccessProject(project) {
				return errorResponse(appErr.New(appErr.KindForbidden, "caller cannot access project "+project))
			}
		}
	}

	data, err := handler(ctx, &Request{Payload: env.Payload, Caller: identity})
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Data: data}
}

func errorResponse(err error) Response {
	return Response{
		OK: false,
		Error: &ResponseError{
			Kind:    string(appErr.KindOf(err)),
			Message: appErr.Sanitize(err),
		},
	}
}
