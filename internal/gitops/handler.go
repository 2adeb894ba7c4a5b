package gitops

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/infraweave-io/infraweave/internal/api/types"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"github.com/infraweave-io/infraweave/pkg/logger"
	"go.uber.org/zap"
)

// Handler exposes the Ingester as an HTTP endpoint for a GitHub-style
// webhook, following the same types.APIResponse envelope the rest of
// the HTTP surface uses.
type Handler struct {
	ingester *Ingester
}

// NewHandler wraps an Ingester as an http.Handler-compatible method set.
func NewHandler(ingester *Ingester) *Handler {
	return &Handler{ingester: ingester}
}

// Webhook handles POST /webhooks/gitops?project=<project>. The project
// query parameter is used as given (empty means derived from the
// repository name); the webhook signature is the only check made.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 5<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, appErr.KindMalformed, "malformed webhook body")
		return
	}

	if err := h.ingester.VerifySignature(body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		writeError(w, http.StatusUnauthorized, appErr.KindUnauthenticated, "invalid webhook signature")
		return
	}

	event, err := DecodePushEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, appErr.KindMalformed, "malformed push event")
		return
	}

	project := r.URL.Query().Get("project")
	processed, err := h.ingester.Process(r.Context(), event, project)
	if err != nil {
		logger.L().Error("gitops webhook processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, appErr.KindInternal, "webhook processing failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.APIResponse{
		Success: true,
		Data:    map[string]int{"manifests_processed": processed},
	})
}

func writeError(w http.ResponseWriter, status int, kind appErr.Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.APIResponse{
		Success: false,
		Error:   &types.APIError{Code: string(kind), Message: message},
	})
}
