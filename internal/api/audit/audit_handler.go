package audit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rfcarvalho/aegis/internal/api"
)

// AuditHandler serves the audit trail to administrators.
type AuditHandler struct {
	auditService AuditService
	logger       *slog.Logger
}

func NewAuditHandler(auditService AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		auditService: auditService,
		logger:       logger,
	}
}

// ListAuditLogs returns one page of the audit trail. Query params: page
// (1-indexed), limit, action (exact match filter).
func (h *AuditHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	action := q.Get("action")

	result, err := h.auditService.Query(r.Context(), action, page, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Audit query failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to load audit logs")
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, result)
}
