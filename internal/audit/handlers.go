package audit

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/db"
)

// Handler exposes the audit trail to administrators.
type Handler struct {
	Store Store
	Log   zerolog.Logger
}

// List handles GET /api/v1/admin/audit-logs.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "audit store not configured", nil)
		return
	}
	page, limit := common.ParsePagination(r, 50, 200)
	rows, err := h.Store.ListAuditLogs(r.Context(), db.ListAuditLogsParams{
		Limit:  int32(limit),
		Offset: int32(common.Offset(page, limit)),
	})
	if err != nil {
		h.Log.Error().Err(err).Msg("list audit logs")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to fetch audit logs", nil)
		return
	}
	views := make([]View, 0, len(rows))
	for _, row := range rows {
		views = append(views, ToView(row))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": common.Pagination{Page: page, PerPage: limit},
	})
}
