package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-fotoko/internal/common"
	"github.com/noah-isme/backend-fotoko/internal/db"
	"github.com/noah-isme/backend-fotoko/internal/obs"
)

// Store persists and lists audit entries.
type Store interface {
	InsertAuditLog(ctx context.Context, arg db.InsertAuditLogParams) (db.AuditLog, error)
	ListAuditLogs(ctx context.Context, arg db.ListAuditLogsParams) ([]db.AuditLog, error)
}

// Entry describes one audited admin action.
type Entry struct {
	Action       string
	ResourceType string
	ResourceID   string
	Status       int
	Metadata     map[string]any
}

// Service records admin writes so catalog, coupon and order changes can be
// traced back to an operator.
type Service struct {
	Store   Store
	Enabled bool
}

// Record persists e for the request that produced it.
func (s Service) Record(ctx context.Context, req *http.Request, e Entry) error {
	if !s.Enabled {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = req.URL.Path
	}
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	var actor pgtype.UUID
	if uid, ok := common.UserID(req.Context()); ok {
		actor, _ = db.ParseUUID(uid)
	}

	_, err := s.Store.InsertAuditLog(ctx, db.InsertAuditLogParams{
		ActorUserID:  actor,
		Action:       valueOr(e.Action, req.Method+" "+route),
		ResourceType: valueOr(e.ResourceType, resourceFromRoute(route)),
		ResourceID:   text(e.ResourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Status:       int32(status),
		Ip:           text(common.ClientIP(req)),
		RequestID:    text(requestID(req)),
		Metadata:     metadata(e.Metadata, req.URL.RawQuery),
	})
	return err
}

// View is the JSON shape of an audit entry.
type View struct {
	ID           string          `json:"id"`
	ActorUserID  string          `json:"actorUserId,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int32           `json:"status"`
	IP           string          `json:"ip,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ToView converts a stored row.
func ToView(l db.AuditLog) View {
	return View{
		ID:           db.UUIDString(l.ID),
		ActorUserID:  db.UUIDString(l.ActorUserID),
		Action:       l.Action,
		ResourceType: l.ResourceType,
		ResourceID:   l.ResourceID.String,
		Method:       l.Method,
		Path:         l.Path,
		Status:       l.Status,
		IP:           l.Ip.String,
		RequestID:    l.RequestID.String,
		Metadata:     json.RawMessage(l.Metadata),
		CreatedAt:    l.CreatedAt.Time,
	}
}

// resourceFromRoute turns /api/v1/admin/events/{id} into "admin.events".
func resourceFromRoute(route string) string {
	var parts []string
	for _, seg := range strings.Split(strings.Trim(route, "/"), "/") {
		if seg == "" || strings.HasPrefix(seg, "{") {
			continue
		}
		parts = append(parts, seg)
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "v1" {
		parts = parts[2:]
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ".")
}

func requestID(req *http.Request) string {
	if id := middleware.GetReqID(req.Context()); id != "" {
		return id
	}
	return req.Header.Get(middleware.RequestIDHeader)
}

func metadata(m map[string]any, query string) []byte {
	if len(m) == 0 && strings.TrimSpace(query) == "" {
		return nil
	}
	payload := make(map[string]any, len(m)+1)
	for k, v := range m {
		payload[k] = v
	}
	if strings.TrimSpace(query) != "" {
		payload["query"] = query
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

func text(v string) pgtype.Text {
	v = strings.TrimSpace(v)
	if v == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}
