package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const auditColumns = `id, actor_user_id, action, resource_type, resource_id, method, path, status, ip, request_id, metadata, created_at`

func auditFields(i *AuditLog) []any {
	return []any{
		&i.ID, &i.ActorUserID, &i.Action, &i.ResourceType, &i.ResourceID, &i.Method,
		&i.Path, &i.Status, &i.Ip, &i.RequestID, &i.Metadata, &i.CreatedAt,
	}
}

const insertAuditLog = `INSERT INTO audit_logs (actor_user_id, action, resource_type, resource_id, method, path, status, ip, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + auditColumns

type InsertAuditLogParams struct {
	ActorUserID  pgtype.UUID
	Action       string
	ResourceType string
	ResourceID   pgtype.Text
	Method       string
	Path         string
	Status       int32
	Ip           pgtype.Text
	RequestID    pgtype.Text
	Metadata     []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (AuditLog, error) {
	var i AuditLog
	err := q.db.QueryRow(ctx, insertAuditLog,
		arg.ActorUserID, arg.Action, arg.ResourceType, arg.ResourceID, arg.Method,
		arg.Path, arg.Status, arg.Ip, arg.RequestID, arg.Metadata,
	).Scan(auditFields(&i)...)
	return i, err
}

const listAuditLogs = `SELECT ` + auditColumns + ` FROM audit_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`

type ListAuditLogsParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListAuditLogs(ctx context.Context, arg ListAuditLogsParams) ([]AuditLog, error) {
	rows, err := q.db.Query(ctx, listAuditLogs, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AuditLog
	for rows.Next() {
		var i AuditLog
		if err := rows.Scan(auditFields(&i)...); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
