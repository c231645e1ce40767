package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/edgegate/edgegate/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostgresAuditRepo is the local alternative to the edge-function audit
// backend, selected by config when a DSN is present. Same interface, direct
// table access.
type PostgresAuditRepo struct {
	db *sqlx.DB
}

func NewPostgresAuditRepo(db *sqlx.DB) *PostgresAuditRepo {
	repo := &PostgresAuditRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresAuditRepo) BulkInsert(ctx context.Context, entries []*model.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO audit_logs (
			id, action, resource, resource_id, severity, success, error,
			correlation_id, metadata, tenant_id, user_id, user_email,
			session_id, ip_address, user_agent, all_tenant_ids,
			is_super_admin, is_tenant_admin, created_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,
			$8,$9,$10,$11,$12,
			$13,$14,$15,$16,
			$17,$18,$19
		)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		metadataJSON, _ := json.Marshal(e.Metadata)
		tenantsJSON, _ := json.Marshal(e.AllTenantIDs)
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Action, e.Resource, e.ResourceID, string(e.Severity), e.Success, e.Error,
			e.CorrelationID, metadataJSON, e.TenantID, e.UserID, e.UserEmail,
			e.SessionID, e.IPAddress, e.UserAgent, tenantsJSON,
			e.IsSuperAdmin, e.IsTenantAdmin, e.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresAuditRepo) Query(ctx context.Context, filters model.AuditQueryFilters, _ string) (*model.AuditQueryResult, error) {
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	add := func(clause string, value interface{}) {
		clauses = append(clauses, fmt.Sprintf(clause, idx))
		args = append(args, value)
		idx++
	}

	if filters.TenantID != "" {
		add("tenant_id = $%d", filters.TenantID)
	}
	if filters.UserID != "" {
		add("user_id = $%d", filters.UserID)
	}
	if filters.Action != "" {
		add("action = $%d", filters.Action)
	}
	if filters.Resource != "" {
		add("resource = $%d", filters.Resource)
	}
	if filters.Severity != "" {
		add("severity = $%d", string(filters.Severity))
	}
	if filters.Success != nil {
		add("success = $%d", *filters.Success)
	}
	if filters.CorrelationID != "" {
		add("correlation_id = $%d", filters.CorrelationID)
	}
	if filters.From != nil {
		add("created_at >= $%d", *filters.From)
	}
	if filters.To != nil {
		add("created_at <= $%d", *filters.To)
	}
	if filters.Search != "" {
		clauses = append(clauses, fmt.Sprintf(
			"(action ILIKE $%d OR resource ILIKE $%d OR error ILIKE $%d)", idx, idx, idx))
		args = append(args, "%"+filters.Search+"%")
		idx++
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_logs"+where, args...); err != nil {
		return nil, err
	}

	orderBy := "created_at"
	switch filters.OrderBy {
	case "action", "severity", "tenant_id":
		orderBy = filters.OrderBy
	}
	direction := "DESC"
	if filters.Ascending {
		direction = "ASC"
	}
	limit := filters.Limit
	if limit <= 0 || limit > 10000 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, action, resource, resource_id, severity, success, error,
		       correlation_id, metadata, tenant_id, user_id, user_email,
		       session_id, ip_address, user_agent, all_tenant_ids,
		       is_super_admin, is_tenant_admin, created_at
		FROM audit_logs%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, orderBy, direction, idx, idx+1)
	args = append(args, limit, filters.Offset)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*model.AuditLogEntry, 0, limit)
	for rows.Next() {
		var e model.AuditLogEntry
		var severity string
		var metadataJSON []byte
		var tenantsJSON []byte
		if err := rows.Scan(
			&e.ID, &e.Action, &e.Resource, &e.ResourceID, &severity, &e.Success, &e.Error,
			&e.CorrelationID, &metadataJSON, &e.TenantID, &e.UserID, &e.UserEmail,
			&e.SessionID, &e.IPAddress, &e.UserAgent, &tenantsJSON,
			&e.IsSuperAdmin, &e.IsTenantAdmin, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Severity = model.Severity(severity)
		if len(tenantsJSON) > 0 {
			_ = json.Unmarshal(tenantsJSON, &e.AllTenantIDs)
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &e.Metadata)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &model.AuditQueryResult{Entries: entries, Total: total}, nil
}

func (r *PostgresAuditRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			resource TEXT,
			resource_id TEXT,
			severity TEXT,
			success BOOLEAN,
			error TEXT,
			correlation_id TEXT,
			metadata JSONB,
			tenant_id TEXT,
			user_id TEXT,
			user_email TEXT,
			session_id TEXT,
			ip_address TEXT,
			user_agent TEXT,
			all_tenant_ids JSONB,
			is_super_admin BOOLEAN,
			is_tenant_admin BOOLEAN,
			created_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_logs_tenant ON audit_logs(tenant_id, created_at DESC)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_logs_correlation ON audit_logs(correlation_id)`)
	return nil
}

// Cleanup drops entries older than the retention window.
func (r *PostgresAuditRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	return err
}
