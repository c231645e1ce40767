package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/edgegate/edgegate/internal/model"
	"github.com/edgegate/edgegate/internal/pkg/apperrors"
)

const (
	maxQueryRows  = 1000
	maxExportRows = 10000
	topBucketSize = 5
)

// Query reads audit entries through the backend, scoped by the caller's own
// token so row-level access control stays with the store. Filters are
// validated here; bad input surfaces synchronously to the caller.
func (s *AuditService) Query(ctx context.Context, filters model.AuditQueryFilters, userToken string) (*model.AuditQueryResult, error) {
	if s.disabled {
		return &model.AuditQueryResult{Entries: []*model.AuditLogEntry{}, Total: 0}, nil
	}
	if err := validateFilters(&filters, maxQueryRows); err != nil {
		return nil, err
	}
	return s.backend.Query(ctx, filters, userToken)
}

// Statistics aggregates a tenant's activity window into a report: counts by
// action/resource/severity, success rate, top users and actions, hour-of-day
// and per-day buckets. Computed by scanning the queried window, not from a
// pre-aggregated store.
func (s *AuditService) Statistics(ctx context.Context, tenantID string, from, to time.Time, userToken string) (*model.AuditStatistics, error) {
	stats := &model.AuditStatistics{
		TenantID:   tenantID,
		From:       from,
		To:         to,
		ByAction:   map[string]int{},
		ByResource: map[string]int{},
		BySeverity: map[model.Severity]int{},
		ByDay:      map[string]int{},
		TopUsers:   []model.NameCount{},
		TopActions: []model.NameCount{},
	}
	if s.disabled {
		return stats, nil
	}

	filters := model.AuditQueryFilters{
		TenantID: tenantID,
		Limit:    maxExportRows,
	}
	if !from.IsZero() {
		filters.From = &from
	}
	if !to.IsZero() {
		filters.To = &to
	}
	result, err := s.backend.Query(ctx, filters, userToken)
	if err != nil {
		return nil, err
	}

	userCounts := map[string]int{}
	for _, e := range result.Entries {
		stats.Total++
		if e.Success {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
		stats.ByAction[e.Action]++
		if e.Resource != "" {
			stats.ByResource[e.Resource]++
		}
		stats.BySeverity[e.Severity]++
		if e.UserID != "" {
			userCounts[e.UserID]++
		}
		stats.ByHourOfDay[e.CreatedAt.UTC().Hour()]++
		stats.ByDay[e.CreatedAt.UTC().Format("2006-01-02")]++
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.Total)
	}
	stats.TopUsers = topCounts(userCounts, topBucketSize)
	stats.TopActions = topCounts(stats.ByAction, topBucketSize)
	return stats, nil
}

// Export materializes a bounded query result as JSON or CSV bytes, returning
// the payload and its content type.
func (s *AuditService) Export(ctx context.Context, filters model.AuditQueryFilters, format model.ExportFormat, userToken string) ([]byte, string, error) {
	if format != model.ExportJSON && format != model.ExportCSV {
		return nil, "", apperrors.NewInvalidRequest(fmt.Sprintf("unsupported export format %q", format))
	}
	if s.disabled {
		if format == model.ExportCSV {
			return []byte(csvHeaderLine()), "text/csv", nil
		}
		return []byte("[]"), "application/json", nil
	}

	if err := validateFilters(&filters, maxExportRows); err != nil {
		return nil, "", err
	}
	result, err := s.backend.Query(ctx, filters, userToken)
	if err != nil {
		return nil, "", err
	}

	if format == model.ExportJSON {
		out, err := json.MarshalIndent(result.Entries, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return out, "application/json", nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(csvHeader())
	for _, e := range result.Entries {
		// csv.Writer handles the quoting of embedded quotes, commas and
		// newlines in free-text fields like the error message
		_ = w.Write([]string{
			e.ID,
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.TenantID,
			e.UserID,
			e.UserEmail,
			e.Action,
			e.Resource,
			e.ResourceID,
			string(e.Severity),
			strconv.FormatBool(e.Success),
			e.Error,
			e.CorrelationID,
			e.IPAddress,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "text/csv", nil
}

func validateFilters(filters *model.AuditQueryFilters, capRows int) error {
	if filters.From != nil && filters.To != nil && filters.From.After(*filters.To) {
		return apperrors.NewInvalidRequest("time range start is after end")
	}
	if filters.Limit <= 0 {
		filters.Limit = 100
	}
	if filters.Limit > capRows {
		filters.Limit = capRows
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	switch filters.OrderBy {
	case "", "created_at", "action", "severity", "tenant_id":
	default:
		return apperrors.NewInvalidRequest(fmt.Sprintf("cannot order by %q", filters.OrderBy))
	}
	return nil
}

func topCounts(counts map[string]int, n int) []model.NameCount {
	ranked := make([]model.NameCount, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, model.NameCount{Name: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func csvHeader() []string {
	return []string{
		"id", "created_at", "tenant_id", "user_id", "user_email",
		"action", "resource", "resource_id", "severity", "success",
		"error", "correlation_id", "ip_address",
	}
}

func csvHeaderLine() string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(csvHeader())
	w.Flush()
	return buf.String()
}
