package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// ControlEventsRepository 控制事件仓库
type ControlEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewControlEventsRepository 创建控制事件仓库
func NewControlEventsRepository(db *sql.DB, logger *zap.Logger) *ControlEventsRepository {
	return &ControlEventsRepository{
		db:     db,
		logger: logger,
	}
}

// ControlEventFilters 控制事件过滤条件
type ControlEventFilters struct {
	// 时间段过滤
	StartTime *time.Time // created_at >= StartTime
	EndTime   *time.Time // created_at <= EndTime

	// 位置过滤
	PaddockSlug *string // 田块slug
	BayName     *string // 格田名（田块级事件为空串）

	// 类型与级别过滤
	EventType  *string
	Severity   *string
	Severities []string // IN 查询
}

// CreateControlEvent 写入控制事件
func (r *ControlEventsRepository) CreateControlEvent(ctx context.Context, event *models.ControlEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if event.PaddockSlug == "" {
		return fmt.Errorf("paddock_slug is required")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}

	eventData := event.EventData
	if eventData == "" {
		eventData = "{}"
	}

	query := `
		INSERT INTO control_events (
			event_id,
			paddock_slug,
			bay_name,
			event_type,
			severity,
			message,
			event_data,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		event.EventID,
		event.PaddockSlug,
		event.BayName,
		event.EventType,
		event.Severity,
		event.Message,
		eventData,
		event.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create control event: %w", err)
	}

	return nil
}

// buildWhereClause 构建 WHERE 子句
func (r *ControlEventsRepository) buildWhereClause(filters ControlEventFilters, args *[]interface{}, argN *int) []string {
	where := []string{}

	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", *argN))
		*args = append(*args, *filters.StartTime)
		*argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", *argN))
		*args = append(*args, *filters.EndTime)
		*argN++
	}
	if filters.PaddockSlug != nil {
		where = append(where, fmt.Sprintf("paddock_slug = $%d", *argN))
		*args = append(*args, *filters.PaddockSlug)
		*argN++
	}
	if filters.BayName != nil {
		where = append(where, fmt.Sprintf("bay_name = $%d", *argN))
		*args = append(*args, *filters.BayName)
		*argN++
	}
	if filters.EventType != nil {
		where = append(where, fmt.Sprintf("event_type = $%d", *argN))
		*args = append(*args, *filters.EventType)
		*argN++
	}
	if filters.Severity != nil {
		where = append(where, fmt.Sprintf("severity = $%d", *argN))
		*args = append(*args, *filters.Severity)
		*argN++
	}
	if len(filters.Severities) > 0 {
		placeholders := make([]string, len(filters.Severities))
		for i := range filters.Severities {
			placeholders[i] = fmt.Sprintf("$%d", *argN)
			*args = append(*args, filters.Severities[i])
			*argN++
		}
		where = append(where, fmt.Sprintf("severity IN (%s)", strings.Join(placeholders, ", ")))
	}

	return where
}

// ListControlEvents 列表查询（多条件过滤、分页），按时间倒序
func (r *ControlEventsRepository) ListControlEvents(ctx context.Context, filters ControlEventFilters, page, size int) ([]*models.ControlEvent, int, error) {
	args := []interface{}{}
	argN := 1
	where := r.buildWhereClause(filters, &args, &argN)

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	queryCount := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM control_events
		%s
	`, whereClause)

	var total int
	if err := r.db.QueryRowContext(ctx, queryCount, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count control events: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`
		SELECT
			event_id,
			paddock_slug,
			bay_name,
			event_type,
			severity,
			message,
			event_data,
			created_at
		FROM control_events
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)+1, len(args)+2)

	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query control events: %w", err)
	}
	defer rows.Close()

	events := []*models.ControlEvent{}
	for rows.Next() {
		event, err := scanControlEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan control event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate control events: %w", err)
	}

	return events, total, nil
}

// GetRecentControlEvent 查最近一条同键事件（去重检查用）。
// 没有命中返回 (nil, nil)。bay_name 空串匹配田块级事件。
func (r *ControlEventsRepository) GetRecentControlEvent(ctx context.Context, paddockSlug, bayName, eventType string, within time.Duration) (*models.ControlEvent, error) {
	if paddockSlug == "" {
		return nil, fmt.Errorf("paddock_slug is required")
	}
	if eventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	thresholdTime := time.Now().Add(-within)

	query := `
		SELECT
			event_id,
			paddock_slug,
			bay_name,
			event_type,
			severity,
			message,
			event_data,
			created_at
		FROM control_events
		WHERE paddock_slug = $1
		  AND bay_name = $2
		  AND event_type = $3
		  AND created_at > $4
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, query, paddockSlug, bayName, eventType, thresholdTime)
	event, err := scanControlEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query recent control event: %w", err)
	}

	return event, nil
}

// scanner 兼容 *sql.Row 与 *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanControlEvent(s scanner) (*models.ControlEvent, error) {
	var event models.ControlEvent
	var bayName sql.NullString
	var eventData []byte

	err := s.Scan(
		&event.EventID,
		&event.PaddockSlug,
		&bayName,
		&event.EventType,
		&event.Severity,
		&event.Message,
		&eventData,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if bayName.Valid {
		event.BayName = bayName.String
	}
	if len(eventData) > 0 {
		event.EventData = string(eventData)
	} else {
		event.EventData = "{}"
	}

	return &event, nil
}
