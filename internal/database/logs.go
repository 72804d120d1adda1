package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Log statuses shared by copy and compatibility runs.
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusPartial    = "partial"
	StatusError      = "error"
)

// ErrLogNotFound is returned when updating a log row that does not exist.
var ErrLogNotFound = errors.New("log not found")

// CopyLog records one source item copied to one or more destination sellers.
type CopyLog struct {
	ID           string            `json:"id"`
	Operator     string            `json:"operator,omitempty"`
	SourceSeller string            `json:"sourceSeller"`
	DestSellers  []string          `json:"destSellers"`
	SourceItemID string            `json:"sourceItemId"`
	DestItemIDs  map[string]string `json:"destItemIds"`
	Status       string            `json:"status"`
	ErrorDetails map[string]string `json:"errorDetails,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// CompatTarget is the per-destination outcome stored inside a compat log.
type CompatTarget struct {
	SellerSlug string `json:"sellerSlug"`
	ItemID     string `json:"itemId"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// CompatLog records a compatibility copy from one source item to many targets.
type CompatLog struct {
	ID           string         `json:"id"`
	SourceItemID string         `json:"sourceItemId"`
	SKUs         []string       `json:"skus"`
	Targets      []CompatTarget `json:"targets"`
	TotalTargets int            `json:"totalTargets"`
	SuccessCount int            `json:"successCount"`
	ErrorCount   int            `json:"errorCount"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// APIDebugLog captures a failed marketplace call for later inspection.
type APIDebugLog struct {
	ID             int64           `json:"id"`
	Action         string          `json:"action"`
	SourceSeller   string          `json:"sourceSeller,omitempty"`
	DestSeller     string          `json:"destSeller,omitempty"`
	SourceItemID   string          `json:"sourceItemId,omitempty"`
	DestItemID     string          `json:"destItemId,omitempty"`
	LogID          string          `json:"logId,omitempty"`
	Method         string          `json:"method,omitempty"`
	URL            string          `json:"url,omitempty"`
	ResponseStatus int             `json:"responseStatus"`
	ResponseBody   json.RawMessage `json:"responseBody,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// CreateCopyLog inserts a copy log, assigning an ID when empty.
func (db *DB) CreateCopyLog(ctx context.Context, l *CopyLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now

	dest, ids, details, err := encodeCopyLog(l)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO copy_logs (id, operator, source_seller, dest_sellers, source_item_id,
		                       dest_item_ids, status, error_details, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.Operator, l.SourceSeller, dest, l.SourceItemID, ids, l.Status, details, now, now)
	if err != nil {
		return fmt.Errorf("failed to create copy log: %w", err)
	}
	return nil
}

// UpdateCopyLog writes the final outcome of a copy log.
func (db *DB) UpdateCopyLog(ctx context.Context, l *CopyLog) error {
	l.UpdatedAt = time.Now().UTC()

	dest, ids, details, err := encodeCopyLog(l)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE copy_logs
		SET dest_sellers = ?, dest_item_ids = ?, status = ?, error_details = ?, updated_at = ?
		WHERE id = ?
	`, dest, ids, l.Status, details, l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update copy log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLogNotFound, l.ID)
	}
	return nil
}

// ListCopyLogs returns the most recent copy logs first.
func (db *DB) ListCopyLogs(ctx context.Context, limit, offset int) ([]CopyLog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, operator, source_seller, dest_sellers, source_item_id, dest_item_ids,
		       status, error_details, created_at, updated_at
		FROM copy_logs
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []CopyLog
	for rows.Next() {
		var l CopyLog
		var dest, ids string
		var details sql.NullString
		if err := rows.Scan(&l.ID, &l.Operator, &l.SourceSeller, &dest, &l.SourceItemID, &ids,
			&l.Status, &details, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dest), &l.DestSellers); err != nil {
			return nil, fmt.Errorf("copy log %s: decode dest_sellers: %w", l.ID, err)
		}
		if err := json.Unmarshal([]byte(ids), &l.DestItemIDs); err != nil {
			return nil, fmt.Errorf("copy log %s: decode dest_item_ids: %w", l.ID, err)
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &l.ErrorDetails); err != nil {
				return nil, fmt.Errorf("copy log %s: decode error_details: %w", l.ID, err)
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func encodeCopyLog(l *CopyLog) (dest, ids string, details sql.NullString, err error) {
	destSellers := l.DestSellers
	if destSellers == nil {
		destSellers = []string{}
	}
	destIDs := l.DestItemIDs
	if destIDs == nil {
		destIDs = map[string]string{}
	}

	b, err := json.Marshal(destSellers)
	if err != nil {
		return "", "", details, err
	}
	dest = string(b)

	if b, err = json.Marshal(destIDs); err != nil {
		return "", "", details, err
	}
	ids = string(b)

	if len(l.ErrorDetails) > 0 {
		if b, err = json.Marshal(l.ErrorDetails); err != nil {
			return "", "", details, err
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	return dest, ids, details, nil
}

// CreateCompatLog inserts a compat log, assigning an ID when empty.
func (db *DB) CreateCompatLog(ctx context.Context, l *CompatLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now

	skus, targets, err := encodeCompatLog(l)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO compat_logs (id, source_item_id, skus, targets, total_targets, success_count,
		                         error_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.SourceItemID, skus, targets, l.TotalTargets, l.SuccessCount, l.ErrorCount, l.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to create compat log: %w", err)
	}
	return nil
}

// UpdateCompatLog writes the target outcomes and counters of a compat log.
func (db *DB) UpdateCompatLog(ctx context.Context, l *CompatLog) error {
	l.UpdatedAt = time.Now().UTC()

	skus, targets, err := encodeCompatLog(l)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE compat_logs
		SET skus = ?, targets = ?, total_targets = ?, success_count = ?, error_count = ?,
		    status = ?, updated_at = ?
		WHERE id = ?
	`, skus, targets, l.TotalTargets, l.SuccessCount, l.ErrorCount, l.Status, l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("failed to update compat log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLogNotFound, l.ID)
	}
	return nil
}

// ListCompatLogs returns the most recent compat logs first.
func (db *DB) ListCompatLogs(ctx context.Context, limit, offset int) ([]CompatLog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, source_item_id, skus, targets, total_targets, success_count, error_count,
		       status, created_at, updated_at
		FROM compat_logs
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []CompatLog
	for rows.Next() {
		var l CompatLog
		var skus, targets string
		if err := rows.Scan(&l.ID, &l.SourceItemID, &skus, &targets, &l.TotalTargets,
			&l.SuccessCount, &l.ErrorCount, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(skus), &l.SKUs); err != nil {
			return nil, fmt.Errorf("compat log %s: decode skus: %w", l.ID, err)
		}
		if err := json.Unmarshal([]byte(targets), &l.Targets); err != nil {
			return nil, fmt.Errorf("compat log %s: decode targets: %w", l.ID, err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func encodeCompatLog(l *CompatLog) (skus, targets string, err error) {
	s := l.SKUs
	if s == nil {
		s = []string{}
	}
	t := l.Targets
	if t == nil {
		t = []CompatTarget{}
	}

	b, err := json.Marshal(s)
	if err != nil {
		return "", "", err
	}
	skus = string(b)

	if b, err = json.Marshal(t); err != nil {
		return "", "", err
	}
	return skus, string(b), nil
}

// InsertAPIDebugLog stores a failed API exchange.
func (db *DB) InsertAPIDebugLog(ctx context.Context, l *APIDebugLog) error {
	var body sql.NullString
	if len(l.ResponseBody) > 0 {
		body = sql.NullString{String: string(l.ResponseBody), Valid: true}
	}
	l.CreatedAt = time.Now().UTC()

	res, err := db.ExecContext(ctx, `
		INSERT INTO api_debug_logs (action, source_seller, dest_seller, source_item_id, dest_item_id,
		                            log_id, api_method, api_url, response_status, response_body,
		                            error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.Action, l.SourceSeller, l.DestSeller, l.SourceItemID, l.DestItemID, l.LogID, l.Method,
		l.URL, l.ResponseStatus, body, l.ErrorMessage, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert api debug log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// ListAPIDebugLogs returns debug logs attached to a copy or compat log.
func (db *DB) ListAPIDebugLogs(ctx context.Context, logID string) ([]APIDebugLog, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, action, source_seller, dest_seller, source_item_id, dest_item_id, log_id,
		       api_method, api_url, response_status, response_body, error_message, created_at
		FROM api_debug_logs
		WHERE log_id = ?
		ORDER BY id
	`, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []APIDebugLog
	for rows.Next() {
		var l APIDebugLog
		var body sql.NullString
		if err := rows.Scan(&l.ID, &l.Action, &l.SourceSeller, &l.DestSeller, &l.SourceItemID,
			&l.DestItemID, &l.LogID, &l.Method, &l.URL, &l.ResponseStatus, &body,
			&l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, err
		}
		if body.Valid {
			l.ResponseBody = json.RawMessage(body.String)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
