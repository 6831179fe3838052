package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"webmirror/pkg/types"
)

// ErrCaptureNotFound is returned by GetCapture when no row matches.
var ErrCaptureNotFound = errors.New("capture not found")

// CaptureListParams pages through the captures of one run.
type CaptureListParams struct {
	Page     int
	PageSize int
	Search   string
	Kind     string
}

// CaptureListResult is one page of captures plus the total match count.
type CaptureListResult struct {
	RunID    string
	Page     int
	PageSize int
	Total    int
	Items    []types.Capture
}

const captureColumns = `run_id, url, final_url, path, status_code, content_type, kind, captured_at`

// ListCaptures returns the captures recorded for runID, newest first.
func (l *SQLLedger) ListCaptures(ctx context.Context, runID string, params CaptureListParams) (CaptureListResult, error) {
	if l == nil || l.db == nil {
		return CaptureListResult{}, fmt.Errorf("sql ledger not initialised")
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}
	result := CaptureListResult{RunID: runID, Page: page, PageSize: pageSize}

	where := []string{"run_id = $1"}
	args := []any{runID}
	if search := strings.TrimSpace(params.Search); search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(url ILIKE $%d OR final_url ILIKE $%d OR path ILIKE $%d)", n, n, n))
	}
	if kind := strings.TrimSpace(params.Kind); kind != "" {
		args = append(args, kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	filter := strings.Join(where, " AND ")

	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures WHERE `+filter, args...).Scan(&result.Total); err != nil {
		return CaptureListResult{}, fmt.Errorf("count captures: %w", err)
	}

	listQuery := fmt.Sprintf(`SELECT %s FROM captures WHERE %s ORDER BY captured_at DESC, url LIMIT $%d OFFSET $%d`,
		captureColumns, filter, len(args)+1, len(args)+2)
	rows, err := l.db.QueryContext(ctx, listQuery, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return CaptureListResult{}, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	items := make([]types.Capture, 0, pageSize)
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return CaptureListResult{}, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return CaptureListResult{}, err
	}
	result.Items = items
	return result, nil
}

// GetCapture returns the capture recorded for url in runID.
func (l *SQLLedger) GetCapture(ctx context.Context, runID, url string) (types.Capture, error) {
	if l == nil || l.db == nil {
		return types.Capture{}, fmt.Errorf("sql ledger not initialised")
	}
	row := l.db.QueryRowContext(ctx, `SELECT `+captureColumns+` FROM captures WHERE run_id = $1 AND url = $2`, runID, url)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Capture{}, fmt.Errorf("%w: %s", ErrCaptureNotFound, url)
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapture(row rowScanner) (types.Capture, error) {
	var (
		c           types.Capture
		finalURL    sql.NullString
		path        sql.NullString
		status      sql.NullInt64
		contentType sql.NullString
		kind        sql.NullString
		capturedAt  sql.NullTime
	)
	if err := row.Scan(&c.RunID, &c.URL, &finalURL, &path, &status, &contentType, &kind, &capturedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Capture{}, err
		}
		return types.Capture{}, fmt.Errorf("scan capture: %w", err)
	}
	c.FinalURL = finalURL.String
	c.Path = path.String
	c.StatusCode = int(status.Int64)
	c.ContentType = contentType.String
	c.Kind = kind.String
	if capturedAt.Valid {
		c.CapturedAt = capturedAt.Time.UTC()
	}
	return c, nil
}
