package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// TradeArchiveSource provides read access to closed trades for archival. The
// Postgres trade store satisfies it.
type TradeArchiveSource interface {
	ListClosedSince(ctx context.Context, since time.Time) ([]domain.Trade, error)
}

// Archiver serializes closed trades to JSONL and uploads them to S3, one
// object per calendar month at archive/trades/YYYY-MM.jsonl.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type Archiver struct {
	writer *Writer
	trades TradeArchiveSource
	audit  domain.AuditStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer *Writer, trades TradeArchiveSource, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		audit:  audit,
	}
}

// ArchiveMonth uploads every trade closed within the calendar month containing
// the given time. It returns the number of records archived.
func (a *Archiver) ArchiveMonth(ctx context.Context, month time.Time) (int64, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	all, err := a.trades.ListClosedSince(ctx, start)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive month query: %w", err)
	}

	var closed []domain.Trade
	for _, t := range all {
		if t.CloseTime == nil || !t.CloseTime.Before(end) {
			continue
		}
		closed = append(closed, t)
	}
	if len(closed) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(closed)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive month marshal: %w", err)
	}

	path := fmt.Sprintf("archive/trades/%s.jsonl", start.Format("2006-01"))
	if int64(len(buf)) >= minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive month upload: %w", err)
	}

	count := int64(len(closed))

	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":  path,
		"count": count,
		"month": start.Format("2006-01"),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive month audit log: %w", err)
	}

	return count, nil
}

// marshalJSONL serializes a slice of records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
