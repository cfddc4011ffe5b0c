package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"pricewatch/internal/domain"
)

// Archiver moves old price-history rows to object storage. Each run
// serializes every observation older than the cutoff to a JSONL object at
// archive/prices/YYYY-MM-DD.jsonl and then prunes the archived rows from
// Postgres. Pruning only happens after a successful upload, so a failed run
// leaves the rows in place to be retried.
type Archiver struct {
	writer  domain.BlobWriter
	history domain.HistoryStore
	logger  *slog.Logger

	// multipartAt is the payload size at which uploads switch from a single
	// PutObject to the multipart manager.
	multipartAt int
}

// defaultMultipartAt keeps day-files on the single-shot path; only a backlog
// flush (first run against months of history) crosses it.
const defaultMultipartAt = 8 * 1024 * 1024

// multipartWriter is satisfied by writers that can split large uploads into
// concurrently uploaded parts.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// NewArchiver creates an Archiver over the given writer and history store.
func NewArchiver(writer domain.BlobWriter, history domain.HistoryStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:      writer,
		history:     history,
		logger:      logger.With(slog.String("component", "archiver")),
		multipartAt: defaultMultipartAt,
	}
}

// archiveRecord is the JSONL row format for archived observations.
type archiveRecord struct {
	EntityID   string    `json:"entity_id"`
	Title      string    `json:"title,omitempty"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	ObservedAt time.Time `json:"observed_at"`
}

// ArchiveBefore archives and prunes every observation older than the cutoff.
// It returns the number of observations archived.
func (a *Archiver) ArchiveBefore(ctx context.Context, before time.Time) (int64, error) {
	observations, err := a.history.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(observations) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, obs := range observations {
		rec := archiveRecord{
			EntityID:   obs.EntityID,
			Title:      obs.Title,
			Amount:     obs.Price.Amount,
			Currency:   string(obs.Price.Currency),
			ObservedAt: obs.ObservedAt,
		}
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("s3blob: encode observation: %w", err)
		}
	}

	path := fmt.Sprintf("archive/prices/%s.jsonl", before.UTC().Format("2006-01-02"))
	if mp, ok := a.writer.(multipartWriter); ok && buf.Len() >= a.multipartAt {
		err = mp.PutMultipart(ctx, path, &buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, &buf, "application/x-ndjson")
	}
	if err != nil {
		return 0, err
	}

	pruned, err := a.history.DeleteBefore(ctx, before)
	if err != nil {
		// The upload succeeded; rerunning will re-archive the same rows to
		// the same key, which is harmless.
		return int64(len(observations)), fmt.Errorf("s3blob: prune after archive: %w", err)
	}

	a.logger.InfoContext(ctx, "price history archived",
		slog.String("path", path),
		slog.Int("archived", len(observations)),
		slog.Int64("pruned", pruned),
	)
	return int64(len(observations)), nil
}

// Run archives on the given interval, keeping retention worth of history,
// until ctx is cancelled. Typical settings archive daily and retain 90 days.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.ArchiveBefore(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
