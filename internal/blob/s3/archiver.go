package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/whetherfun/weathermark/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs the time-ranged query methods it actually calls,
// not the full domain store interfaces. The Postgres stores satisfy these
// implicitly.
// ---------------------------------------------------------------------------

// MarketArchiveStore provides read access to settled markets for archival.
type MarketArchiveStore interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Market, error)
}

// ReportArchiveStore provides read access to finalized weather reports for
// archival.
type ReportArchiveStore interface {
	ListFinalizedBefore(ctx context.Context, before time.Time) ([]domain.WeatherReport, error)
}

// DisputeArchiveStore provides read access to resolved disputes for archival.
type DisputeArchiveStore interface {
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Dispute, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// cold records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	markets  MarketArchiveStore
	reports  ReportArchiveStore
	disputes DisputeArchiveStore
	audit    domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	markets MarketArchiveStore,
	reports ReportArchiveStore,
	disputes DisputeArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		markets:  markets,
		reports:  reports,
		disputes: disputes,
		audit:    audit,
	}
}

// ArchiveMarkets queries all markets settled before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at archive/markets/YYYY-MM.jsonl.
// The archival event is recorded in the audit log and the count of archived
// records is returned.
func (a *ArchiveImpl) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	return uploadArchive(ctx, a, "markets", before, markets)
}

// ArchiveReports queries all weather reports finalized before the cutoff and
// uploads them to S3 at archive/reports/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveReports(ctx context.Context, before time.Time) (int64, error) {
	reports, err := a.reports.ListFinalizedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive reports query: %w", err)
	}
	return uploadArchive(ctx, a, "reports", before, reports)
}

// ArchiveDisputes queries all disputes resolved before the cutoff and uploads
// them to S3 at archive/disputes/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveDisputes(ctx context.Context, before time.Time) (int64, error) {
	disputes, err := a.disputes.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive disputes query: %w", err)
	}
	return uploadArchive(ctx, a, "disputes", before, disputes)
}

// uploadArchive serializes the records to JSONL, writes the archive object,
// and records the event in the audit log. An empty batch skips the upload.
func uploadArchive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/markets/2026-07.jsonl
//	archive/reports/2026-07.jsonl
//	archive/disputes/2026-07.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
