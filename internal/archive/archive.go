// Package archive persists finished SDD reports as JSON objects in GCS.
// Writes carry a DoesNotExist precondition so a redelivered event cannot
// clobber an already-archived report.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/hdxlabs/sdd-pipeline/internal/models"
)

// Archiver writes one report object per resource under reports/.
type Archiver struct {
	bucket *storage.BucketHandle
}

// NewArchiver creates an Archiver over the named bucket.
func NewArchiver(ctx context.Context, bucketName string) (*Archiver, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name must be provided to create an archiver")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Archiver{bucket: client.Bucket(bucketName)}, nil
}

// SaveReport writes the report to reports/<resource_id>.json only if that
// object doesn't already exist.
func (a *Archiver) SaveReport(ctx context.Context, res *models.PipelineResult) error {
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report for %s: %w", res.ResourceID, err)
	}

	objectName := fmt.Sprintf("reports/%s.json", res.ResourceID)
	writer := a.bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, strings.NewReader(string(raw))); err != nil {
		_ = writer.Close()
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 412 {
			slog.Info("Report already archived.", "object", objectName)
			return nil // Not a failure in an idempotent workflow.
		}
		return fmt.Errorf("failed to write report to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 412 {
			slog.Info("Report already archived.", "object", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}
