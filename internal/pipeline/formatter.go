package pipeline

import (
	"time"

	"github.com/hdxlabs/sdd-pipeline/internal/models"
)

// FormatOptions carries everything Format needs beyond the verdicts
// themselves.
type FormatOptions struct {
	FailureStage  string
	FailureDetail string

	PIIDetectModel  string
	PIIReflectModel string
	NonPIIModel     string

	PromptTokens     int
	CompletionTokens int

	// Now stamps ProcessedAt; the zero value means time.Now.
	Now time.Time
}

// Format assembles the canonical SDD report. It is a pure function: no
// I/O, no retries, deterministic given its inputs. It computes the derived
// pii_sensitive and non_pii_sensitive flags and preserves the original
// column order.
func Format(ev *models.InboundEvent, desc *models.TableDescriptor, columns []models.ColumnVerdict, table *models.TableVerdict, opts FormatOptions) *models.PipelineResult {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	res := &models.PipelineResult{
		DatasetID:    ev.DatasetID,
		ResourceID:   ev.ResourceID,
		ResourceName: ev.ResourceName,
		FileURL:      ev.FileURL,

		FailureStage:  opts.FailureStage,
		FailureDetail: opts.FailureDetail,
		ProcessedAt:   now,

		Columns: columns,
		NonPII:  table,

		PIIDetectModel:   opts.PIIDetectModel,
		PIIReflectModel:  opts.PIIReflectModel,
		NonPIIModel:      opts.NonPIIModel,
		PromptTokens:     opts.PromptTokens,
		CompletionTokens: opts.CompletionTokens,
	}
	if res.Columns == nil {
		res.Columns = []models.ColumnVerdict{}
	}
	if desc != nil {
		res.FileName = desc.FileName
		res.RowCount = desc.RowCount
		res.ColumnCount = desc.ColumnCount
	}

	unitErrors := false
	for _, c := range res.Columns {
		if c.ClassificationError != "" {
			unitErrors = true
		}
		if c.PIIDetected && c.Sensitivity != models.NonSensitive && c.Sensitivity != models.SensitivityUnset {
			res.PIISensitive = true
		}
	}
	if table != nil {
		if table.ClassificationError != "" {
			unitErrors = true
		}
		if table.Sensitivity == models.TableHighSensitive {
			res.NonPIISensitive = true
		}
	}

	res.Degraded = opts.FailureStage == "" && unitErrors
	res.ProcessingSuccess = opts.FailureStage == "" && !unitErrors
	return res
}
