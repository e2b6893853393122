// Package pipeline drives one inbound resource event through fetch,
// preprocessing, the three classification stages, formatting, and
// publication. One event in, exactly one report out, always.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hdxlabs/sdd-pipeline/internal/classify"
	"github.com/hdxlabs/sdd-pipeline/internal/fetch"
	"github.com/hdxlabs/sdd-pipeline/internal/models"
)

// Pipeline states, in nominal order. A run can leave the nominal path only
// into a failed terminal; it never stops mid-way.
const (
	stateReceived          = "RECEIVED"
	stateFetching          = "FETCHING"
	statePreprocessing     = "PREPROCESSING"
	statePIIDetecting      = "PII_DETECTING"
	statePIIReflecting     = "PII_REFLECTING"
	stateNonPIIClassifying = "NON_PII_CLASSIFYING"
	stateFormatting        = "FORMATTING"
	statePublishing        = "PUBLISHING"
	stateAcknowledged      = "ACKNOWLEDGED"
)

// Fetcher downloads a resource by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Preprocessor parses raw bytes into a table descriptor.
type Preprocessor interface {
	Parse(data []byte, fileName string) (*models.TableDescriptor, error)
}

// StageRunner applies one classification stage to one unit of work.
type StageRunner interface {
	DetectColumn(ctx context.Context, col models.ColumnDescriptor) (classify.DetectionResult, error)
	ReflectColumn(ctx context.Context, colName string, entity models.EntityType, tableContext string) (classify.ReflectionResult, error)
	ClassifyTable(ctx context.Context, tableContext string) (classify.TableResult, error)
}

// Gateway publishes results and acknowledges inbound deliveries.
type Gateway interface {
	Publish(ctx context.Context, res *models.PipelineResult) error
	Ack(ctx context.Context, streamID string) error
}

// RunStore records run lifecycle documents. Optional.
type RunStore interface {
	Begin(ctx context.Context, ev *models.InboundEvent) error
	Finish(ctx context.Context, res *models.PipelineResult) error
}

// Archiver persists finished reports. Optional.
type Archiver interface {
	SaveReport(ctx context.Context, res *models.PipelineResult) error
}

// Config tunes the orchestrator.
type Config struct {
	// FanoutWidth bounds concurrent per-column classifier calls within
	// stages 1 and 2.
	FanoutWidth int

	PIIDetectModel  string
	PIIReflectModel string
	NonPIIModel     string
}

// Orchestrator owns the per-event state machine. It carries no per-run
// state itself, so one instance serves any number of sequential events.
type Orchestrator struct {
	fetcher  Fetcher
	pre      Preprocessor
	runner   StageRunner
	gateway  Gateway
	runStore RunStore // may be nil
	archiver Archiver // may be nil
	cfg      Config
}

// NewOrchestrator wires the pipeline. runStore and archiver may be nil to
// disable those side channels.
func NewOrchestrator(fetcher Fetcher, pre Preprocessor, runner StageRunner, gateway Gateway, runStore RunStore, archiver Archiver, cfg Config) *Orchestrator {
	if cfg.FanoutWidth <= 0 {
		cfg.FanoutWidth = 4
	}
	return &Orchestrator{
		fetcher:  fetcher,
		pre:      pre,
		runner:   runner,
		gateway:  gateway,
		runStore: runStore,
		archiver: archiver,
		cfg:      cfg,
	}
}

// Handle drives one event to a terminal state. It returns an error only
// when the result could not be published or acknowledged — the one case
// where redelivery is the correct outcome. Everything else, including
// panics, becomes a published failure report.
func (o *Orchestrator) Handle(ctx context.Context, ev *models.InboundEvent) (err error) {
	logCtx := slog.With("resourceId", ev.ResourceID, "streamId", ev.StreamID)
	logCtx.Info("Processing event.", "state", stateReceived, "fileUrl", ev.FileURL)

	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Recovered from panic during pipeline run.", "panic", r)
			res := Format(ev, nil, nil, nil, o.formatOptions(models.FailureStageInternal, fmt.Sprint(r), nil))
			err = o.finish(ctx, ev, res, logCtx)
		}
	}()

	if o.runStore != nil {
		if berr := o.runStore.Begin(ctx, ev); berr != nil {
			logCtx.Warn("Failed to record run start; continuing.", "error", berr)
		}
	}

	// FETCHING: a fetch failure is permanent for the run. Redelivery
	// cannot fix a missing or unreachable resource, so we publish a
	// minimal failure report and acknowledge.
	logCtx.Info("Fetching resource.", "state", stateFetching)
	data, err := o.fetcher.Fetch(ctx, ev.FileURL)
	if err != nil {
		logCtx.Error("Fetch failed.", "error", err)
		res := Format(ev, nil, nil, nil, o.formatOptions(models.FailureStageFetch, err.Error(), nil))
		return o.finish(ctx, ev, res, logCtx)
	}

	logCtx.Info("Preprocessing resource.", "state", statePreprocessing, "bytes", len(data))
	desc, err := o.pre.Parse(data, fileNameFor(ev))
	if err != nil {
		logCtx.Error("Preprocessing failed.", "error", err)
		res := Format(ev, nil, nil, nil, o.formatOptions(models.FailureStagePreprocess, err.Error(), nil))
		return o.finish(ctx, ev, res, logCtx)
	}
	logCtx.Info("Table parsed.", "rows", desc.RowCount, "columns", desc.ColumnCount)

	var usage usageTotals

	// PII_DETECTING: per-column fan-out, bounded, joined before stage 2.
	// One column's failure lands in its own verdict and nowhere else.
	logCtx.Info("Running PII detection.", "state", statePIIDetecting)
	verdicts := make([]models.ColumnVerdict, len(desc.Columns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FanoutWidth)
	for i, col := range desc.Columns {
		g.Go(func() error {
			verdicts[i].Name = col.Name
			det, derr := o.runner.DetectColumn(gctx, col)
			usage.add(det.Usage)
			if derr != nil {
				logCtx.Warn("PII detection failed for column.", "column", col.Name, "error", derr)
				verdicts[i].EntityType = models.EntityNone
				verdicts[i].ClassificationError = derr.Error()
				return nil
			}
			verdicts[i].EntityType = det.Entity
			verdicts[i].PIIDetected = det.Entity != models.EntityNone
			return nil
		})
	}
	_ = g.Wait() // workers record failures in their own verdicts

	// PII_REFLECTING: same fan-out. Columns that already failed stage 1
	// keep their error and are not re-queried.
	logCtx.Info("Running PII sensitivity reflection.", "state", statePIIReflecting)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FanoutWidth)
	for i := range verdicts {
		if verdicts[i].ClassificationError != "" {
			continue
		}
		g.Go(func() error {
			ref, rerr := o.runner.ReflectColumn(gctx, verdicts[i].Name, verdicts[i].EntityType, desc.Context)
			usage.add(ref.Usage)
			if rerr != nil {
				logCtx.Warn("PII reflection failed for column.", "column", verdicts[i].Name, "error", rerr)
				verdicts[i].ClassificationError = rerr.Error()
				return nil
			}
			verdicts[i].Sensitivity = ref.Level
			return nil
		})
	}
	_ = g.Wait()

	if allFailed(verdicts) {
		logCtx.Warn("Every column failed classification; continuing degraded.")
	}

	// NON_PII_CLASSIFYING: table-level, depends on the completed join.
	logCtx.Info("Running non-PII table classification.", "state", stateNonPIIClassifying)
	table := &models.TableVerdict{}
	tres, terr := o.runner.ClassifyTable(ctx, desc.Context)
	usage.add(tres.Usage)
	if terr != nil {
		logCtx.Warn("Non-PII classification failed.", "error", terr)
		table.Sensitivity = models.TableUndetermined
		table.ClassificationError = terr.Error()
	} else {
		table.Sensitivity = tres.Level
		table.Explanation = tres.Explanation
	}

	logCtx.Info("Formatting result.", "state", stateFormatting)
	res := Format(ev, desc, verdicts, table, o.formatOptions("", "", &usage))
	return o.finish(ctx, ev, res, logCtx)
}

// finish publishes the result, runs the side channels, and acknowledges
// the inbound delivery — strictly in that order. A publish or ack failure
// propagates so the event is redelivered; side-channel failures only log.
func (o *Orchestrator) finish(ctx context.Context, ev *models.InboundEvent, res *models.PipelineResult, logCtx *slog.Logger) error {
	logCtx.Info("Publishing result.", "state", statePublishing,
		"processingSuccess", res.ProcessingSuccess, "failureStage", res.FailureStage,
		"piiSensitive", res.PIISensitive, "degraded", res.Degraded)

	if err := o.gateway.Publish(ctx, res); err != nil {
		logCtx.Error("Publish failed; leaving event unacknowledged.", "error", err)
		return fmt.Errorf("publish result for %s: %w", ev.ResourceID, err)
	}

	if o.archiver != nil {
		if aerr := o.archiver.SaveReport(ctx, res); aerr != nil {
			logCtx.Warn("Failed to archive report; continuing.", "error", aerr)
		}
	}
	if o.runStore != nil {
		if ferr := o.runStore.Finish(ctx, res); ferr != nil {
			logCtx.Warn("Failed to record run finish; continuing.", "error", ferr)
		}
	}

	if err := o.gateway.Ack(ctx, ev.StreamID); err != nil {
		// The result is already published; redelivery after this point
		// reprocesses the event, which downstream dedupes on resource_id.
		logCtx.Error("Acknowledge failed after publish.", "error", err)
		return fmt.Errorf("ack %s: %w", ev.StreamID, err)
	}

	logCtx.Info("Event acknowledged.", "state", stateAcknowledged)
	return nil
}

func (o *Orchestrator) formatOptions(failureStage, failureDetail string, usage *usageTotals) FormatOptions {
	opts := FormatOptions{
		FailureStage:    failureStage,
		FailureDetail:   failureDetail,
		PIIDetectModel:  o.cfg.PIIDetectModel,
		PIIReflectModel: o.cfg.PIIReflectModel,
		NonPIIModel:     o.cfg.NonPIIModel,
	}
	if usage != nil {
		opts.PromptTokens = int(usage.prompt.Load())
		opts.CompletionTokens = int(usage.completion.Load())
	}
	return opts
}

// usageTotals accumulates token usage across concurrent stage calls.
type usageTotals struct {
	prompt     atomic.Int64
	completion atomic.Int64
}

func (u *usageTotals) add(usage classify.Usage) {
	u.prompt.Add(int64(usage.PromptTokens))
	u.completion.Add(int64(usage.CompletionTokens))
}

func allFailed(verdicts []models.ColumnVerdict) bool {
	if len(verdicts) == 0 {
		return false
	}
	for _, v := range verdicts {
		if v.ClassificationError == "" {
			return false
		}
	}
	return true
}

func fileNameFor(ev *models.InboundEvent) string {
	if ev.ResourceName != "" {
		return ev.ResourceName
	}
	return fetch.FileName(ev.FileURL)
}
