package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/hdxlabs/sdd-pipeline/internal/models"
)

// RunnerConfig bounds the Runner's calls.
type RunnerConfig struct {
	Timeout           time.Duration
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMultiplier float64
}

// Runner applies one classification stage to one unit of work: it builds
// the stage prompt, invokes the Client with a per-call timeout, validates
// the structured answer, and retries transient failures with exponential
// backoff. It holds no per-run state and is safe for concurrent use.
type Runner struct {
	client Client
	cfg    RunnerConfig
}

// NewRunner creates a Runner over the given client.
func NewRunner(client Client, cfg RunnerConfig) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	return &Runner{client: client, cfg: cfg}
}

// DetectionResult is the validated stage 1 answer for one column.
type DetectionResult struct {
	Entity models.EntityType
	Usage  Usage
}

// ReflectionResult is the validated stage 2 answer for one column.
type ReflectionResult struct {
	Level models.SensitivityLevel
	Usage Usage
}

// TableResult is the validated stage 3 answer for the whole table.
type TableResult struct {
	Level       models.TableSensitivity
	Explanation string
	Usage       Usage
}

// DetectColumn runs PII detection for one column. Columns with no
// alphanumeric sample content skip the model call and report no PII.
func (r *Runner) DetectColumn(ctx context.Context, col models.ColumnDescriptor) (DetectionResult, error) {
	if !hasAlphanumeric(col.SampleValues) {
		return DetectionResult{Entity: models.EntityNone}, nil
	}

	prompt := fmt.Sprintf(PIIDetectUserPrompt, col.Name, strings.Join(col.SampleValues, ", "))

	var answer struct {
		EntityType models.EntityType `json:"entity_type"`
	}
	usage, err := r.run(ctx, StagePIIDetect, prompt, func(text string) error {
		if err := json.Unmarshal([]byte(text), &answer); err != nil {
			return &Error{Stage: StagePIIDetect, Kind: KindInvalidSchema, Err: err}
		}
		if !models.ValidEntityType(answer.EntityType) {
			return &Error{Stage: StagePIIDetect, Kind: KindInvalidSchema, Err: fmt.Errorf("entity_type %q not permitted", answer.EntityType)}
		}
		return nil
	})
	if err != nil {
		return DetectionResult{Usage: usage}, err
	}
	return DetectionResult{Entity: answer.EntityType, Usage: usage}, nil
}

// ReflectColumn runs PII sensitivity reflection for one column. Columns
// with no detected PII skip the model call and grade NON_SENSITIVE.
func (r *Runner) ReflectColumn(ctx context.Context, colName string, entity models.EntityType, tableContext string) (ReflectionResult, error) {
	if entity == models.EntityNone {
		return ReflectionResult{Level: models.NonSensitive}, nil
	}

	prompt := fmt.Sprintf(PIIReflectUserPrompt, colName, entity, tableContext)

	var answer struct {
		SensitivityLevel models.SensitivityLevel `json:"sensitivity_level"`
	}
	usage, err := r.run(ctx, StagePIIReflect, prompt, func(text string) error {
		if err := json.Unmarshal([]byte(text), &answer); err != nil {
			return &Error{Stage: StagePIIReflect, Kind: KindInvalidSchema, Err: err}
		}
		if !models.ValidSensitivityLevel(answer.SensitivityLevel) {
			return &Error{Stage: StagePIIReflect, Kind: KindInvalidSchema, Err: fmt.Errorf("sensitivity_level %q not permitted", answer.SensitivityLevel)}
		}
		return nil
	})
	if err != nil {
		return ReflectionResult{Usage: usage}, err
	}
	return ReflectionResult{Level: answer.SensitivityLevel, Usage: usage}, nil
}

// ClassifyTable runs the table-level non-PII sensitivity stage.
func (r *Runner) ClassifyTable(ctx context.Context, tableContext string) (TableResult, error) {
	prompt := fmt.Sprintf(NonPIIUserPrompt, DefaultISP, tableContext)

	var answer struct {
		SensitivityLevel models.TableSensitivity `json:"sensitivity_level"`
		Explanation      string                  `json:"explanation"`
	}
	usage, err := r.run(ctx, StageNonPII, prompt, func(text string) error {
		if err := json.Unmarshal([]byte(text), &answer); err != nil {
			return &Error{Stage: StageNonPII, Kind: KindInvalidSchema, Err: err}
		}
		if !models.ValidTableSensitivity(answer.SensitivityLevel) {
			return &Error{Stage: StageNonPII, Kind: KindInvalidSchema, Err: fmt.Errorf("sensitivity_level %q not permitted", answer.SensitivityLevel)}
		}
		return nil
	})
	if err != nil {
		return TableResult{Usage: usage}, err
	}
	return TableResult{Level: answer.SensitivityLevel, Explanation: answer.Explanation, Usage: usage}, nil
}

// run is the shared call loop: timeout, validate, retry transient failures.
// Validation failures are permanent and never retried; a transient failure
// that exhausts the retry budget comes back as KindExhausted.
func (r *Runner) run(ctx context.Context, stage Stage, prompt string, validate func(string) error) (Usage, error) {
	var lastErr *Error
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(float64(r.cfg.BackoffBase) * math.Pow(r.cfg.BackoffMultiplier, float64(attempt-2)))
			select {
			case <-ctx.Done():
				return Usage{}, &Error{Stage: stage, Kind: KindTimeout, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		resp, err := r.client.Classify(callCtx, stage, prompt)
		cancel()

		if err != nil {
			var cerr *Error
			if !errors.As(err, &cerr) {
				cerr = &Error{Stage: stage, Kind: KindUpstream, Err: err}
			}
			if !cerr.Transient() {
				return Usage{}, cerr
			}
			lastErr = cerr
			continue
		}

		if verr := validate(resp.Text); verr != nil {
			return resp.Usage, verr
		}
		return resp.Usage, nil
	}
	return Usage{}, &Error{Stage: stage, Kind: KindExhausted, Err: lastErr}
}

func hasAlphanumeric(samples []string) bool {
	for _, s := range samples {
		for _, r := range s {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return true
			}
		}
	}
	return false
}
