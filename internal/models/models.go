package models

import "time"

// EventTypeResourceChanged is the only inbound event type the pipeline acts on.
// Other event types are acknowledged and dropped.
const EventTypeResourceChanged = "resource-data-changed"

// InboundEvent is one delivery from the inbound stream. StreamID is the
// Redis stream entry ID and is what gets acknowledged; ResourceID identifies
// the logical resource and may repeat across redeliveries.
type InboundEvent struct {
	EventType    string `json:"event_type"`
	DatasetID    string `json:"dataset_id,omitempty"`
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name,omitempty"`
	FileURL      string `json:"file_url"`
	StreamID     string `json:"-"`
}

// ColumnDescriptor describes one column of a parsed table.
type ColumnDescriptor struct {
	Name         string   `json:"name"`
	DType        string   `json:"dtype"`
	SampleValues []string `json:"sample_values"`
}

// TableDescriptor is the preprocessor's view of a tabular file. It is
// immutable once produced and owned by a single pipeline run.
type TableDescriptor struct {
	FileName    string
	Columns     []ColumnDescriptor
	RowCount    int
	ColumnCount int
	// Context is a markdown rendering of the table structure and sample
	// rows, used as shared context for the classification prompts.
	Context string
}

// EntityType is a PII entity category as predicted by the detection stage.
type EntityType string

const (
	EntityNone        EntityType = "None"
	EntityPersonName  EntityType = "person_name"
	EntityEmail       EntityType = "email_address"
	EntityPhoneNumber EntityType = "phone_number"
	EntityAddress     EntityType = "address"
	EntityCity        EntityType = "city"
	EntityCountry     EntityType = "country"
	EntityDate        EntityType = "date"
	EntityProductName EntityType = "product_name"
	EntityPrice       EntityType = "price"
	EntityUnknown     EntityType = "unknown"
)

// EntityTypes lists every entity the detection stage may return, excluding
// EntityNone.
var EntityTypes = []EntityType{
	EntityPersonName,
	EntityEmail,
	EntityPhoneNumber,
	EntityAddress,
	EntityCity,
	EntityCountry,
	EntityDate,
	EntityProductName,
	EntityPrice,
	EntityUnknown,
}

// ValidEntityType reports whether s is a known entity type or EntityNone.
func ValidEntityType(s EntityType) bool {
	if s == EntityNone {
		return true
	}
	for _, e := range EntityTypes {
		if s == e {
			return true
		}
	}
	return false
}

// SensitivityLevel grades a PII column's sensitivity (stage 2).
type SensitivityLevel string

const (
	SensitivityUnset   SensitivityLevel = ""
	NonSensitive       SensitivityLevel = "NON_SENSITIVE"
	ModerateSensitive  SensitivityLevel = "MODERATE_SENSITIVE"
	HighSensitive      SensitivityLevel = "HIGH_SENSITIVE"
	SevereSensitive    SensitivityLevel = "SEVERE_SENSITIVE"
	SensitivityUnknown SensitivityLevel = "UNDETERMINED"
)

// ValidSensitivityLevel reports whether s is a level the reflection stage is
// allowed to return.
func ValidSensitivityLevel(s SensitivityLevel) bool {
	switch s {
	case NonSensitive, ModerateSensitive, HighSensitive, SevereSensitive:
		return true
	}
	return false
}

// TableSensitivity grades the table-level, non-PII sensitivity (stage 3).
type TableSensitivity string

const (
	TableLowSensitive      TableSensitivity = "LOW_SENSITIVE"
	TableModerateSensitive TableSensitivity = "MODERATE_SENSITIVE"
	TableHighSensitive     TableSensitivity = "HIGH_SENSITIVE"
	TableUndetermined      TableSensitivity = "UNDETERMINED"
)

// ValidTableSensitivity reports whether s is a level the non-PII stage is
// allowed to return.
func ValidTableSensitivity(s TableSensitivity) bool {
	switch s {
	case TableLowSensitive, TableModerateSensitive, TableHighSensitive:
		return true
	}
	return false
}

// ColumnVerdict accumulates the per-column results of stages 1 and 2.
// ClassificationError is empty when both stages completed cleanly for the
// column; a non-empty value scopes the failure to this column only.
type ColumnVerdict struct {
	Name                string           `json:"column_name"`
	EntityType          EntityType       `json:"entity_type"`
	PIIDetected         bool             `json:"pii_detected"`
	Sensitivity         SensitivityLevel `json:"sensitivity_level,omitempty"`
	ClassificationError string           `json:"classification_error,omitempty"`
}

// TableVerdict is the stage 3 result for the whole table.
type TableVerdict struct {
	Sensitivity         TableSensitivity `json:"sensitivity_level"`
	Explanation         string           `json:"explanation,omitempty"`
	ClassificationError string           `json:"classification_error,omitempty"`
}

// Failure stages recorded on a PipelineResult when a run could not complete
// normally.
const (
	FailureStageFetch      = "fetch"
	FailureStagePreprocess = "preprocess"
	FailureStageInternal   = "internal"
)

// PipelineResult is the canonical SDD report: the single document published
// for every processed event, degraded or not.
type PipelineResult struct {
	// Inbound event metadata.
	DatasetID    string `json:"dataset_id,omitempty"`
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name,omitempty"`
	FileURL      string `json:"file_url"`
	FileName     string `json:"file_name,omitempty"`

	// Processing outcome.
	ProcessingSuccess bool      `json:"processing_success"`
	FailureStage      string    `json:"failure_stage,omitempty"`
	FailureDetail     string    `json:"failure_detail,omitempty"`
	Degraded          bool      `json:"degraded,omitempty"`
	ProcessedAt       time.Time `json:"processed_at"`

	// Table summary.
	RowCount    int `json:"n_records"`
	ColumnCount int `json:"n_columns"`

	// Derived flags.
	PIISensitive    bool `json:"pii_sensitive"`
	NonPIISensitive bool `json:"non_pii_sensitive"`

	// Verdicts, in original column order.
	Columns []ColumnVerdict `json:"columns"`
	NonPII  *TableVerdict   `json:"non_pii,omitempty"`

	// Model attribution and token accounting.
	PIIDetectModel   string `json:"pii_classifier_model,omitempty"`
	PIIReflectModel  string `json:"pii_reflection_model,omitempty"`
	NonPIIModel      string `json:"non_pii_classifier_model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}
