package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdxlabs/sdd-pipeline/internal/models"
)

func TestFormatIsDeterministic(t *testing.T) {
	ev := testEvent()
	desc := twoColumnTable()
	columns := []models.ColumnVerdict{
		{Name: "email", EntityType: models.EntityEmail, PIIDetected: true, Sensitivity: models.HighSensitive},
		{Name: "notes", EntityType: models.EntityNone},
	}
	table := &models.TableVerdict{Sensitivity: models.TableLowSensitive, Explanation: "roster"}
	opts := FormatOptions{
		PIIDetectModel: "gemini-1.5-flash",
		PromptTokens:   100,
		Now:            time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	a := Format(ev, desc, columns, table, opts)
	b := Format(ev, desc, columns, table, opts)
	assert.Equal(t, a, b)
	assert.Equal(t, opts.Now, a.ProcessedAt)
}

func TestFormatDerivesPIISensitive(t *testing.T) {
	ev := testEvent()
	desc := twoColumnTable()

	cases := []struct {
		name    string
		verdict models.ColumnVerdict
		want    bool
	}{
		{"sensitive pii", models.ColumnVerdict{Name: "email", EntityType: models.EntityEmail, PIIDetected: true, Sensitivity: models.ModerateSensitive}, true},
		{"non-sensitive pii", models.ColumnVerdict{Name: "country", EntityType: models.EntityCountry, PIIDetected: true, Sensitivity: models.NonSensitive}, false},
		{"no pii", models.ColumnVerdict{Name: "notes", EntityType: models.EntityNone}, false},
		{"pii without a grade", models.ColumnVerdict{Name: "email", EntityType: models.EntityEmail, PIIDetected: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Format(ev, desc, []models.ColumnVerdict{tc.verdict}, &models.TableVerdict{Sensitivity: models.TableLowSensitive}, FormatOptions{})
			assert.Equal(t, tc.want, res.PIISensitive)
		})
	}
}

func TestFormatDerivesNonPIISensitive(t *testing.T) {
	ev := testEvent()
	desc := twoColumnTable()

	res := Format(ev, desc, nil, &models.TableVerdict{Sensitivity: models.TableHighSensitive}, FormatOptions{})
	assert.True(t, res.NonPIISensitive)

	res = Format(ev, desc, nil, &models.TableVerdict{Sensitivity: models.TableModerateSensitive}, FormatOptions{})
	assert.False(t, res.NonPIISensitive)
}

func TestFormatOutcomeFlags(t *testing.T) {
	ev := testEvent()
	desc := twoColumnTable()
	clean := []models.ColumnVerdict{{Name: "notes", EntityType: models.EntityNone}}
	broken := []models.ColumnVerdict{{Name: "notes", EntityType: models.EntityNone, ClassificationError: "exhausted"}}
	table := &models.TableVerdict{Sensitivity: models.TableLowSensitive}

	res := Format(ev, desc, clean, table, FormatOptions{})
	assert.True(t, res.ProcessingSuccess)
	assert.False(t, res.Degraded)

	res = Format(ev, desc, broken, table, FormatOptions{})
	assert.False(t, res.ProcessingSuccess)
	assert.True(t, res.Degraded)

	res = Format(ev, nil, nil, nil, FormatOptions{FailureStage: models.FailureStageFetch, FailureDetail: "status 404"})
	assert.False(t, res.ProcessingSuccess)
	assert.False(t, res.Degraded, "a whole-run failure is not a degraded run")
	assert.Equal(t, models.FailureStageFetch, res.FailureStage)
}

func TestFormatMinimalReportShape(t *testing.T) {
	ev := testEvent()

	res := Format(ev, nil, nil, nil, FormatOptions{FailureStage: models.FailureStageFetch, FailureDetail: "unreachable"})
	require.NotNil(t, res.Columns)
	assert.Empty(t, res.Columns)
	assert.Nil(t, res.NonPII)
	assert.Zero(t, res.RowCount)
	assert.Zero(t, res.ColumnCount)
	assert.Equal(t, ev.ResourceID, res.ResourceID)
	assert.Equal(t, ev.FileURL, res.FileURL)
	assert.False(t, res.ProcessedAt.IsZero())
}

func TestFormatCopiesTableSummary(t *testing.T) {
	ev := testEvent()
	desc := twoColumnTable()

	res := Format(ev, desc, nil, &models.TableVerdict{Sensitivity: models.TableLowSensitive}, FormatOptions{})
	assert.Equal(t, desc.FileName, res.FileName)
	assert.Equal(t, desc.RowCount, res.RowCount)
	assert.Equal(t, desc.ColumnCount, res.ColumnCount)
}
