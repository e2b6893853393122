package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdxlabs/sdd-pipeline/internal/classify"
	"github.com/hdxlabs/sdd-pipeline/internal/models"
)

type fakeFetcher struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

type fakePreprocessor struct {
	desc  *models.TableDescriptor
	err   error
	calls int
}

func (p *fakePreprocessor) Parse(data []byte, fileName string) (*models.TableDescriptor, error) {
	p.calls++
	return p.desc, p.err
}

// fakeRunner answers stages from per-column maps. A missing entry yields a
// transient-looking error so containment paths are easy to provoke.
type fakeRunner struct {
	mu       sync.Mutex
	entities map[string]models.EntityType
	levels   map[string]models.SensitivityLevel
	tableRes classify.TableResult
	tableErr error

	detectCalls  int
	reflectCalls int
	tableCalls   int
	panicOnTable bool
}

func (r *fakeRunner) DetectColumn(ctx context.Context, col models.ColumnDescriptor) (classify.DetectionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectCalls++
	entity, ok := r.entities[col.Name]
	if !ok {
		return classify.DetectionResult{}, &classify.Error{Stage: classify.StagePIIDetect, Kind: classify.KindExhausted, Err: fmt.Errorf("no answer for %s", col.Name)}
	}
	return classify.DetectionResult{Entity: entity, Usage: classify.Usage{PromptTokens: 7, CompletionTokens: 3}}, nil
}

func (r *fakeRunner) ReflectColumn(ctx context.Context, colName string, entity models.EntityType, tableContext string) (classify.ReflectionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reflectCalls++
	if entity == models.EntityNone {
		return classify.ReflectionResult{Level: models.NonSensitive}, nil
	}
	level, ok := r.levels[colName]
	if !ok {
		return classify.ReflectionResult{}, &classify.Error{Stage: classify.StagePIIReflect, Kind: classify.KindExhausted, Err: fmt.Errorf("no level for %s", colName)}
	}
	return classify.ReflectionResult{Level: level, Usage: classify.Usage{PromptTokens: 5, CompletionTokens: 2}}, nil
}

func (r *fakeRunner) ClassifyTable(ctx context.Context, tableContext string) (classify.TableResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tableCalls++
	if r.panicOnTable {
		panic("classifier blew up")
	}
	return r.tableRes, r.tableErr
}

type fakeGateway struct {
	mu         sync.Mutex
	published  []*models.PipelineResult
	acked      []string
	publishErr error
	ackErr     error
	order      []string
}

func (g *fakeGateway) Publish(ctx context.Context, res *models.PipelineResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.publishErr != nil {
		return g.publishErr
	}
	g.published = append(g.published, res)
	g.order = append(g.order, "publish")
	return nil
}

func (g *fakeGateway) Ack(ctx context.Context, streamID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ackErr != nil {
		return g.ackErr
	}
	g.acked = append(g.acked, streamID)
	g.order = append(g.order, "ack")
	return nil
}

func testEvent() *models.InboundEvent {
	return &models.InboundEvent{
		EventType:    models.EventTypeResourceChanged,
		DatasetID:    "dataset-42",
		ResourceID:   "resource-abc",
		ResourceName: "contacts.csv",
		FileURL:      "https://data.example.org/contacts.csv",
		StreamID:     "1700000000000-0",
	}
}

func twoColumnTable() *models.TableDescriptor {
	return &models.TableDescriptor{
		FileName:    "contacts.csv",
		RowCount:    120,
		ColumnCount: 2,
		Columns: []models.ColumnDescriptor{
			{Name: "email", DType: "text", SampleValues: []string{"a@x.org", "b@y.org"}},
			{Name: "notes", DType: "text", SampleValues: []string{"follow up", "called twice"}},
		},
		Context: "## Table Overview\ncontacts.csv",
	}
}

func happyRunner() *fakeRunner {
	return &fakeRunner{
		entities: map[string]models.EntityType{
			"email": models.EntityEmail,
			"notes": models.EntityNone,
		},
		levels: map[string]models.SensitivityLevel{
			"email": models.HighSensitive,
		},
		tableRes: classify.TableResult{Level: models.TableLowSensitive, Explanation: "contact roster"},
	}
}

func newTestOrchestrator(f *fakeFetcher, p *fakePreprocessor, r *fakeRunner, g *fakeGateway) *Orchestrator {
	return NewOrchestrator(f, p, r, g, nil, nil, Config{
		FanoutWidth:     2,
		PIIDetectModel:  "gemini-1.5-flash",
		PIIReflectModel: "gemini-1.5-flash",
		NonPIIModel:     "gemini-1.5-flash",
	})
}

func TestHandleHappyPath(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("email,notes\na@x.org,follow up\n")}
	pre := &fakePreprocessor{desc: twoColumnTable()}
	runner := happyRunner()
	gateway := &fakeGateway{}
	orch := newTestOrchestrator(fetcher, pre, runner, gateway)

	err := orch.Handle(context.Background(), testEvent())
	require.NoError(t, err)

	require.Len(t, gateway.published, 1)
	res := gateway.published[0]

	assert.True(t, res.ProcessingSuccess)
	assert.False(t, res.Degraded)
	assert.Empty(t, res.FailureStage)
	assert.Equal(t, "resource-abc", res.ResourceID)
	assert.Equal(t, 120, res.RowCount)
	assert.Equal(t, 2, res.ColumnCount)

	require.Len(t, res.Columns, 2)
	assert.Equal(t, "email", res.Columns[0].Name)
	assert.True(t, res.Columns[0].PIIDetected)
	assert.Equal(t, models.EntityEmail, res.Columns[0].EntityType)
	assert.Equal(t, models.HighSensitive, res.Columns[0].Sensitivity)
	assert.Equal(t, "notes", res.Columns[1].Name)
	assert.False(t, res.Columns[1].PIIDetected)

	assert.True(t, res.PIISensitive)
	assert.False(t, res.NonPIISensitive)
	require.NotNil(t, res.NonPII)
	assert.Equal(t, models.TableLowSensitive, res.NonPII.Sensitivity)

	assert.Equal(t, []string{"1700000000000-0"}, gateway.acked)
	assert.Equal(t, []string{"publish", "ack"}, gateway.order, "ack must follow publish")

	// Two detections, one reflection call per column, one table call.
	assert.Equal(t, 2, runner.detectCalls)
	assert.Equal(t, 2, runner.reflectCalls)
	assert.Equal(t, 1, runner.tableCalls)

	assert.Positive(t, res.PromptTokens)
	assert.Positive(t, res.CompletionTokens)
	assert.Equal(t, "gemini-1.5-flash", res.PIIDetectModel)
}

func TestHandleColumnFailureIsContained(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("x")}
	desc := twoColumnTable()
	desc.Columns = append(desc.Columns, models.ColumnDescriptor{Name: "mystery", SampleValues: []string{"???"}})
	desc.ColumnCount = 3
	pre := &fakePreprocessor{desc: desc}
	runner := happyRunner() // no entry for "mystery": detection fails
	gateway := &fakeGateway{}
	orch := newTestOrchestrator(fetcher, pre, runner, gateway)

	err := orch.Handle(context.Background(), testEvent())
	require.NoError(t, err)

	require.Len(t, gateway.published, 1)
	res := gateway.published[0]

	require.Len(t, res.Columns, 3)
	assert.Empty(t, res.Columns[0].ClassificationError)
	assert.Empty(t, res.Columns[1].ClassificationError)
	assert.NotEmpty(t, res.Columns[2].ClassificationError)
	assert.False(t, res.Columns[2].PIIDetected)

	assert.False(t, res.ProcessingSuccess)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.FailureStage, "unit failures must not set a pipeline failure stage")
	assert.True(t, res.PIISensitive, "healthy columns still contribute to derived flags")
	assert.Len(t, gateway.acked, 1)
}

func TestHandleFailedColumnSkipsReflection(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("x")}
	pre := &fakePreprocessor{desc: twoColumnTable()}
	runner := happyRunner()
	runner.entities = map[string]models.EntityType{"notes": models.EntityNone} // email detection fails
	gateway := &fakeGateway{}
	orch := newTestOrchestrator(fetcher, pre, runner, gateway)

	err := orch.Handle(context.Background(), testEvent())
	require.NoError(t, err)

	assert.Equal(t, 2, runner.detectCalls)
	assert.Equal(t, 1, runner.reflectCalls, "a column that failed detection is not reflected")
}

func TestHandleFetchFailurePublishesMinimalReport(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("resource fetch: status 404")}
	pre := &fakePreprocessor{}
	runner := happyRunner()
	gateway := &fakeGateway{}
	orch := newTestOrchestrator(fetcher, pre, runner, gateway)

	err := orch.Handle(context.Background(), testEvent())
	require.NoError(t, err)

	require.Len(t, gateway.published, 1)
	res := gateway.published[0]

	assert.False(t, res.ProcessingSuccess)
	assert.False(t, res.Degraded)
	assert.Equal(t, models.FailureStageFetch, res.FailureStage)
	assert.Contains(t, res.FailureDetail, "404")
	assert.Equal(t, "resource-abc", res.ResourceID)
	assert.Empty(t, res.Columns)
	assert.Nil(t, res.NonPII)

	assert.Zero(t, pre.calls, "nothing downstream of a failed fetch may run")
	assert.Zero(t, runner.detectCalls)
	assert.Zero(t, runner.tableCalls)
	assert.Len(t, gateway.acked, 1, "permanent failures are still acknowledged")
}

func TestHandlePreprocessFailurePublishesMinimalReport(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("%PDF-1.4")}
	pre := &fakePreprocessor{err: fmt.Errorf("unsupported file format .pdf")}
	runner := happyRunner()
	gateway := &fakeGateway{}
	orch := newTestOrchestrator(fetcher, pre, runner, gateway)

	err := orch.Handle(context.Background(), testEvent())
	require.NoError(t, err)

	require.Len(t, gateway.published, 1)
	res := gateway.published[0]
	assert.Equal(t, models.FailureStagePreprocess, res.FailureStage)
	assert.False(t, res.ProcessingSuccess)
	assert.Zero(t, runner.detectCalls)
	assert.Len(t, gateway.acked, 1)
}

func TestHandleTableFailureYieldsUndetermined(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("x")}
	pre := &fakePreprocessor{desc: twoColumnTable()}
	runner := happyRunner()
	runner.tableErr = &classify.Error{Stage: classify.StageNonPII, Kind: classify.KindExhausted, Err: fmt.Errorf("upstream down")}
	gateway := &fakeGateway{}
	orch := newTestOrchestrator(fetcher, pre, runner, gateway)

	err := orch.Handle(context.Background(), testEvent())
	require.NoError(t, err)

	res := gateway.published[0]
	require.NotNil(t, res.NonPII)
	assert.Equal(t, models.TableUndetermined, res.NonPII.Sensitivity)
	assert.NotEmpty(t, res.NonPII.ClassificationError)
	assert.False(t, res.NonPIISensitive)
	assert.True(t, res.Degraded)
	assert.Len(t, res.Columns, 2, "column verdicts survive a table-stage failure")
}

func TestHandlePublishFailureLeavesEventUnacked(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("x")}
	pre := &fakePreprocessor{desc: twoColumnTable()}
	runner := happyRunner()
	gateway := &fakeGateway{publishErr: fmt.Errorf("stream unavailable")}
	orch := newTestOrchestrator(fetcher, pre, runner, gateway)

	err := orch.Handle(context.Background(), testEvent())
	require.Error(t, err)
	assert.Empty(t, gateway.acked, "an unpublished result must not be acknowledged")
}

func TestHandleAckFailurePropagates(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("x")}
	pre := &fakePreprocessor{desc: twoColumnTable()}
	runner := happyRunner()
	gateway := &fakeGateway{ackErr: fmt.Errorf("connection reset")}
	orch := newTestOrchestrator(fetcher, pre, runner, gateway)

	err := orch.Handle(context.Background(), testEvent())
	require.Error(t, err)
	assert.Len(t, gateway.published, 1, "the result is published even when the ack fails")
}

func TestHandlePanicBecomesInternalFailure(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("x")}
	pre := &fakePreprocessor{desc: twoColumnTable()}
	runner := happyRunner()
	runner.panicOnTable = true
	gateway := &fakeGateway{}
	orch := newTestOrchestrator(fetcher, pre, runner, gateway)

	err := orch.Handle(context.Background(), testEvent())
	require.NoError(t, err)

	require.Len(t, gateway.published, 1)
	res := gateway.published[0]
	assert.Equal(t, models.FailureStageInternal, res.FailureStage)
	assert.Contains(t, res.FailureDetail, "classifier blew up")
	assert.False(t, res.ProcessingSuccess)
	assert.Len(t, gateway.acked, 1)
}

func TestHandleColumnOrderIsPreserved(t *testing.T) {
	names := []string{"zed", "alpha", "mid", "omega", "beta"}
	desc := &models.TableDescriptor{FileName: "wide.csv", RowCount: 5, ColumnCount: len(names)}
	entities := make(map[string]models.EntityType, len(names))
	for _, n := range names {
		desc.Columns = append(desc.Columns, models.ColumnDescriptor{Name: n, SampleValues: []string{"v"}})
		entities[n] = models.EntityNone
	}

	fetcher := &fakeFetcher{data: []byte("x")}
	pre := &fakePreprocessor{desc: desc}
	runner := &fakeRunner{entities: entities, tableRes: classify.TableResult{Level: models.TableLowSensitive}}
	gateway := &fakeGateway{}
	orch := NewOrchestrator(fetcher, pre, runner, gateway, nil, nil, Config{FanoutWidth: 3})

	err := orch.Handle(context.Background(), testEvent())
	require.NoError(t, err)

	res := gateway.published[0]
	require.Len(t, res.Columns, len(names))
	for i, n := range names {
		assert.Equal(t, n, res.Columns[i].Name)
	}
}
