package classify

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// Usage is the token accounting for one model call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is a raw, unvalidated model answer.
type Response struct {
	Text  string
	Usage Usage
}

// Client invokes the language-model service for one stage. Implementations
// must be safe for concurrent use.
type Client interface {
	Classify(ctx context.Context, stage Stage, prompt string) (*Response, error)
}

// ModelNames records which model identifier serves each stage.
type ModelNames struct {
	PIIDetect  string
	PIIReflect string
	NonPII     string
}

// VertexClient holds one pre-configured generative model per classification
// stage. All three are forced to JSON output at temperature 0.
type VertexClient struct {
	models     map[Stage]*genai.GenerativeModel
	names      ModelNames
	baseClient *genai.Client
}

// NewVertexClient creates a client with all three stage models configured.
func NewVertexClient(ctx context.Context, projectID, region string, names ModelNames) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	c := &VertexClient{
		models:     make(map[Stage]*genai.GenerativeModel),
		names:      names,
		baseClient: baseClient,
	}
	c.models[StagePIIDetect] = c.configure(names.PIIDetect, PIIDetectSystemPrompt)
	c.models[StagePIIReflect] = c.configure(names.PIIReflect, PIIReflectSystemPrompt)
	c.models[StageNonPII] = c.configure(names.NonPII, NonPIISystemPrompt)
	return c, nil
}

func (c *VertexClient) configure(modelName, systemPrompt string) *genai.GenerativeModel {
	model := c.baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		// Force JSON output; the stage schemas depend on it.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model
}

// Names returns the per-stage model identifiers.
func (c *VertexClient) Names() ModelNames { return c.names }

// Classify sends the stage prompt and returns the raw JSON answer.
func (c *VertexClient) Classify(ctx context.Context, stage Stage, prompt string) (*Response, error) {
	model, ok := c.models[stage]
	if !ok {
		return nil, &Error{Stage: stage, Kind: KindUpstream, Err: fmt.Errorf("unknown stage")}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		kind := KindUpstream
		if ctx.Err() == context.DeadlineExceeded {
			kind = KindTimeout
		}
		return nil, &Error{Stage: stage, Kind: kind, Err: err}
	}

	text := extractJSONContent(resp)
	if text == "" {
		return nil, &Error{Stage: stage, Kind: KindEmptyResponse}
	}

	out := &Response{Text: text}
	if resp.UsageMetadata != nil {
		out.Usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.Usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// extractJSONContent gets the raw text content out of the model response,
// trimming markdown fences the model sometimes adds despite the JSON MIME
// setting.
func extractJSONContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	if txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text); ok {
		clean := strings.TrimSpace(string(txt))
		clean = strings.TrimPrefix(clean, "```json")
		clean = strings.TrimSuffix(clean, "```")
		return strings.TrimSpace(clean)
	}
	return ""
}
