package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/photarium/enrich/internal/job"
)

const (
	defaultModelTimeout = 30 * time.Second
	generatePath        = "/api/generate"
)

// Config holds the vision-model client configuration. All values are fixed at
// construction; the client carries no ambient state.
type Config struct {
	BaseURL         string
	Model           string
	PromptTemplate  string // rendered with the classification set; default used when empty
	Classifications []string
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// Client calls an Ollama-compatible vision model and turns its free-form
// response into a validated TagResponse.
type Client struct {
	baseURL string
	model   string
	prompt  string
	allowed map[string]string // lower-cased classification -> configured form
	client  *http.Client
	schema  *responseSchema
	logger  *slog.Logger
}

// TagResponse is the validated, normalized outcome of a classify call.
// Dropped counts entries discarded for carrying an unconfigured
// classification; it exists for observability, not as an error signal.
type TagResponse struct {
	Tags    []job.Tag
	Dropped int
}

// NewClient validates cfg and builds a tagging client. Configuration problems
// (empty classification set, missing placeholder in a custom template) are
// surfaced here, before any job runs.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("vision: base url is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("vision: model is required")
	}
	if len(cfg.Classifications) == 0 {
		return nil, errors.New("vision: classification set is empty")
	}

	template := cfg.PromptTemplate
	if template == "" {
		template = defaultPromptTemplate
	}
	if !strings.Contains(template, classificationsPlaceholder) {
		return nil, fmt.Errorf("vision: prompt template is missing the %s placeholder", classificationsPlaceholder)
	}

	allowed := make(map[string]string, len(cfg.Classifications))
	for _, c := range cfg.Classifications {
		allowed[strings.ToLower(strings.TrimSpace(c))] = c
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	schema, err := compileResponseSchema()
	if err != nil {
		return nil, fmt.Errorf("vision: compile response schema: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		prompt:  RenderPrompt(template, cfg.Classifications),
		allowed: allowed,
		client:  client,
		schema:  schema,
		logger:  logger,
	}, nil
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type tagEntry struct {
	Tag            string `json:"tag"`
	Classification string `json:"classification"`
}

type taggingPayload struct {
	TagsWithClassifications []tagEntry `json:"tags_with_classifications"`
}

// ClassifyTags sends the image with the rendered prompt to the vision model
// and parses the response. An empty tag list is a valid success; the model
// simply omits categories absent from the image.
func (c *Client) ClassifyTags(ctx context.Context, image []byte) (*TagResponse, error) {
	const op = "classify_tags"

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: c.prompt,
		Images: []string{base64.StdEncoding.EncodeToString(image)},
		Stream: false,
	})
	if err != nil {
		return nil, modelErr(op, ModelMalformedResponse, fmt.Errorf("encode request: %w", err))
	}

	raw, err := c.post(ctx, op, generatePath, body)
	if err != nil {
		return nil, err
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return nil, modelErr(op, ModelMalformedResponse, fmt.Errorf("decode generate response: %w", err))
	}

	payload, err := c.parseTaggingPayload(gen.Response)
	if err != nil {
		return nil, modelErr(op, ModelMalformedResponse, err)
	}

	tags, dropped := c.normalizeTags(payload.TagsWithClassifications)
	if dropped > 0 {
		c.logger.Warn("Dropped tags with unconfigured classifications",
			slog.Int("dropped_count", dropped),
			slog.Int("kept_count", len(tags)),
		)
	}

	return &TagResponse{Tags: tags, Dropped: dropped}, nil
}

func (c *Client) post(ctx context.Context, op, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, modelErr(op, ModelUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, modelErr(op, requestErrorKind(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, modelErr(op, ModelUnreachable, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, modelErr(op, requestErrorKind(err), err)
	}
	return buf.Bytes(), nil
}

// requestErrorKind tells a timed-out call apart from an unreachable service.
func requestErrorKind(err error) ModelErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ModelTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ModelTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ModelTimeout
	}
	return ModelUnreachable
}

// parseTaggingPayload extracts the JSON object from the model's text,
// validates it against the response schema, and unmarshals it. The model may
// wrap the JSON in prose, so the first {...} block is tried when the whole
// string is not valid JSON.
func (c *Client) parseTaggingPayload(content string) (*taggingPayload, error) {
	raw, err := extractJSONObject(content)
	if err != nil {
		return nil, err
	}

	if err := c.schema.validate(raw); err != nil {
		return nil, err
	}

	var payload taggingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode tagging payload: %w", err)
	}
	return &payload, nil
}

func extractJSONObject(content string) ([]byte, error) {
	if json.Valid([]byte(content)) {
		return []byte(content), nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON object found in model response")
	}

	snippet := content[start : end+1]
	if !json.Valid([]byte(snippet)) {
		return nil, errors.New("model response contains invalid JSON")
	}
	return []byte(snippet), nil
}

// normalizeTags lower-cases and trims names, enforces the classification
// whitelist, and deduplicates (name, classification) pairs in order of first
// appearance. The same name under two configured classifications is kept
// twice; that is the model asserting both. Normalization is stable: applying
// it to its own output changes nothing.
func (c *Client) normalizeTags(entries []tagEntry) ([]job.Tag, int) {
	var (
		tags    []job.Tag
		dropped int
		seen    = make(map[job.Tag]struct{}, len(entries))
	)
	for _, e := range entries {
		name := strings.ToLower(strings.TrimSpace(e.Tag))
		if name == "" {
			// Nothing to keep, but not an unconfigured classification, so it
			// does not count as dropped.
			continue
		}
		canonical, ok := c.allowed[strings.ToLower(strings.TrimSpace(e.Classification))]
		if !ok {
			dropped++
			continue
		}
		tag := job.Tag{Name: name, Classification: canonical}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags, dropped
}
