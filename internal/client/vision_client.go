package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/framepick/api/internal/config"
	"github.com/framepick/api/internal/model"
)

// Media is one media payload handed to the model.
type Media struct {
	Bytes    []byte
	MimeType string
}

// QualityVerdict is the outcome of one pairwise quality comparison.
type QualityVerdict struct {
	Winner     int     `json:"winner"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// ModelClient is the multimodal model adapter: four logical calls plus
// bucket naming. Implementations retry transient failures internally;
// an error from any method means retries are exhausted.
type ModelClient interface {
	Describe(ctx context.Context, media Media) (string, error)
	SameTake(ctx context.Context, a, b Media) (bool, error)
	CompareQuality(ctx context.Context, a, b Media, mediaType model.MediaType) (*QualityVerdict, error)
	NameBucket(ctx context.Context, labels []string) (string, error)
	Enhance(ctx context.Context, img Media) ([]byte, error)
}

// VisionClient talks to an OpenAI-compatible multimodal endpoint.
type VisionClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	enhanceModel string
	timeout      time.Duration
	maxRetries   uint
}

// NewVisionClient creates a new model adapter client.
func NewVisionClient(cfg *config.VisionConfig) *VisionClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &VisionClient{
		httpClient:   &http.Client{Timeout: timeout + 10*time.Second},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		enhanceModel: cfg.EnhanceModel,
		timeout:      timeout,
		maxRetries:   uint(retries),
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *VisionClient) IsConfigured() bool {
	return c.apiKey != ""
}

// --- wire types (chat completions) ---

type visionContentPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *visionImageURL  `json:"image_url,omitempty"`
}

type visionImageURL struct {
	URL string `json:"url"`
}

type visionMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type visionResponseFormat struct {
	Type string `json:"type"`
}

type visionChatRequest struct {
	Model          string                `json:"model"`
	Messages       []visionMessage       `json:"messages"`
	Temperature    float64               `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *visionResponseFormat `json:"response_format,omitempty"`
}

type visionChatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// httpStatusError marks provider responses that carry an HTTP status, so
// the retry policy can tell transient failures from permanent ones.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("model API error (status %d): %s", e.status, e.body)
}

func isTransient(err error) bool {
	if se, ok := err.(*httpStatusError); ok {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	// Network-level failures (timeouts, resets) are transient.
	return true
}

func dataURL(m Media) string {
	return "data:" + m.MimeType + ";base64," + base64.StdEncoding.EncodeToString(m.Bytes)
}

// chat runs one chat completion with retry/backoff and a per-attempt timeout.
func (c *VisionClient) chat(ctx context.Context, req *visionChatRequest) (string, error) {
	var content string
	err := retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			bodyBytes, err := json.Marshal(req)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to marshal request: %w", err))
			}

			httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost,
				c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return fmt.Errorf("failed to send request: %w", err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				serr := &httpStatusError{status: resp.StatusCode, body: string(respBody)}
				if !isTransient(serr) {
					return retry.Unrecoverable(serr)
				}
				return serr
			}

			var chatResp visionChatResponse
			if err := json.Unmarshal(respBody, &chatResp); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
			if len(chatResp.Choices) == 0 {
				return fmt.Errorf("no choices in response")
			}
			content = chatResp.Choices[0].Message.Content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.maxRetries),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	return content, err
}

// Describe returns a single descriptive sentence for the media.
func (c *VisionClient) Describe(ctx context.Context, media Media) (string, error) {
	req := &visionChatRequest{
		Model: c.model,
		Messages: []visionMessage{
			{Role: "user", Content: []visionContentPart{
				{Type: "text", Text: "Describe this photograph in one concise sentence: the subject, the setting, and anything notable about composition or lighting."},
				{Type: "image_url", ImageURL: &visionImageURL{URL: dataURL(media)}},
			}},
		},
		Temperature: 0.2,
		MaxTokens:   128,
	}
	out, err := c.chat(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SameTake reports whether two images are takes of the same scene.
func (c *VisionClient) SameTake(ctx context.Context, a, b Media) (bool, error) {
	req := &visionChatRequest{
		Model: c.model,
		Messages: []visionMessage{
			{Role: "user", Content: []visionContentPart{
				{Type: "text", Text: "These two photographs may be takes of the same shot: same subject, same moment, with only trivial differences in framing, pose, exposure or composition. Answer with exactly one word: SAME or DIFFERENT."},
				{Type: "image_url", ImageURL: &visionImageURL{URL: dataURL(a)}},
				{Type: "image_url", ImageURL: &visionImageURL{URL: dataURL(b)}},
			}},
		},
		Temperature: 0,
		MaxTokens:   8,
	}
	out, err := c.chat(ctx, req)
	if err != nil {
		return false, err
	}
	answer := strings.ToUpper(strings.TrimSpace(out))
	return strings.HasPrefix(answer, "SAME"), nil
}

// CompareQuality judges which of two media files is the stronger shot.
func (c *VisionClient) CompareQuality(ctx context.Context, a, b Media, mediaType model.MediaType) (*QualityVerdict, error) {
	prompt := "You are a professional photo editor culling a shoot. Compare these two photographs of the same take and decide which is the stronger image: sharpness, exposure, composition, expression, moment. "
	if mediaType == model.MediaTypeVideo {
		prompt = "You are a professional video editor reviewing clips of the same take. Compare these two clips and decide which is the stronger footage: stability, framing, exposure, timing. "
	}
	prompt += `Respond as JSON: {"winner": 1 or 2, "reasoning": "<one sentence>", "confidence": <0.0-1.0>}`

	req := &visionChatRequest{
		Model: c.model,
		Messages: []visionMessage{
			{Role: "user", Content: []visionContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &visionImageURL{URL: dataURL(a)}},
				{Type: "image_url", ImageURL: &visionImageURL{URL: dataURL(b)}},
			}},
		},
		Temperature:    0,
		MaxTokens:      256,
		ResponseFormat: &visionResponseFormat{Type: "json_object"},
	}
	out, err := c.chat(ctx, req)
	if err != nil {
		return nil, err
	}

	var verdict QualityVerdict
	if err := json.Unmarshal([]byte(out), &verdict); err != nil {
		return nil, fmt.Errorf("failed to parse quality verdict: %w", err)
	}
	if verdict.Winner != 1 && verdict.Winner != 2 {
		return nil, fmt.Errorf("quality verdict has invalid winner %d", verdict.Winner)
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return &verdict, nil
}

// NameBucket derives a 2-4 word group name from member labels.
func (c *VisionClient) NameBucket(ctx context.Context, labels []string) (string, error) {
	const maxLabels = 5
	if len(labels) > maxLabels {
		labels = labels[:maxLabels]
	}
	req := &visionChatRequest{
		Model: c.model,
		Messages: []visionMessage{
			{Role: "system", Content: "You name groups of near-duplicate photographs. Reply with a 2-4 word name only, no quotes."},
			{Role: "user", Content: "Photo descriptions:\n- " + strings.Join(labels, "\n- ")},
		},
		Temperature: 0.4,
		MaxTokens:   16,
	}
	out, err := c.chat(ctx, req)
	if err != nil {
		return "", err
	}
	name := strings.Trim(strings.TrimSpace(out), `"'`)
	if name == "" {
		return "", fmt.Errorf("empty bucket name")
	}
	return name, nil
}

// --- enhancement (image edits) ---

type visionImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Enhance requests an improved rendering of an image. A nil result with a
// nil error means the provider declined; callers leave the original as-is.
func (c *VisionClient) Enhance(ctx context.Context, img Media) ([]byte, error) {
	if c.enhanceModel == "" {
		return nil, nil
	}

	var enhanced []byte
	err := retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			var body bytes.Buffer
			writer := multipart.NewWriter(&body)
			if err := writer.WriteField("model", c.enhanceModel); err != nil {
				return retry.Unrecoverable(err)
			}
			if err := writer.WriteField("prompt", "Enhance this photograph: correct exposure and white balance, recover highlights and shadows, increase clarity. Keep the content and composition unchanged."); err != nil {
				return retry.Unrecoverable(err)
			}
			part, err := writer.CreateFormFile("image", "image")
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if _, err := part.Write(img.Bytes); err != nil {
				return retry.Unrecoverable(err)
			}
			if err := writer.Close(); err != nil {
				return retry.Unrecoverable(err)
			}

			httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost,
				c.baseURL+"/images/edits", &body)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			httpReq.Header.Set("Content-Type", writer.FormDataContentType())
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return fmt.Errorf("failed to send request: %w", err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				serr := &httpStatusError{status: resp.StatusCode, body: string(respBody)}
				if !isTransient(serr) {
					return retry.Unrecoverable(serr)
				}
				return serr
			}

			var imgResp visionImageResponse
			if err := json.Unmarshal(respBody, &imgResp); err != nil {
				return fmt.Errorf("failed to unmarshal response: %w", err)
			}
			if len(imgResp.Data) == 0 {
				return fmt.Errorf("no image in response")
			}
			enhanced, err = base64.StdEncoding.DecodeString(imgResp.Data[0].B64JSON)
			if err != nil {
				return fmt.Errorf("failed to decode image: %w", err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.maxRetries),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return enhanced, nil
}
