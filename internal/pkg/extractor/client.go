package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/airenas/callaudit/internal/pkg/checklist"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/go-resty/resty/v2"
)

const systemPrompt = "You are an audit analyst.\n" +
	"Each checklist item has a short intent.\n" +
	"Interpret intents as follows:\n" +
	"- verified: seller confirms the detail\n" +
	"- discussed: topic is talked about\n" +
	"- explained: process or policy is explained\n\n" +
	"Rules:\n" +
	"- discussed=true ONLY if present in the transcript.\n" +
	"- evidence: max 1 short quote (<=120 chars).\n" +
	"- ASCII Roman-script text only.\n" +
	"- confidence is a number in [0, 1]."

// Client extracts checklist reports with an OpenAI compatible chat completions API
type Client struct {
	client *resty.Client
	url    string
	model  string
	list   *checklist.Checklist
	schema map[string]interface{}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchema struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []message      `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClient creates an extraction client for the checklist
func NewClient(url, key, model string, list *checklist.Checklist, timeout time.Duration) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("no extractor url")
	}
	if key == "" {
		return nil, fmt.Errorf("no extractor key")
	}
	if model == "" {
		return nil, fmt.Errorf("no extractor model")
	}
	if list == nil || len(list.Questions) == 0 {
		return nil, fmt.Errorf("no checklist questions")
	}
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+key)
	client.SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	client.SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return goapp.IsRetryableErr(err)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	return &Client{client: client, url: strings.TrimSuffix(url, "/") + "/chat/completions",
		model: model, list: list, schema: list.Schema()}, nil
}

// Extract returns the normalized checklist report for the transcript
func (c *Client) Extract(ctx context.Context, transcript string) (*checklist.Report, error) {
	qs, err := json.MarshalIndent(c.list.Questions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("can't marshal questions: %w", err)
	}
	req := chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Checklist questions:\n%s\n\nTranscript:\n%s", qs, transcript)},
		},
		ResponseFormat: responseFormat{Type: "json_schema",
			JSONSchema: jsonSchema{Name: c.list.Name, Strict: true, Schema: c.schema}},
	}
	var resp chatResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("can't call extractor: %w", err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		if resp.Error != nil && resp.Error.Message != "" {
			return nil, fmt.Errorf("extractor error: status %d: %s", httpResp.StatusCode(), goapp.Sanitize(resp.Error.Message))
		}
		return nil, fmt.Errorf("extractor error: status %d", httpResp.StatusCode())
	}
	return parse(&resp)
}

func parse(resp *chatResponse) (*checklist.Report, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned by the model")
	}
	m := resp.Choices[0].Message
	if m.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", m.Refusal)
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return nil, fmt.Errorf("no output text returned by the model")
	}
	var res checklist.Report
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("model did not return valid JSON: %w: %s", err, preview(text, 2000))
	}
	res.Normalize()
	return &res, nil
}

// preview cuts s to at most n bytes on a rune boundary
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
