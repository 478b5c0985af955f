package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	tapi "github.com/airenas/callaudit/internal/pkg/transcriber/api"
	"github.com/cenkalti/backoff/v4"
)

var formatHints = []string{".mp3", ".m4a", ".wav", ".mpeg", ".mp4", ".webm", ".ogg", ".aac"}

var mimeExt = map[string]string{
	"audio/mpeg":          ".mp3",
	"audio/mp3":           ".mp3",
	"audio/mp4":           ".m4a",
	"audio/x-m4a":         ".m4a",
	"audio/aac":           ".aac",
	"audio/x-aac":         ".aac",
	"audio/aacp":          ".aac",
	"audio/vnd.dlna.adts": ".aac",
	"audio/wav":           ".wav",
	"audio/x-wav":         ".wav",
	"audio/webm":          ".webm",
	"audio/ogg":           ".ogg",
	"video/mp4":           ".mp4",
	"video/mpeg":          ".mpeg",
}

var baseRegexp = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Client comunicates with an OpenAI compatible transcription service
type Client struct {
	httpclient *http.Client
	url        string
	key        string
	params     tapi.Params
	timeout    time.Duration
	backoff    func() backoff.BackOff
}

// NewClient creates a transcriber client
func NewClient(url, key, model, prompt string, timeout time.Duration) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("no transcriber url")
	}
	if key == "" {
		return nil, fmt.Errorf("no transcriber key")
	}
	if model == "" {
		return nil, fmt.Errorf("no transcriber model")
	}
	res := Client{}
	res.url = strings.TrimSuffix(url, "/") + "/audio/transcriptions"
	res.key = key
	res.params = tapi.Params{Model: model, Prompt: prompt, ResponseFormat: "json"}
	res.timeout = timeout
	if res.timeout <= 0 {
		res.timeout = time.Minute * 10
	}
	res.httpclient = &http.Client{Transport: newTransport()}
	res.backoff = newSimpleBackoff
	return &res, nil
}

// Transcribe sends the audio file for transcription and returns the text.
// The file is retried under several names as the service detects format by extension.
func (sp *Client) Transcribe(ctx context.Context, file, name, mime string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("can't read audio: %w", err)
	}
	var lastErr error
	for _, c := range fileNameCandidates(name, mime) {
		res, err := sp.upload(ctx, data, c)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("transcribe: %w", ctx.Err())
		}
		goapp.Log.Warn().Err(err).Str("name", c).Msg("transcription attempt failed")
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no file name candidates")
	}
	return "", fmt.Errorf("unable to transcribe audio: %w", lastErr)
}

func (sp *Client) upload(ctx context.Context, data []byte, name string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("can't add file to request: %w", err)
	}
	if _, err = part.Write(data); err != nil {
		return "", fmt.Errorf("can't add file content to request: %w", err)
	}
	for k, v := range map[string]string{"model": sp.params.Model, "response_format": sp.params.ResponseFormat,
		"prompt": sp.params.Prompt} {
		if v == "" {
			continue
		}
		if err := writer.WriteField(k, v); err != nil {
			return "", fmt.Errorf("can't add param: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("can't close form: %w", err)
	}
	bodyBytes := body.Bytes()

	return goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sp.url, bytes.NewReader(bodyBytes))
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+sp.key)
		goapp.Log.Info().Str("url", req.URL.String()).Str("name", name).Msg("call")
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return "", goapp.IsRetryableCode(resp.StatusCode), err
		}
		var respData tapi.Response
		if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
			return "", false, fmt.Errorf("can't decode response: %w", err)
		}
		res := strings.TrimSpace(respData.GetText())
		if res == "" {
			return "", false, fmt.Errorf("transcription returned no text")
		}
		return res, false, nil
	}, sp.backoff())
}

func fileNameCandidates(name, mime string) []string {
	original := strings.TrimSpace(name)
	if original == "" {
		original = "audio"
	}
	ext := filepath.Ext(original)
	base := baseRegexp.ReplaceAllString(strings.TrimSuffix(filepath.Base(original), ext), "_")
	if base == "" {
		base = "audio"
	}
	res := []string{original}
	seen := map[string]bool{original: true}
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			res = append(res, s)
		}
	}
	if e, ok := mimeExt[strings.ToLower(mime)]; ok {
		add(base + e)
	}
	for _, h := range formatHints {
		add(base + h)
	}
	return res
}

func newTransport() http.RoundTripper {
	res := http.DefaultTransport.(*http.Transport).Clone()
	res.MaxConnsPerHost = 20
	res.MaxIdleConns = 10
	res.MaxIdleConnsPerHost = 10
	res.IdleConnTimeout = 90 * time.Second
	return res
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
