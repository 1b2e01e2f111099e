package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invoicepipe/invoicepipe/internal/common"
	"github.com/invoicepipe/invoicepipe/internal/llm"
)

var _ llm.Inferrer = (*Client)(nil)

// Infer implements llm.Inferrer over the generateContent endpoint with a
// JSON response MIME type. Transient transport failures retry in-client with
// bounded backoff before surfacing as ErrModelUnavailable.
func (c *Client) Infer(ctx context.Context, doc llm.Document, contract llm.Contract) (map[string]json.RawMessage, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.infer.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"document", doc.Key,
		"mime", doc.MIME,
		"payload_bytes", len(doc.Bytes),
		"vendor", contract.Vendor,
	)

	text, err := c.generate(ctx, rid, llm.BuildExtractionPrompt(contract), doc, "application/json")
	if err != nil {
		c.log.Error("llm.infer.failed",
			"req_id", rid, "document", doc.Key, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	raw, ok := llm.ExtractJSONObject(text)
	if !ok {
		c.log.Error("llm.infer.no_json",
			"req_id", rid, "document", doc.Key, "reply_len", len(text),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("no JSON object in model reply: %w", common.ErrMalformedResponse)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		c.log.Error("llm.infer.decode_error",
			"req_id", rid, "document", doc.Key, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("decode model reply: %v: %w", err, common.ErrMalformedResponse)
	}

	c.log.Info("llm.infer.ok",
		"req_id", rid,
		"document", doc.Key,
		"fields", len(fields),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return fields, nil
}

// Answer implements the free-form question path used by the classifier.
func (c *Client) Answer(ctx context.Context, doc llm.Document, prompt string) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	text, err := c.generate(ctx, rid, prompt, doc, "")
	if err != nil {
		c.log.Error("llm.answer.failed",
			"req_id", rid, "document", doc.Key, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}
	c.log.Info("llm.answer.ok",
		"req_id", rid, "document", doc.Key,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return strings.TrimSpace(text), nil
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type generationConfig struct {
	Temperature      float32 `json:"temperature"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (c *Client) generate(ctx context.Context, rid, prompt string, doc llm.Document, responseMIME string) (string, error) {
	body := generateRequest{
		Contents: []content{{Parts: []part{
			{Text: prompt},
			{InlineData: &inlineData{
				MIMEType: doc.MIME,
				Data:     base64.StdEncoding.EncodeToString(doc.Bytes),
			}},
		}}},
		GenerationConfig: &generationConfig{
			Temperature:      c.cfg.Temperature,
			ResponseMIMEType: responseMIME,
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/models/" + c.cfg.Model + ":generateContent"

	var raw []byte
	var err error
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		raw, err = c.post(ctx, rid, endpoint, body)
		if err == nil || !isTransient(err) || attempt >= c.cfg.MaxRetries {
			break
		}
		c.log.Warn("llm.http.retry",
			"req_id", rid, "attempt", attempt+1, "backoff_ms", backoff.Milliseconds(), "error", err)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%v: %w", ctx.Err(), common.ErrModelUnavailable)
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode generateContent response: %v: %w", err, common.ErrMalformedResponse)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response: %w", common.ErrMalformedResponse)
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

func (c *Client) post(ctx context.Context, rid, url string, body any) ([]byte, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini http error: %v: %w", err, common.ErrModelUnavailable)
	}
	defer func(body io.ReadCloser) {
		if cerr := body.Close(); cerr != nil {
			c.log.Warn("llm.http.response_body_close_error", "req_id", rid, "error", cerr)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("gemini status %d: %s: %w", resp.StatusCode, truncate(raw, 256), common.ErrModelUnavailable)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("gemini status %d: %s", resp.StatusCode, truncate(raw, 256))
	}
	return raw, nil
}

func isTransient(err error) bool {
	return errors.Is(err, common.ErrModelUnavailable)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
