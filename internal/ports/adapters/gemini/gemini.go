// Package gemini adapts the Gemini generateContent REST API to the
// ports.Generator interface, with token/cost accounting on every call.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/forPelevin/chatcut/internal/ports"
	"github.com/forPelevin/chatcut/internal/types"
)

const (
	requestTimeout = 120 * time.Second
	uploadTimeout  = 10 * time.Minute

	// structuredAttempts bounds in-place retries when a structured response
	// does not parse as JSON. Usage accumulates across attempts.
	structuredAttempts = 3
)

type Adapter struct {
	key     string
	baseURL string
	client  *http.Client
	pricing PricingTable
}

func New(apiKey, baseURL string, pricing PricingTable) *Adapter {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	return &Adapter{
		key:     apiKey,
		baseURL: normalizeBaseURL(baseURL),
		client:  &http.Client{Timeout: uploadTimeout},
		pricing: pricing,
	}
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type generationConfig struct {
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

func (a *Adapter) GenerateText(ctx context.Context, model, prompt, systemInstruction string) (ports.TextResult, error) {
	text, rec, err := a.generate(ctx, model, []part{{Text: prompt}}, systemInstruction, nil)
	if err != nil {
		return ports.TextResult{}, err
	}
	return ports.TextResult{Text: text, Record: rec}, nil
}

func (a *Adapter) GenerateTextFromFiles(ctx context.Context, model, prompt string, files []ports.FileHandle) (ports.TextResult, error) {
	text, rec, err := a.generate(ctx, model, fileParts(prompt, files), "", nil)
	if err != nil {
		return ports.TextResult{}, err
	}
	return ports.TextResult{Text: text, Record: rec}, nil
}

func (a *Adapter) GenerateStructured(ctx context.Context, model, prompt string, schema map[string]any, system string, out any) (types.UsageRecord, error) {
	return a.structured(ctx, model, []part{{Text: prompt}}, schema, system, out)
}

func (a *Adapter) GenerateStructuredFromFiles(ctx context.Context, model, prompt string, files []ports.FileHandle, schema map[string]any, out any) (types.UsageRecord, error) {
	return a.structured(ctx, model, fileParts(prompt, files), schema, "", out)
}

// structured asks for a JSON response constrained by schema and retries
// in-place when the reply does not parse. The accumulated record is returned
// even when every attempt fails, so callers can still account for the spend.
func (a *Adapter) structured(ctx context.Context, model string, parts []part, schema map[string]any, system string, out any) (types.UsageRecord, error) {
	cfg := &generationConfig{ResponseMimeType: "application/json", ResponseSchema: schema}

	var total types.UsageRecord
	var lastErr error
	for attempt := 1; attempt <= structuredAttempts; attempt++ {
		text, rec, err := a.generate(ctx, model, parts, system, cfg)
		if err != nil {
			// Transport and API errors are not retried here; only parse
			// failures are transient by design.
			return total, err
		}
		total.Usage = total.Usage.Add(rec.Usage)
		total.Cost += rec.Cost

		clean, err := extractJSON(text)
		if err == nil {
			err = json.Unmarshal([]byte(clean), out)
		}
		if err == nil {
			return total, nil
		}
		lastErr = err
	}
	return total, fmt.Errorf("gemini: structured response did not parse after %d attempts: %w", structuredAttempts, lastErr)
}

func (a *Adapter) generate(ctx context.Context, model string, parts []part, system string, cfg *generationConfig) (string, types.UsageRecord, error) {
	payload := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": parts},
		},
	}
	if system != "" {
		payload["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": system}},
		}
	}
	if cfg != nil {
		payload["generationConfig"] = cfg
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.UsageRecord{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, model)

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", types.UsageRecord{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.key)

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", types.UsageRecord{}, fmt.Errorf("gemini timeout after %s (model=%s)", requestTimeout, model)
		}
		return "", types.UsageRecord{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return "", types.UsageRecord{}, fmt.Errorf("gemini status %d and read body failed: %v", resp.StatusCode, readErr)
		}
		return "", types.UsageRecord{}, fmt.Errorf("gemini status %d: %s", resp.StatusCode, truncate(redactSecrets(string(rb), a.key), 400))
	}

	var raw struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", types.UsageRecord{}, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(raw.Candidates) == 0 {
		return "", types.UsageRecord{}, errors.New("gemini: no candidates in response")
	}

	var b strings.Builder
	for _, p := range raw.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}

	usage := types.Usage{
		PromptTokens:     raw.UsageMetadata.PromptTokenCount,
		CandidatesTokens: raw.UsageMetadata.CandidatesTokenCount,
		ThinkingTokens:   raw.UsageMetadata.ThoughtsTokenCount,
		TotalTokens:      raw.UsageMetadata.TotalTokenCount,
	}
	rec := types.UsageRecord{
		Usage: usage,
		Cost:  a.pricing.Cost(model, usage, hasAudio(parts)),
	}
	return b.String(), rec, nil
}

// UploadFile pushes a local file to the file service and returns a handle
// usable in file-grounded generation calls.
func (a *Adapter) UploadFile(ctx context.Context, path, mimeType string) (ports.FileHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return ports.FileHandle{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	url := a.baseURL + "/upload/v1beta/files"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, f)
	if err != nil {
		return ports.FileHandle{}, err
	}
	req.Header.Set("x-goog-api-key", a.key)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("X-Goog-File-Name", filepath.Base(path))
	req.Header.Set("Content-Type", mimeType)

	resp, err := a.client.Do(req)
	if err != nil {
		return ports.FileHandle{}, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(resp.Body)
		return ports.FileHandle{}, fmt.Errorf("gemini upload status %d: %s", resp.StatusCode, truncate(redactSecrets(string(rb), a.key), 400))
	}

	var raw struct {
		File struct {
			URI      string `json:"uri"`
			MimeType string `json:"mimeType"`
		} `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ports.FileHandle{}, fmt.Errorf("decode upload response: %w", err)
	}
	if raw.File.URI == "" {
		return ports.FileHandle{}, errors.New("gemini upload: empty file uri")
	}
	mt := raw.File.MimeType
	if mt == "" {
		mt = mimeType
	}
	return ports.FileHandle{URI: raw.File.URI, MimeType: mt}, nil
}

func filePart(h ports.FileHandle) part {
	return part{FileData: &fileData{MimeType: h.MimeType, FileURI: h.URI}}
}

func fileParts(prompt string, files []ports.FileHandle) []part {
	parts := make([]part, 0, len(files)+1)
	for _, h := range files {
		parts = append(parts, filePart(h))
	}
	parts = append(parts, part{Text: prompt})
	return parts
}

func hasAudio(parts []part) bool {
	for _, p := range parts {
		if p.FileData != nil && strings.HasPrefix(p.FileData.MimeType, "audio/") {
			return true
		}
	}
	return false
}

// extractJSON strips code fences and returns the first JSON object or array
// found in the text.
func extractJSON(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", errors.New("gemini: empty content")
	}

	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	objStart := strings.Index(t, "{")
	arrStart := strings.Index(t, "[")
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		if end := strings.LastIndex(t, "}"); end > objStart {
			return t[objStart : end+1], nil
		}
	case arrStart >= 0:
		if end := strings.LastIndex(t, "]"); end > arrStart {
			return t[arrStart : end+1], nil
		}
	}
	return "", fmt.Errorf("gemini: could not locate JSON in: %q", truncate(t, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;&]+)`)
	keyParamRE    = regexp.MustCompile(`(?i)(key=)([A-Za-z0-9._-]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = keyParamRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
