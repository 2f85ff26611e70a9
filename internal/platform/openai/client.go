package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/zignalhq/zignal-backend/internal/pkg/errors"
	"github.com/zignalhq/zignal-backend/internal/platform/httpx"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
)

// MaxFileBytes is the provider's documented per-file ceiling.
const MaxFileBytes int64 = 512 << 20

// Client covers the provider surface the ingestion pipeline needs: vector
// stores (knowledge bases), file uploads, and the per-thread fallback for
// accounts without vector store support.
type Client interface {
	CreateVectorStore(ctx context.Context, name string) (string, error)
	DeleteVectorStore(ctx context.Context, vectorStoreID string) error
	UploadFile(ctx context.Context, filename string, body io.Reader) (string, error)
	AttachFileToVectorStore(ctx context.Context, vectorStoreID, fileID string) (string, error)
	CreateAssistant(ctx context.Context, name, instructions, vectorStoreID string) (string, error)
	CreateThread(ctx context.Context) (string, error)
	AttachFileToThread(ctx context.Context, threadID, fileID, content string) (string, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing OPENAI_API_KEY", pkgerrors.ErrConfiguration)
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_ASSISTANT_MODEL"))
	if model == "" {
		model = "gpt-4o"
	}

	timeoutSec := 180
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 2
	if v := os.Getenv("OPENAI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *client) doOnce(ctx context.Context, method, path string, body any, contentType string, raw []byte) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if raw != nil {
		reqBody = bytes.NewReader(raw)
	} else if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
		reqBody = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, classifyTransportError(err)
	}

	out, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, classifyTransportError(readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, out, classifyHTTPStatus(resp.StatusCode, out)
	}
	return resp, out, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, contentType string, raw []byte, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return classifyTransportError(ctx.Err())
		}

		resp, respBody, err := c.doOnce(ctx, method, path, body, contentType, raw)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(respBody, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(respBody))
			}
			return nil
		}

		if !retryable(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return httpx.IsRetryableError(err)
}

// -------------------- Vector stores --------------------

type vectorStoreResponse struct {
	ID string `json:"id"`
}

func (c *client) CreateVectorStore(ctx context.Context, name string) (string, error) {
	var out vectorStoreResponse
	err := c.do(ctx, http.MethodPost, "/v1/vector_stores", map[string]any{
		"name": name,
	}, "", nil, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", &ProviderError{Kind: KindOther, Message: "create vector store returned empty id"}
	}
	return out.ID, nil
}

func (c *client) DeleteVectorStore(ctx context.Context, vectorStoreID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/vector_stores/"+vectorStoreID, nil, "", nil, nil)
}

// -------------------- Files --------------------

type fileResponse struct {
	ID string `json:"id"`
}

func (c *client) UploadFile(ctx context.Context, filename string, body io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, body); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out fileResponse
	if err := c.do(ctx, http.MethodPost, "/v1/files", nil, mw.FormDataContentType(), buf.Bytes(), &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", &ProviderError{Kind: KindOther, Message: "file upload returned empty id"}
	}
	return out.ID, nil
}

type vectorStoreFileResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *client) AttachFileToVectorStore(ctx context.Context, vectorStoreID, fileID string) (string, error) {
	var out vectorStoreFileResponse
	err := c.do(ctx, http.MethodPost, "/v1/vector_stores/"+vectorStoreID+"/files", map[string]any{
		"file_id": fileID,
	}, "", nil, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		out.ID = fileID
	}
	return out.ID, nil
}

// -------------------- Assistants / threads (fallback mode) --------------------

type assistantResponse struct {
	ID string `json:"id"`
}

func (c *client) CreateAssistant(ctx context.Context, name, instructions, vectorStoreID string) (string, error) {
	payload := map[string]any{
		"name":         name,
		"instructions": instructions,
		"model":        c.model,
		"tools":        []map[string]any{{"type": "file_search"}},
	}
	if vectorStoreID != "" {
		payload["tool_resources"] = map[string]any{
			"file_search": map[string]any{"vector_store_ids": []string{vectorStoreID}},
		}
	}
	var out assistantResponse
	err := c.do(ctx, http.MethodPost, "/v1/assistants", payload, "", nil, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", &ProviderError{Kind: KindOther, Message: "create assistant returned empty id"}
	}
	return out.ID, nil
}

type threadResponse struct {
	ID string `json:"id"`
}

func (c *client) CreateThread(ctx context.Context) (string, error) {
	var out threadResponse
	if err := c.do(ctx, http.MethodPost, "/v1/threads", map[string]any{}, "", nil, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", &ProviderError{Kind: KindOther, Message: "create thread returned empty id"}
	}
	return out.ID, nil
}

type messageResponse struct {
	ID string `json:"id"`
}

func (c *client) AttachFileToThread(ctx context.Context, threadID, fileID, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		content = "Attached document."
	}
	var out messageResponse
	err := c.do(ctx, http.MethodPost, "/v1/threads/"+threadID+"/messages", map[string]any{
		"role":    "user",
		"content": content,
		"attachments": []map[string]any{
			{
				"file_id": fileID,
				"tools":   []map[string]any{{"type": "file_search"}},
			},
		},
	}, "", nil, &out)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", &ProviderError{Kind: KindOther, Message: "thread attach returned empty message id"}
	}
	return out.ID, nil
}
