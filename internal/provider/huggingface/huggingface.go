// Package huggingface implements the imggateway.Provider adapter for
// Gradio-hosted HuggingFace Spaces: a two-step call (POST the parameter
// array to /gradio_api/call/<fn>, then GET the event stream at
// /gradio_api/call/<fn>/<event_id>) over a pool of candidate Space URLs,
// cascading to the next pool entry on failure. Image inputs are first
// uploaded to /gradio_api/upload to obtain server-side paths.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/cache"
	"github.com/lianwusuoai/img-router/internal/imageutil"
	"github.com/lianwusuoai/img-router/internal/provider"
	"github.com/lianwusuoai/img-router/internal/provider/sseutil"
)

const (
	providerName   = "huggingface"
	credPrefix     = "hf_"
	defaultModel   = "black-forest-labs/FLUX.1-schnell"
	defaultFnText  = "/gradio_api/call/infer"
	defaultFnEdit  = "/gradio_api/call/edit"
	spaceHealthTTL = 30 * time.Second
)

// URLPool is an ordered list of candidate Space base URLs for a task
// (text-to-image vs edit). Requests cascade through the pool on failure;
// it is read-only during a request (see the concurrency model).
type URLPool struct {
	TextToImage []string
	Edit        []string
}

// Client is the HuggingFace Gradio adapter. Because the URL pool itself
// acts as the credential, this adapter ignores the credential parameter
// every Provider method receives (httpapi's dispatch exempts it from
// per-request credential acquisition in backend mode, through
// imggateway.NativeCredential).
type Client struct {
	http   *http.Client
	pool   URLPool
	models []string
	health *cache.Memory // Space base URL -> recently-failed marker
}

// UsesInternalCredential marks HuggingFace exempt from the credential
// pool: the URL pool supplies access instead of a rotating API key.
func (c *Client) UsesInternalCredential() bool { return true }

func New(resolver *dnscache.Resolver, pool URLPool, models []string) *Client {
	if len(models) == 0 {
		models = []string{defaultModel}
	}
	health, _ := cache.NewMemory(64, spaceHealthTTL)
	return &Client{
		http:   &http.Client{Transport: provider.NewTransport(resolver, false), Timeout: 120 * time.Second},
		pool:   pool,
		models: models,
		health: health,
	}
}

func (c *Client) Name() string { return providerName }

func (c *Client) Capabilities() imggateway.Capabilities {
	return imggateway.Capabilities{
		TextToImage:           true,
		ImageToImage:          true,
		MaxInputImages:        3,
		MaxOutputImages:       4,
		MaxNativeOutputImages: 1,
		OutputFormats:         []string{"url", "b64_json"},
	}
}

// DetectAPIKey matches HuggingFace's "hf_" prefixed tokens.
func (c *Client) DetectAPIKey(credential string) bool {
	return strings.HasPrefix(credential, credPrefix)
}

func (c *Client) ValidateRequest(req imggateway.ImageRequest) error {
	if req.Prompt == "" {
		return imggateway.ErrBadRequest
	}
	return nil
}

func (c *Client) SupportedModels() []string { return c.models }

func (c *Client) Generate(ctx context.Context, _ string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	pool, fn := c.pool.TextToImage, defaultFnText
	if len(req.Images) > 0 {
		pool, fn = c.pool.Edit, defaultFnEdit
	}
	return c.tryPool(ctx, pool, fn, req)
}

func (c *Client) Blend(ctx context.Context, _ string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	return c.tryPool(ctx, c.pool.Edit, defaultFnEdit, req)
}

// tryPool implements the pool-cascading state machine:
// trying(i) -> [ok | next(i+1) | exhausted].
func (c *Client) tryPool(ctx context.Context, pool []string, fn string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	if len(pool) == 0 {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: "no space url configured"}}, nil
	}

	var lastErr *imggateway.ProviderError
	for _, base := range c.orderByHealth(ctx, pool) {
		result, err := c.callSpace(ctx, base, fn, req)
		if err != nil {
			return nil, err
		}
		if result.Success {
			return result, nil
		}
		lastErr = result.Err
		c.markUnhealthy(ctx, base)
	}
	if lastErr == nil {
		lastErr = &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: "url pool exhausted"}
	}
	return &imggateway.GenerationResult{Err: lastErr}, nil
}

// orderByHealth tries Space URLs that succeeded recently before ones that
// just failed, without dropping the failed ones outright: a pool where
// every entry is currently marked unhealthy still gets attempted in full.
func (c *Client) orderByHealth(ctx context.Context, pool []string) []string {
	if c.health == nil {
		return pool
	}
	ordered := make([]string, 0, len(pool))
	var unhealthy []string
	for _, base := range pool {
		if _, bad := c.health.Get(ctx, base); bad {
			unhealthy = append(unhealthy, base)
			continue
		}
		ordered = append(ordered, base)
	}
	return append(ordered, unhealthy...)
}

func (c *Client) markUnhealthy(ctx context.Context, base string) {
	if c.health == nil {
		return
	}
	c.health.Set(ctx, base, []byte{1}, spaceHealthTTL)
}

func (c *Client) callSpace(ctx context.Context, base, fn string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	base = strings.TrimRight(base, "/")

	params := []any{req.Prompt}
	for _, img := range req.Images {
		path, err := c.uploadInput(ctx, base, img)
		if err != nil {
			continue
		}
		params = append(params, map[string]any{"path": path, "meta": map[string]string{"_type": "gradio.FileData"}})
	}

	eventID, err := c.submit(ctx, base, fn, params)
	if err != nil {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: err.Error()}}, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+fn+"/"+eventID, nil)
	if err != nil {
		return nil, fmt.Errorf("huggingface: build stream request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: err.Error()}}, nil
	}
	defer resp.Body.Close()

	event, err := sseutil.ReadGradioStream(resp.Body)
	if err != nil {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: err.Error()}}, nil
	}
	if event.Type == "error" {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: provider.ClassifyError(0, event.Data), Message: event.Data}}, nil
	}

	url := gjson.Get(event.Data, "0.url").String()
	if url == "" {
		url = gjson.Get(event.Data, "0.path").String()
	}
	if url == "" {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: "complete event missing output url"}}, nil
	}
	return &imggateway.GenerationResult{Success: true, Images: []imggateway.GeneratedImage{{URL: url}}}, nil
}

func (c *Client) submit(ctx context.Context, base, fn string, params []any) (string, error) {
	payload, err := json.Marshal(map[string]any{"data": params})
	if err != nil {
		return "", fmt.Errorf("marshal call payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+fn, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build call request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read call response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("space returned %d: %s", resp.StatusCode, string(body))
	}

	eventID := gjson.GetBytes(body, "event_id").String()
	if eventID == "" {
		return "", fmt.Errorf("missing event_id in call response")
	}
	return eventID, nil
}

func (c *Client) uploadInput(ctx context.Context, base, img string) (string, error) {
	_, data, ok := imageutil.ParseDataURI(img)
	if !ok {
		return "", fmt.Errorf("huggingface: expected a data URI input image")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("files", "input.png")
	if err != nil {
		return "", err
	}
	part.Write(data)
	if err := w.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/gradio_api/upload", &body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload returned %d: %s", resp.StatusCode, string(respBody))
	}

	paths := gjson.ParseBytes(respBody).Array()
	if len(paths) == 0 {
		return "", fmt.Errorf("empty upload response")
	}
	return paths[0].String(), nil
}
