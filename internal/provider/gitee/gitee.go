// Package gitee implements the imggateway.Provider adapter for Gitee AI's
// image-generation models: a JSON POST for text-to-image requests
// (synchronous, Base64 response) and a multipart POST for edits, which
// may answer synchronously with Base64 or asynchronously with a
// taskStatusUrl to poll.
package gitee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/imageutil"
	"github.com/lianwusuoai/img-router/internal/provider"
)

const (
	providerName   = "gitee"
	defaultBaseURL = "https://ai.gitee.com/v1"
	defaultModel   = "cogview-3"
	defaultSize    = "1024x1024"
	maxPollTries   = 60
)

// pollInterval is a var (not const) so tests can shrink it.
var pollInterval = 5 * time.Second

var credentialPattern = regexp.MustCompile(`^[A-Za-z0-9]{30,60}$`)

// Client is the Gitee AI adapter.
type Client struct {
	baseURL string
	http    *http.Client
	models  []string
}

func New(baseURL string, resolver *dnscache.Resolver, models []string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if len(models) == 0 {
		models = []string{defaultModel}
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: provider.NewTransport(resolver, true), Timeout: 60 * time.Second},
		models:  models,
	}
}

func (c *Client) Name() string { return providerName }

func (c *Client) Capabilities() imggateway.Capabilities {
	return imggateway.Capabilities{
		TextToImage:           true,
		ImageToImage:          true,
		AsyncTask:             true,
		MaxInputImages:        4,
		MaxOutputImages:       4,
		MaxEditOutputImages:   4,
		MaxNativeOutputImages: 1,
		OutputFormats:         []string{"url", "b64_json"},
	}
}

// DetectAPIKey matches Gitee's 30-60 character alphanumeric token shape.
func (c *Client) DetectAPIKey(credential string) bool {
	return credentialPattern.MatchString(credential)
}

func (c *Client) ValidateRequest(req imggateway.ImageRequest) error {
	if req.Prompt == "" && len(req.Images) == 0 {
		return imggateway.ErrBadRequest
	}
	return nil
}

func (c *Client) SupportedModels() []string { return c.models }

func (c *Client) Generate(ctx context.Context, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	model := provider.ResolveModel(req.Model, c.models, "", defaultModel)
	size := provider.ResolveSize(req.Size, "", defaultSize)

	if len(req.Images) == 0 {
		return c.textToImage(ctx, credential, model, size, req.Prompt)
	}
	return c.edit(ctx, credential, model, size, req)
}

func (c *Client) Blend(ctx context.Context, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	return c.edit(ctx, credential, provider.ResolveModel(req.Model, c.models, "", defaultModel), provider.ResolveSize(req.Size, "", defaultSize), req)
}

type textToImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

func (c *Client) textToImage(ctx context.Context, credential, model, size, prompt string) (*imggateway.GenerationResult, error) {
	payload, err := json.Marshal(textToImageRequest{Model: model, Prompt: prompt, Size: size})
	if err != nil {
		return nil, fmt.Errorf("gitee: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gitee: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: err.Error()}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &imggateway.GenerationResult{Err: provider.ReadUpstreamError(providerName, resp)}, nil
	}

	body := &bytes.Buffer{}
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("gitee: read response: %w", err)
	}

	var images []imggateway.GeneratedImage
	for _, item := range gjson.GetBytes(body.Bytes(), "data").Array() {
		images = append(images, imggateway.GeneratedImage{
			URL:     item.Get("url").String(),
			B64JSON: item.Get("b64_json").String(),
		})
	}
	return &imggateway.GenerationResult{Success: true, Images: images}, nil
}

func (c *Client) edit(ctx context.Context, credential, model, size string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("model", model)
	w.WriteField("prompt", req.Prompt)
	if size != "" {
		w.WriteField("size", size)
	}
	for i, img := range req.Images {
		mime, data, ok := imageutil.ParseDataURI(img)
		if !ok {
			continue
		}
		ext := "png"
		if mime == "image/jpeg" {
			ext = "jpg"
		}
		part, err := w.CreateFormFile("image[]", fmt.Sprintf("input-%d.%s", i, ext))
		if err != nil {
			return nil, fmt.Errorf("gitee: build multipart: %w", err)
		}
		part.Write(data)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gitee: close multipart: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/edits", &body)
	if err != nil {
		return nil, fmt.Errorf("gitee: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: err.Error()}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &imggateway.GenerationResult{Err: provider.ReadUpstreamError(providerName, resp)}, nil
	}

	respBody := &bytes.Buffer{}
	if _, err := respBody.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("gitee: read response: %w", err)
	}

	if taskURL := gjson.GetBytes(respBody.Bytes(), "taskStatusUrl").String(); taskURL != "" {
		return c.pollTask(ctx, credential, taskURL)
	}

	var images []imggateway.GeneratedImage
	for _, item := range gjson.GetBytes(respBody.Bytes(), "data").Array() {
		images = append(images, imggateway.GeneratedImage{
			URL:     item.Get("url").String(),
			B64JSON: item.Get("b64_json").String(),
		})
	}
	return &imggateway.GenerationResult{Success: true, Images: images}, nil
}

// pollTask implements the async submitted->polling->{succeed|fail|timeout}
// state machine: poll every 5s, up to 60 attempts.
func (c *Client) pollTask(ctx context.Context, credential, taskURL string) (*imggateway.GenerationResult, error) {
	for attempt := 0; attempt < maxPollTries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, taskURL, nil)
		if err != nil {
			return nil, fmt.Errorf("gitee: build poll request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+credential)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			continue
		}
		body := &bytes.Buffer{}
		body.ReadFrom(resp.Body)
		resp.Body.Close()

		status := gjson.GetBytes(body.Bytes(), "status").String()
		switch status {
		case "SUCCEED", "succeeded", "success":
			var images []imggateway.GeneratedImage
			for _, item := range gjson.GetBytes(body.Bytes(), "data").Array() {
				images = append(images, imggateway.GeneratedImage{
					URL:     item.Get("url").String(),
					B64JSON: item.Get("b64_json").String(),
				})
			}
			return &imggateway.GenerationResult{Success: true, Images: images}, nil
		case "FAILED", "failed":
			msg := gjson.GetBytes(body.Bytes(), "message").String()
			return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: provider.ClassifyError(resp.StatusCode, msg), Message: msg}}, nil
		}
	}
	return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: "task timeout"}}, nil
}
