// Package modelscope implements the imggateway.Provider adapter for
// ModelScope's asynchronous image-generation API: a submit call returns
// a taskId, which is then polled every 5s (up to 60 attempts) until the
// job reaches SUCCEED or FAILED.
package modelscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/provider"
)

const (
	providerName   = "modelscope"
	defaultBaseURL = "https://api-inference.modelscope.cn/v1"
	defaultModel   = "MusePublic/14_ckpt_FLUX_1"
	defaultSize    = "1024x1024"
	maxPollTries   = 60
	credPrefix     = "ms-"
)

var pollInterval = 5 * time.Second

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
		MaxInputImages:        1,
		MaxOutputImages:       4,
		MaxNativeOutputImages: 1,
		OutputFormats:         []string{"url", "b64_json"},
	}
}

// DetectAPIKey matches ModelScope's "ms-" prefixed tokens.
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

type submitRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Image  []string `json:"image,omitempty"`
	Size   string   `json:"size,omitempty"`
}

func (c *Client) Generate(ctx context.Context, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	model := provider.ResolveModel(req.Model, c.models, "", defaultModel)
	size := provider.ResolveSize(req.Size, "", defaultSize)

	payload, err := json.Marshal(submitRequest{Model: model, Prompt: req.Prompt, Image: req.Images, Size: size})
	if err != nil {
		return nil, fmt.Errorf("modelscope: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("modelscope: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)
	httpReq.Header.Set("X-ModelScope-Async-Mode", "true")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: err.Error()}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return &imggateway.GenerationResult{Err: provider.ReadUpstreamError(providerName, resp)}, nil
	}

	body := &bytes.Buffer{}
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("modelscope: read response: %w", err)
	}

	taskID := gjson.GetBytes(body.Bytes(), "task_id").String()
	if taskID == "" {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: "missing task_id in submit response"}}, nil
	}
	return c.poll(ctx, credential, taskID)
}

func (c *Client) Blend(ctx context.Context, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	return c.Generate(ctx, credential, req)
}

// poll implements submitted->polling->{succeed|fail|timeout}.
func (c *Client) poll(ctx context.Context, credential, taskID string) (*imggateway.GenerationResult, error) {
	for attempt := 0; attempt < maxPollTries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+taskID, nil)
		if err != nil {
			return nil, fmt.Errorf("modelscope: build poll request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+credential)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			continue
		}
		body := &bytes.Buffer{}
		body.ReadFrom(resp.Body)
		resp.Body.Close()

		status := gjson.GetBytes(body.Bytes(), "task_status").String()
		switch status {
		case "SUCCEED":
			var images []imggateway.GeneratedImage
			for _, url := range gjson.GetBytes(body.Bytes(), "output_images").Array() {
				images = append(images, imggateway.GeneratedImage{URL: url.String()})
			}
			return &imggateway.GenerationResult{Success: true, Images: images}, nil
		case "FAILED":
			msg := gjson.GetBytes(body.Bytes(), "message").String()
			return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: provider.ClassifyError(resp.StatusCode, msg), Message: msg}}, nil
		}
	}
	return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: "task timeout"}}, nil
}
