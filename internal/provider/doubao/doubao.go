// Package doubao implements the imggateway.Provider adapter for
// ByteDance's Doubao (Seedream) image-generation API: a synchronous JSON
// POST that accepts image inputs as a URL array, so Base64 inputs are
// pre-uploaded to the configured image host first.
package doubao

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/dnscache"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/imageutil"
	"github.com/lianwusuoai/img-router/internal/provider"
)

const (
	providerName       = "doubao"
	defaultBaseURL     = "https://ark.cn-beijing.volces.com/api/v3"
	defaultModel       = "doubao-seedream-4-5-251128"
	defaultSize        = "1024x1024"
	maxOutputImages    = 4
	maxNativeOutputOne = 1
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ImageHost uploads Base64 image inputs to an HTTP(S)-addressable host,
// since Doubao's API only accepts image URLs.
type ImageHost struct {
	URL      string
	AuthCode string
}

// Client is the Doubao adapter.
type Client struct {
	baseURL string
	http    *http.Client
	host    ImageHost
	models  []string
}

// New returns a Doubao Client. If resolver is non-nil its lookups are
// cached via the shared transport tuning every adapter uses.
func New(baseURL string, resolver *dnscache.Resolver, host ImageHost, models []string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if len(models) == 0 {
		models = []string{defaultModel}
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: provider.NewTransport(resolver, true), Timeout: 60 * time.Second},
		host:    host,
		models:  models,
	}
}

func (c *Client) Name() string { return providerName }

func (c *Client) Capabilities() imggateway.Capabilities {
	return imggateway.Capabilities{
		TextToImage:           true,
		ImageToImage:          true,
		MaxInputImages:        10,
		MaxOutputImages:       maxOutputImages,
		MaxEditOutputImages:   maxOutputImages,
		MaxNativeOutputImages: maxNativeOutputOne,
		OutputFormats:         []string{"url", "b64_json"},
	}
}

// DetectAPIKey matches Doubao's canonical UUID-shaped API keys.
func (c *Client) DetectAPIKey(credential string) bool {
	return uuidPattern.MatchString(credential)
}

func (c *Client) ValidateRequest(req imggateway.ImageRequest) error {
	if req.Prompt == "" && len(req.Images) == 0 {
		return imggateway.ErrBadRequest
	}
	return nil
}

func (c *Client) SupportedModels() []string { return c.models }

type generateRequest struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	Image          []string `json:"image,omitempty"`
	Size           string   `json:"size,omitempty"`
	Seed           int64    `json:"seed,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
}

type generateResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate dispatches a single text-to-image or image-to-image call.
// n > 1 is fanned out by the caller (the adapter's maxNativeOutputImages
// is 1); this method always produces exactly one image.
func (c *Client) Generate(ctx context.Context, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	model := provider.ResolveModel(req.Model, c.models, "", defaultModel)
	size := provider.ResolveSize(req.Size, "", defaultSize)

	images := req.Images
	if len(images) > 0 {
		images = c.ensureURLs(ctx, images)
	}

	body := generateRequest{Model: model, Prompt: req.Prompt, Image: images, Size: size, ResponseFormat: req.ResponseFormat}
	return c.call(ctx, credential, body)
}

// Blend fuses multiple input images with a shared prompt; Doubao treats
// this identically to an edit call with multiple image URLs.
func (c *Client) Blend(ctx context.Context, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	return c.Generate(ctx, credential, req)
}

func (c *Client) ensureURLs(ctx context.Context, images []string) []string {
	out := make([]string, len(images))
	for i, img := range images {
		if imageutil.IsDataURI(img) {
			_, data, ok := imageutil.ParseDataURI(img)
			if ok {
				if url, err := imageutil.UploadToImageHost(ctx, c.http, c.host.URL, c.host.AuthCode, fmt.Sprintf("input-%d.png", i), data); err == nil {
					out[i] = url
					continue
				}
			}
		}
		out[i] = img
	}
	return out
}

func (c *Client) call(ctx context.Context, credential string, body generateRequest) (*imggateway.GenerationResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("doubao: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("doubao: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &imggateway.GenerationResult{Success: false, Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: err.Error()}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &imggateway.GenerationResult{Success: false, Err: provider.ReadUpstreamError(providerName, resp)}, nil
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("doubao: decode response: %w", err)
	}
	if out.Error != nil {
		return &imggateway.GenerationResult{Success: false, Err: &imggateway.ProviderError{Provider: providerName, Kind: provider.ClassifyError(http.StatusOK, out.Error.Message), Message: out.Error.Message}}, nil
	}

	images := make([]imggateway.GeneratedImage, 0, len(out.Data))
	for _, d := range out.Data {
		images = append(images, imggateway.GeneratedImage{URL: d.URL, B64JSON: d.B64JSON})
	}
	return &imggateway.GenerationResult{Success: true, Images: images}, nil
}
