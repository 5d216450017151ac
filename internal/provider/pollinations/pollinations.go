// Package pollinations implements the imggateway.Provider adapter for
// the Pollinations image API: a GET request with query-string
// parameters whose response body is the raw image. Edits need an
// HTTP(S)-addressable input image, so Base64 inputs are pre-uploaded to
// the configured image host first.
package pollinations

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/dnscache"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/imageutil"
	"github.com/lianwusuoai/img-router/internal/provider"
)

const (
	providerName   = "pollinations"
	defaultBaseURL = "https://image.pollinations.ai/prompt"
	defaultModel   = "flux"
	defaultWidth   = 1024
	defaultHeight  = 1024
)

// ImageHost uploads Base64 edit inputs so Pollinations, which only
// accepts URL-addressable images, can reach them.
type ImageHost struct {
	URL      string
	AuthCode string
}

type Client struct {
	baseURL string
	http    *http.Client
	host    ImageHost
	models  []string
}

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
		MaxInputImages:        1,
		MaxOutputImages:       4,
		MaxNativeOutputImages: 1,
		OutputFormats:         []string{"url", "b64_json"},
	}
}

// DetectAPIKey matches Pollinations' pk_/sk_ prefixed tokens.
func (c *Client) DetectAPIKey(credential string) bool {
	return strings.HasPrefix(credential, "pk_") || strings.HasPrefix(credential, "sk_")
}

func (c *Client) ValidateRequest(req imggateway.ImageRequest) error {
	if req.Prompt == "" {
		return imggateway.ErrBadRequest
	}
	return nil
}

func (c *Client) SupportedModels() []string { return c.models }

func (c *Client) Generate(ctx context.Context, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	model := provider.ResolveModel(req.Model, c.models, "", defaultModel)
	width, height := resolveDimensions(req.Size)

	var imageParam string
	if len(req.Images) > 0 {
		imageParam = c.ensureURL(ctx, req.Images[0])
	}

	q := url.Values{}
	q.Set("model", model)
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(height))
	q.Set("nologo", "true")
	if credential != "" {
		q.Set("token", credential)
	}
	if imageParam != "" {
		q.Set("image", imageParam)
	}

	target := c.baseURL + "/" + url.PathEscape(req.Prompt) + "?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("pollinations: build request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &imggateway.GenerationResult{Err: &imggateway.ProviderError{Provider: providerName, Kind: imggateway.ErrorKindOther, Message: err.Error()}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &imggateway.GenerationResult{Err: provider.ReadUpstreamError(providerName, resp)}, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("pollinations: read response: %w", err)
	}

	return &imggateway.GenerationResult{Success: true, Images: []imggateway.GeneratedImage{
		{B64JSON: base64.StdEncoding.EncodeToString(data)},
	}}, nil
}

func (c *Client) Blend(ctx context.Context, credential string, req imggateway.ImageRequest) (*imggateway.GenerationResult, error) {
	return c.Generate(ctx, credential, req)
}

func (c *Client) ensureURL(ctx context.Context, img string) string {
	if strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
		return img
	}
	_, data, ok := imageutil.ParseDataURI(img)
	if !ok {
		return ""
	}
	uploaded, err := imageutil.UploadToImageHost(ctx, c.http, c.host.URL, c.host.AuthCode, "input.png", data)
	if err != nil {
		return ""
	}
	return uploaded
}

var ratioDims = map[string][2]int{
	"1:1":  {1024, 1024},
	"16:9": {1344, 768},
	"9:16": {768, 1344},
}

func resolveDimensions(size string) (int, int) {
	if dims, ok := ratioDims[size]; ok {
		return dims[0], dims[1]
	}
	if w, h, ok := parseWxH(size); ok {
		return w, h
	}
	return defaultWidth, defaultHeight
}

func parseWxH(size string) (int, int, bool) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return w, h, true
}
