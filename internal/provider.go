// Package imggateway defines domain types and interfaces for the image
// generation gateway. This package has no project imports -- it is the
// dependency root, mirrored after the teacher's root "gateway" package.
package imggateway

import "context"

// Task identifies which operation a request performs.
type Task string

const (
	TaskText  Task = "text"  // text-to-image
	TaskEdit  Task = "edit"  // image-to-image, >= 1 input image
	TaskBlend Task = "blend" // multi-image fusion with chat context
)

// ErrorKind classifies an upstream failure for retry/rotation decisions.
type ErrorKind string

const (
	ErrorKindRateLimit ErrorKind = "rate_limit"
	ErrorKindAuth      ErrorKind = "auth_error"
	ErrorKindOther     ErrorKind = "other"
)

// ProviderError is returned by adapters on upstream failure. It carries
// enough information for the handler to decide whether to rotate
// credentials, advance the route plan, or surface the error to the client.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Message  string
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + string(e.Kind) + ": " + e.Message
}

// HTTPStatus lets upstream failures that exhaust all providers map to 500
// via the shared ErrorStatus dispatcher.
func (e *ProviderError) HTTPStatus() int { return 500 }

// ImageRequest is the internal, adapter-agnostic request shape built by the
// handler pipeline from an OpenAI-compatible inbound request.
type ImageRequest struct {
	Task           Task
	Prompt         string
	Images         []string // normalized data URIs or http(s) URLs, input images
	Model          string
	Size           string
	N              int
	Steps          int
	ResponseFormat string // "url" (default) or "b64_json"
	ImageIndex     int    // which output image this call produces, for per-image prompt optimization
	ChatContext    string // additional chat text accompanying a blend request
}

// GeneratedImage is a single output image in either URL or Base64 form.
type GeneratedImage struct {
	URL     string
	B64JSON string
}

// GenerationResult is returned by adapters instead of raising an error
// directly, per the propagation policy in the spec: adapters report
// {success, images, error} and let the caller classify retryability.
type GenerationResult struct {
	Success bool
	Images  []GeneratedImage
	Err     *ProviderError
}

// Capabilities describes what a provider adapter can do, statically.
type Capabilities struct {
	TextToImage            bool
	ImageToImage           bool
	MultiImageFusion       bool
	AsyncTask              bool
	MaxInputImages         int
	MaxOutputImages        int
	MaxEditOutputImages    int
	MaxBlendOutputImages   int
	MaxNativeOutputImages  int // upstream's native n cap; 1 means the adapter must fan out
	OutputFormats          []string
}

// Provider is the interface every upstream image-generation adapter must
// implement. The registry holds one instance per adapter name.
type Provider interface {
	// Name returns the provider identifier (e.g. "Doubao", "Gitee").
	Name() string
	// Capabilities returns the adapter's static capability descriptor.
	Capabilities() Capabilities
	// DetectAPIKey reports whether credential matches this provider's
	// credential shape. Offline, no network call.
	DetectAPIKey(credential string) bool
	// ValidateRequest performs semantic pre-checks on req before dispatch.
	ValidateRequest(req ImageRequest) error
	// Generate executes a text-to-image or image-to-image call.
	Generate(ctx context.Context, credential string, req ImageRequest) (*GenerationResult, error)
	// Blend executes a multi-image fusion call.
	Blend(ctx context.Context, credential string, req ImageRequest) (*GenerationResult, error)
	// SupportedModels returns the adapter's known model identifiers.
	SupportedModels() []string
}

// NativeCredential is implemented by adapters whose credential requirement
// is internal (e.g. HuggingFace's URL pool) rather than a per-call secret.
// The weighted router and handler skip pool acquisition for these.
type NativeCredential interface {
	UsesInternalCredential() bool
}
