package httpapi

import (
	"context"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/imageutil"
	"github.com/lianwusuoai/img-router/internal/promptopt"
	"github.com/lianwusuoai/img-router/internal/router"
)

// generationRequest collects the inputs every endpoint gathers before
// entering the shared stage 3-8 pipeline.
type generationRequest struct {
	Task           imggateway.Task
	Prompt         string
	ChatContext    string
	Images         []string
	Model          string
	Size           string
	N              int
	Steps          int
	ResponseFormat string
}

// generationOutcome is what every handler needs to shape its response.
type generationOutcome struct {
	Images   []imageDataItem
	Provider string
	Model    string
}

// runGeneration drives stages 4 through 8: normalize input images, fan
// out prompt optimization per image index, dispatch in batches sized to
// the chosen provider's native output cap, persist artifacts, and shape
// the response.
func (s *server) runGeneration(ctx context.Context, auth authResult, gr generationRequest) (*generationOutcome, error) {
	n := gr.N
	if n < 1 {
		n = 1
	}
	if gr.ResponseFormat == "" {
		gr.ResponseFormat = "url"
	}

	normalizedImages := imageutil.NormalizeAndCompressInputImages(ctx, s.deps.HTTPClient, gr.Images)

	optCfg := s.optimizerConfig()
	optimized, err := s.deps.Optimizer.OptimizeAll(ctx, optCfg, gr.Prompt, n, false)
	if err != nil {
		optimized = nil
	}
	promptFor := func(index int) string {
		if index < len(optimized) {
			return optimized[index].Prompt
		}
		return gr.Prompt
	}

	maxNative := s.primaryMaxNativeOutputImages(auth, gr.Task, gr.Model)
	if maxNative < 1 {
		maxNative = 1
	}

	var (
		allImages     []imggateway.GeneratedImage
		providerName  string
		resolvedModel = gr.Model
	)

	for start := 0; start < n; start += maxNative {
		batch := maxNative
		if start+batch > n {
			batch = n - start
		}
		req := imggateway.ImageRequest{
			Task:           gr.Task,
			Prompt:         promptFor(start),
			ChatContext:    gr.ChatContext,
			Images:         normalizedImages,
			Model:          gr.Model,
			Size:           gr.Size,
			N:              batch,
			Steps:          gr.Steps,
			ResponseFormat: gr.ResponseFormat,
			ImageIndex:     start,
		}
		result, name, err := s.dispatch(ctx, auth, gr.Task, req)
		if err != nil {
			if len(allImages) > 0 {
				break
			}
			return nil, err
		}
		providerName = name
		allImages = append(allImages, result.Images...)
	}

	if len(allImages) == 0 {
		return nil, imggateway.ErrUpstreamError
	}

	s.persistArtifacts(allImages, providerName, resolvedModel, gr.Prompt, gr.Size, gr.Task)

	return &generationOutcome{
		Images:   s.shapeImages(ctx, allImages, gr.ResponseFormat),
		Provider: providerName,
		Model:    resolvedModel,
	}, nil
}

// optimizerConfig builds a promptopt.Config from the runtime document's
// global prompt optimizer settings.
func (s *server) optimizerConfig() promptopt.Config {
	p := s.deps.Config.Get().PromptOptimizer
	return promptopt.Config{
		BaseURL:            p.BaseURL,
		APIKey:             p.APIKey,
		Model:              p.Model,
		EnableTranslate:    p.EnableTranslate,
		EnableExpand:       p.EnableExpand,
		TranslatePrompt:    p.TranslatePrompt,
		ExpandPrompt:       p.ExpandPrompt,
		TranslateMaxLength: p.TranslateMaxLength,
		ExpandMaxLength:    p.ExpandMaxLength,
	}
}

// primaryMaxNativeOutputImages reports the output batch cap of the
// provider that will handle the first dispatch attempt, so the fan-out
// loop above can batch same as a single adapter call would.
func (s *server) primaryMaxNativeOutputImages(auth authResult, task imggateway.Task, model string) int {
	if auth.Mode == imggateway.AuthModeRelay {
		return auth.Provider.Capabilities().MaxNativeOutputImages
	}
	plan := router.BuildPlan(s.buildProviderViews(task), model)
	if len(plan) == 0 {
		return 1
	}
	p, err := s.deps.Providers.Get(plan[0].Provider)
	if err != nil {
		return 1
	}
	return p.Capabilities().MaxNativeOutputImages
}
