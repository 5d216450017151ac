package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	imggateway "github.com/lianwusuoai/img-router/internal"
	"github.com/lianwusuoai/img-router/internal/logging"
)

// providerCapabilityView is the derived, read-only view of a provider's
// static capabilities surfaced by GET /api/config.
type providerCapabilityView struct {
	Name             string   `json:"name"`
	Enabled          bool     `json:"enabled"`
	TextToImage      bool     `json:"textToImage"`
	ImageToImage     bool     `json:"imageToImage"`
	MultiImageFusion bool     `json:"multiImageFusion"`
	SupportedModels  []string `json:"supportedModels"`
}

type configSnapshotResponse struct {
	Runtime   imggateway.Runtime       `json:"runtime"`
	Providers []providerCapabilityView `json:"providers"`
}

// handleGetConfig returns the full runtime snapshot plus each registered
// provider's derived capability flags.
func (s *server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	doc := s.deps.Config.Get()
	var views []providerCapabilityView
	for _, name := range s.deps.Providers.List() {
		p, err := s.deps.Providers.Get(name)
		if err != nil {
			continue
		}
		caps := p.Capabilities()
		views = append(views, providerCapabilityView{
			Name:             name,
			Enabled:          s.deps.Providers.IsEnabled(name) && doc.Providers[name].IsEnabled(),
			TextToImage:      caps.TextToImage,
			ImageToImage:     caps.ImageToImage,
			MultiImageFusion: caps.MultiImageFusion,
			SupportedModels:  p.SupportedModels(),
		})
	}
	writeJSON(w, http.StatusOK, configSnapshotResponse{Runtime: doc, Providers: views})
}

func (s *server) handleGetRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Config.Get())
}

// runtimeConfigPatch is a loosely-typed patch body: a caller sends only
// the section(s) it wants to change, or a single {provider, task,
// defaults} triple to update one provider/task combination.
type runtimeConfigPatch struct {
	System    *imggateway.SystemConfig               `json:"system,omitempty"`
	Providers map[string]imggateway.ProviderSettings  `json:"providers,omitempty"`
	Storage   *imggateway.StorageConfig               `json:"storage,omitempty"`

	Provider string                    `json:"provider,omitempty"`
	Task     imggateway.Task           `json:"task,omitempty"`
	Defaults *imggateway.TaskDefaults  `json:"defaults,omitempty"`
}

func (s *server) handlePostRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	var patch runtimeConfigPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	if patch.Provider != "" && patch.Task != "" && patch.Defaults != nil {
		if err := s.deps.Config.SetTaskDefaults(patch.Provider, patch.Task, *patch.Defaults); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, s.deps.Config.Get())
		return
	}

	if patch.System != nil {
		prevPort := s.deps.Config.Get().System.Port
		if err := s.deps.Config.UpdateSystem(*patch.System); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
		if patch.System.Port != 0 && patch.System.Port != prevPort {
			rewriteComposePort(patch.System.Port)
		}
	}

	if patch.Providers != nil {
		doc := s.deps.Config.Get()
		for name, settings := range patch.Providers {
			doc.Providers[name] = settings
		}
		if err := s.deps.Config.ReplaceAll(doc); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
	}

	if patch.Storage != nil {
		doc := s.deps.Config.Get()
		doc.Storage = *patch.Storage
		if err := s.deps.Config.ReplaceAll(doc); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
			return
		}
	}

	writeJSON(w, http.StatusOK, s.deps.Config.Get())
}

// rewriteComposePort does nothing: a port change is recorded in the
// runtime document only, and docker-compose.yml is neither read nor
// modified.
func rewriteComposePort(port int) {
	// Deliberately unimplemented beyond the runtime document: the docker
	// socket / compose-file coupling is out of scope per spec.md's
	// open question on container-runtime access (see DESIGN.md).
	_ = port
}

// keyPoolItemView is the masked, client-safe view of a pooled credential.
type keyPoolItemView struct {
	ID           string             `json:"id"`
	MaskedKey    string             `json:"maskedKey"`
	Name         string             `json:"name"`
	Enabled      bool               `json:"enabled"`
	Status       imggateway.KeyStatus `json:"status"`
	ErrorCount   int                `json:"errorCount"`
	SuccessCount int                `json:"successCount"`
	TotalCalls   int                `json:"totalCalls"`
	LastUsed     int64              `json:"lastUsed"`
	AddedAt      int64              `json:"addedAt"`
	Provider     string             `json:"provider"`
}

func maskedView(item imggateway.KeyItem) keyPoolItemView {
	return keyPoolItemView{
		ID:           item.ID,
		MaskedKey:    imggateway.MaskKey(item.Key),
		Name:         item.Name,
		Enabled:      item.Enabled,
		Status:       item.Status,
		ErrorCount:   item.ErrorCount,
		SuccessCount: item.SuccessCount,
		TotalCalls:   item.TotalCalls,
		LastUsed:     item.LastUsed,
		AddedAt:      item.AddedAt,
		Provider:     item.Provider,
	}
}

func (s *server) handleGetKeyPool(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	items := s.deps.Config.GetKeyPool(provider)
	views := make([]keyPoolItemView, 0, len(items))
	for _, item := range items {
		views = append(views, maskedView(item))
	}
	writeJSON(w, http.StatusOK, views)
}

type keyPoolRequest struct {
	Action   string              `json:"action"`
	Provider string              `json:"provider"`
	Key      string              `json:"key,omitempty"`
	Name     string              `json:"name,omitempty"`
	Keys     []string            `json:"keys,omitempty"` // batch_add
	ID       string              `json:"id,omitempty"`   // update/delete
	Enabled  *bool               `json:"enabled,omitempty"`
}

func (s *server) handlePostKeyPool(w http.ResponseWriter, r *http.Request) {
	var req keyPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Provider == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("provider is required"))
		return
	}

	items := s.deps.Config.GetKeyPool(req.Provider)

	switch req.Action {
	case "add":
		if req.Key == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse("key is required"))
			return
		}
		for _, it := range items {
			if it.Key == req.Key {
				writeJSON(w, http.StatusConflict, errorResponse("Duplicate key"))
				return
			}
		}
		items = append(items, newKeyItem(req.Provider, req.Key, req.Name))

	case "batch_add":
		existing := make(map[string]bool, len(items))
		for _, it := range items {
			existing[it.Key] = true
		}
		for _, key := range req.Keys {
			if key == "" || existing[key] {
				continue
			}
			existing[key] = true
			items = append(items, newKeyItem(req.Provider, key, ""))
		}

	case "update":
		idx := findKeyByID(items, req.ID)
		if idx < 0 {
			writeJSON(w, http.StatusNotFound, errorResponse("not found"))
			return
		}
		if req.Name != "" {
			items[idx].Name = req.Name
		}
		if req.Enabled != nil {
			items[idx].Enabled = *req.Enabled
		}

	case "delete":
		idx := findKeyByID(items, req.ID)
		if idx < 0 {
			writeJSON(w, http.StatusNotFound, errorResponse("not found"))
			return
		}
		items = append(items[:idx], items[idx+1:]...)

	default:
		writeJSON(w, http.StatusBadRequest, errorResponse("unknown action"))
		return
	}

	if err := s.deps.Config.UpdateKeyPool(req.Provider, items); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}

	views := make([]keyPoolItemView, 0, len(items))
	for _, item := range items {
		views = append(views, maskedView(item))
	}
	writeJSON(w, http.StatusOK, views)
}

func findKeyByID(items []imggateway.KeyItem, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func newKeyItem(provider, key, name string) imggateway.KeyItem {
	return imggateway.KeyItem{
		ID:       keyIDFor(provider, key),
		Key:      key,
		Name:     name,
		Enabled:  true,
		Status:   imggateway.KeyStatusActive,
		AddedAt:  time.Now().UnixMilli(),
		Provider: provider,
	}
}

// keyIDFor derives a stable identifier from the provider name and the
// full key rather than a random UUID, so re-adding the same key after a
// restart is naturally idempotent.
func keyIDFor(provider, key string) string {
	sum := 2166136261
	for _, c := range provider + "|" + key {
		sum ^= int(c)
		sum *= 16777619
	}
	return provider + "-" + strconv.FormatUint(uint64(uint32(sum)), 16)
}

type dashboardProviderStats struct {
	Total        int     `json:"total"`
	Valid        int     `json:"valid"`
	Invalid      int     `json:"invalid"`
	Unused       int     `json:"unused"`
	TotalCalls   int     `json:"totalCalls"`
	TotalSuccess int     `json:"totalSuccess"`
	SuccessRate  float64 `json:"successRate"`
}

func (s *server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	doc := s.deps.Config.Get()
	out := make(map[string]dashboardProviderStats, len(doc.KeyPools))
	for provider, items := range doc.KeyPools {
		var stat dashboardProviderStats
		for _, it := range items {
			stat.Total++
			switch {
			case it.Status == imggateway.KeyStatusDisabled || !it.Enabled:
				stat.Invalid++
			default:
				stat.Valid++
			}
			if it.TotalCalls == 0 {
				stat.Unused++
			}
			stat.TotalCalls += it.TotalCalls
			stat.TotalSuccess += it.SuccessCount
		}
		if stat.TotalCalls > 0 {
			stat.SuccessRate = float64(stat.TotalSuccess) / float64(stat.TotalCalls)
		}
		out[provider] = stat
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLogsStream implements GET /api/logs/stream: replay the ring
// filtered by ?level=, then forward every new entry until the client
// disconnects.
func (s *server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logger == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("logging unavailable"))
		return
	}
	level := strings.ToUpper(r.URL.Query().Get("level"))

	writeSSEHeaders(w)
	flusher, _ := w.(http.Flusher)

	ch, unsubscribe := s.deps.Logger.Subscribe(64)
	defer unsubscribe()

	for _, entry := range s.deps.Logger.Recent() {
		if level != "" && string(entry.Level) != level {
			continue
		}
		writeLogEntry(w, entry)
	}
	if flusher != nil {
		flusher.Flush()
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if level != "" && string(entry.Level) != level {
				continue
			}
			writeLogEntry(w, entry)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeLogEntry(w http.ResponseWriter, entry logging.Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	writeSSEData(w, data)
}

func (s *server) handleGetGallery(w http.ResponseWriter, r *http.Request) {
	images, err := s.deps.Artifacts.ListImages()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, images)
}

type galleryDeleteRequest struct {
	Filenames []string `json:"filenames"`
}

func (s *server) handleDeleteGallery(w http.ResponseWriter, r *http.Request) {
	var req galleryDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	removed := s.deps.Artifacts.DeleteImages(r.Context(), req.Filenames)
	writeJSON(w, http.StatusOK, map[string][]string{"removed": removed})
}

type testPromptOptimizerRequest struct {
	Prompt string `json:"prompt"`
}

func (s *server) handleTestPromptOptimizer(w http.ResponseWriter, r *http.Request) {
	var req testPromptOptimizerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := contextWithAPITimeout(r, 10*time.Second)
	defer cancel()

	results, err := s.deps.Optimizer.OptimizeAll(ctx, s.optimizerConfig(), req.Prompt, 1, true)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": results[0].Prompt})
}

func (s *server) handleFetchModels(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]string, len(s.deps.Providers.List()))
	for _, name := range s.deps.Providers.List() {
		p, err := s.deps.Providers.Get(name)
		if err != nil {
			continue
		}
		out[name] = p.SupportedModels()
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRestartDocker is unimplemented: the spec's Open Question on
// container-runtime access is resolved against implementing it (see
// DESIGN.md) since the core pipeline never depends on it.
func (s *server) handleRestartDocker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, errorResponse("container restart is not supported by this deployment"))
}
