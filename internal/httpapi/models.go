package httpapi

import "net/http"

// staticTextModels are surfaced alongside adapter-reported models so chat
// clients listing /v1/models see familiar OpenAI text identifiers even
// though no text-only backend is wired for them.
var staticTextModels = []string{"gpt-4o", "gpt-4o-mini"}

// handleListModels implements GET /v1/models: the union of every enabled
// provider's supported models plus the static text-model list, in
// OpenAI's list shape.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	var entries []modelEntry

	add := func(id, ownedBy string) {
		if seen[id] {
			return
		}
		seen[id] = true
		entries = append(entries, modelEntry{ID: id, Object: "model", OwnedBy: ownedBy})
	}

	for _, name := range s.deps.Providers.EnabledList() {
		p, err := s.deps.Providers.Get(name)
		if err != nil {
			continue
		}
		for _, model := range p.SupportedModels() {
			add(model, p.Name())
		}
	}
	for _, model := range staticTextModels {
		add(model, "openai")
	}

	writeJSON(w, http.StatusOK, modelsResponse{Object: "list", Data: entries})
}
