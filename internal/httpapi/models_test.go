package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleListModelsUnionAndDedup(t *testing.T) {
	doubao := textCapableProvider("Doubao")
	doubao.models = []string{"doubao-model-1", "gpt-4o"} // overlaps a static entry
	gitee := textCapableProvider("Gitee")

	h := newTestRouter(t, doubao, gitee)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp modelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	seen := make(map[string]int)
	for _, m := range resp.Data {
		seen[m.ID]++
	}
	if seen["gpt-4o"] != 1 {
		t.Fatalf("gpt-4o count = %d, want 1 (deduped across provider + static list)", seen["gpt-4o"])
	}
	if seen["doubao-model-1"] != 1 || seen["Gitee-model-1"] != 1 || seen["gpt-4o-mini"] != 1 {
		t.Fatalf("Data = %+v", resp.Data)
	}
}

func TestHandleListModelsExcludesDisabledProvider(t *testing.T) {
	doubao := textCapableProvider("Doubao")
	s := newTestServer(t, doubao)
	s.deps.Providers.SetEnabled("Doubao", false)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	s.handleListModels(rec, req)

	var resp modelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, m := range resp.Data {
		if m.ID == "doubao-model-1" {
			t.Fatalf("disabled provider's model leaked into listing: %+v", resp.Data)
		}
	}
}
