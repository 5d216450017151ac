package router

import "testing"

func TestBuildPlanSortsByWeightThenDeclarationOrder(t *testing.T) {
	providers := []ProviderView{
		{Name: "a", Enabled: true, DeclarationOrder: 0, SupportsTask: true, Weight: 5, AdapterDefault: "model-a"},
		{Name: "b", Enabled: true, DeclarationOrder: 1, SupportsTask: true, Weight: 10, AdapterDefault: "model-b"},
		{Name: "c", Enabled: true, DeclarationOrder: 2, SupportsTask: true, Weight: 10, AdapterDefault: "model-c"},
	}
	plan := BuildPlan(providers, "")
	if len(plan) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(plan))
	}
	if plan[0].Provider != "b" || plan[1].Provider != "c" || plan[2].Provider != "a" {
		t.Fatalf("unexpected order: %+v", plan)
	}
}

func TestBuildPlanSkipsDisabledAndUnsupported(t *testing.T) {
	providers := []ProviderView{
		{Name: "a", Enabled: false, SupportsTask: true, Weight: 10},
		{Name: "b", Enabled: true, SupportsTask: false, Weight: 10},
		{Name: "c", Enabled: true, SupportsTask: true, Weight: 1, AdapterDefault: "model-c"},
	}
	plan := BuildPlan(providers, "")
	if len(plan) != 1 || plan[0].Provider != "c" {
		t.Fatalf("expected only c in plan, got %+v", plan)
	}
}

func TestBuildPlanHonorsRequestedModelWhenSupported(t *testing.T) {
	providers := []ProviderView{
		{Name: "a", Enabled: true, SupportsTask: true, Weight: 10, SupportedModels: []string{"x", "y"}, AdapterDefault: "x"},
	}
	plan := BuildPlan(providers, "y")
	if len(plan) != 1 || plan[0].Model != "y" {
		t.Fatalf("expected requested model y honored, got %+v", plan)
	}
}

func TestBuildPlanEmptyWhenNoCandidates(t *testing.T) {
	plan := BuildPlan(nil, "")
	if len(plan) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}
