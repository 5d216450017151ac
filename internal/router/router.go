// Package router builds the weighted cascade execution plan used in
// backend mode: given a task and an optional requested model, it
// enumerates enabled providers that declare the task, resolves each
// one's effective model, and orders the result by weight.
package router

import (
	"sort"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

// Step is one entry in an execution plan: try this provider with this
// model.
type Step struct {
	Provider string
	Model    string
	Weight   int
}

// ProviderView is the subset of registry + config-store state the
// planner needs for one candidate provider, assembled by the caller so
// this package stays free of a dependency on the registry or the store.
type ProviderView struct {
	Name             string
	Enabled          bool
	DeclarationOrder int
	SupportsTask     bool
	SupportedModels  []string
	TaskDefaultModel string
	AdapterDefault   string
	Weight           int
}

// BuildPlan enumerates providers that support task, resolves each one's
// effective model, and sorts the result by weight descending, ties
// broken by declaration order. An empty plan means the handler must
// respond 503 "No available providers".
func BuildPlan(providers []ProviderView, requestedModel string) []Step {
	var steps []Step
	for _, p := range providers {
		if !p.Enabled || !p.SupportsTask {
			continue
		}
		model := p.TaskDefaultModel
		if model == "" {
			model = p.AdapterDefault
		}
		if requestedModel != "" && contains(p.SupportedModels, requestedModel) {
			model = requestedModel
		}
		steps = append(steps, Step{Provider: p.Name, Model: model, Weight: p.Weight})
	}

	order := make(map[string]int, len(providers))
	for _, p := range providers {
		order[p.Name] = p.DeclarationOrder
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Weight != steps[j].Weight {
			return steps[i].Weight > steps[j].Weight
		}
		return order[steps[i].Provider] < order[steps[j].Provider]
	})
	return steps
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// ErrNoAvailableProviders is returned by the handler when BuildPlan
// yields an empty slice.
var ErrNoAvailableProviders = imggateway.ErrNoProviders
