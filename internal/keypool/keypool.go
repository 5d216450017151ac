// Package keypool implements the pure selection and health-accounting
// rules for a provider's rotating credential pool. It operates on plain
// []imggateway.KeyItem slices so the config store can apply it under its
// own write lock without a second owner of the data (see spec §3
// Ownership: "the credential pool is a view over runtime.keyPools").
package keypool

import (
	"math/rand"

	imggateway "github.com/lianwusuoai/img-router/internal"
)

// maxErrorCount is the error threshold after which a key is disabled.
// errorCount > 5 (i.e. the 6th consecutive error) forces status=disabled.
const maxErrorCount = 5

// SelectActive returns a uniformly random item among those with
// status == active and enabled != false, or false if none qualify.
func SelectActive(items []imggateway.KeyItem) (int, bool) {
	var candidates []int
	for i, it := range items {
		if it.Enabled && it.Status == imggateway.KeyStatusActive {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

// ApplySuccess resets the error streak and bumps usage counters in place.
func ApplySuccess(item *imggateway.KeyItem, nowMs int64) {
	item.ErrorCount = 0
	item.LastUsed = nowMs
	item.SuccessCount++
	item.TotalCalls++
}

// ApplyError records an error of the given kind. If the error streak
// exceeds maxErrorCount, the item transitions to disabled. The reason tag
// is recorded only for diagnostics -- it never affects retention, per spec.
func ApplyError(item *imggateway.KeyItem, reason imggateway.ErrorKind) {
	item.ErrorCount++
	item.TotalCalls++
	_ = reason
	if item.ErrorCount > maxErrorCount {
		item.Status = imggateway.KeyStatusDisabled
	}
}

// FindByKey returns the index of the item whose Key equals key, or -1.
func FindByKey(items []imggateway.KeyItem, key string) int {
	for i, it := range items {
		if it.Key == key {
			return i
		}
	}
	return -1
}
