// Package provider implements the callable model backends. Each driver
// exposes the same narrow shape — (system instructions, user prompt, token
// budget) in, (generated text, token usage) out — so the execution engine
// can treat both providers uniformly.
package provider

import (
	"context"

	"github.com/ossature/querygen/pkg/models"
)

// Prompt is the uniform request shape sent to a provider.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Completion is the uniform provider result.
type Completion struct {
	Text        string
	TotalTokens int64
}

// Driver is a callable model backend.
type Driver interface {
	// ID returns the provider identifier this driver serves.
	ID() models.ProviderID

	// Available reports whether a credential is configured. Unavailable
	// drivers are never selected and never used for fallback.
	Available() bool

	// Generate performs one model call. Implementations honor ctx deadlines.
	Generate(ctx context.Context, p Prompt) (*Completion, error)

	// HealthCheck performs a minimal credential-validating call.
	HealthCheck(ctx context.Context) error
}

// Registry maps provider IDs to drivers.
type Registry map[models.ProviderID]Driver

// Get returns the driver for the given id, or nil.
func (r Registry) Get(id models.ProviderID) Driver {
	return r[id]
}

// Available reports whether the given provider has a configured driver.
func (r Registry) Available(id models.ProviderID) bool {
	d, ok := r[id]
	return ok && d.Available()
}
