// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must satisfy,
// and Client, which wraps a Provider with input validation, rate limiting and
// retry with exponential backoff.
package embedder

//go:generate mockgen -source=base.go -destination=mocks/provider.go -package=mocks

import "context"

// Provider turns text into fixed-width vectors.
//
// Implementations report HTTP failures as *StatusError so that Client can
// tell transient failures from permanent ones. Provider calls are never
// retried by the implementation itself.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions is the width of every vector the provider returns.
	Dimensions() int

	Close() error
}
