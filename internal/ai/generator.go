// Package ai generates complaint draft texts for negative reviews.
package ai

import "context"

// DraftGenerator produces a complaint draft for one review. Implementations
// must honor the context deadline; the backfill worker bounds every call.
type DraftGenerator interface {
	GenerateDraft(ctx context.Context, req DraftRequest) (string, error)
}

// DraftRequest carries the review context the generator needs.
type DraftRequest struct {
	ProductTitle string
	Rating       int
	ReviewText   string
	Author       string
}
