package search

import (
	"context"
	"errors"
)

// ErrDocumentMissing marks a document id the index does not hold.
var ErrDocumentMissing = errors.New("document missing from index")

// Document is the denormalized, engine-shaped projection of a relational
// document. It is recomputed from current relational state on every sync and
// never persisted anywhere but the engine itself.
type Document struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Filename    string   `json:"filename"`
	Keywords    []string `json:"keywords"`
	Suggestions []string `json:"suggestions"`
	Data        []byte   `json:"data"`
}

// Engine is the black-box document store the synchronizer writes to.
type Engine interface {
	// Index creates or replaces the document under its id.
	Index(ctx context.Context, doc Document) error

	// Update replaces the document under its id. Engines without a
	// distinct update operation may implement it as Index.
	Update(ctx context.Context, doc Document) error

	// Delete removes the document. Deleting an absent document returns
	// ErrDocumentMissing.
	Delete(ctx context.Context, id string) error

	// GetByID fetches the stored document, ErrDocumentMissing if absent.
	GetByID(ctx context.Context, id string) (*Document, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	Close()
}
