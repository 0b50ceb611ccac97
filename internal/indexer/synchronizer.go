package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/document"
	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/search"
)

// DocumentReader is the slice of the relational read path the synchronizer
// projects from.
type DocumentReader interface {
	GetDocumentByID(ctx context.Context, id int) (*document.Document, error)
	GetKeywordNamesByDocumentID(ctx context.Context, id int) ([]string, error)
	GetSuggestionNamesByDocumentID(ctx context.Context, id int) ([]string, error)
}

// Synchronizer applies document lifecycle events to the search index. Every
// apply rebuilds the projection from current relational state, which makes
// redelivered events converge to the same index document.
type Synchronizer struct {
	reader DocumentReader
	engine search.Engine
}

func NewSynchronizer(reader DocumentReader, engine search.Engine) *Synchronizer {
	return &Synchronizer{
		reader: reader,
		engine: engine,
	}
}

func (s *Synchronizer) OnDocumentCreated(ctx context.Context, documentID int) error {
	doc, err := s.loadProjection(ctx, documentID)
	if err != nil {
		return err
	}

	if err := s.engine.Index(ctx, doc); err != nil {
		return fmt.Errorf("index document %d: %w", documentID, err)
	}

	log.Info().Int("document_id", documentID).Msg("document indexed")
	return nil
}

func (s *Synchronizer) OnDocumentUpdated(ctx context.Context, documentID int) error {
	doc, err := s.loadProjection(ctx, documentID)
	if err != nil {
		return err
	}

	if err := s.engine.Update(ctx, doc); err != nil {
		return fmt.Errorf("update document %d: %w", documentID, err)
	}

	log.Info().Int("document_id", documentID).Msg("document reindexed")
	return nil
}

// OnDocumentDeleted removes the document from the index. The desired end
// state is absence, so an engine not-found answer counts as success.
func (s *Synchronizer) OnDocumentDeleted(ctx context.Context, documentID int) error {
	err := s.engine.Delete(ctx, documentIndexID(documentID))
	if err != nil {
		if errors.Is(err, search.ErrDocumentMissing) {
			log.Info().Int("document_id", documentID).Msg("document already absent from index")
			return nil
		}
		return fmt.Errorf("delete document %d: %w", documentID, err)
	}

	log.Info().Int("document_id", documentID).Msg("document removed from index")
	return nil
}

func (s *Synchronizer) loadProjection(ctx context.Context, documentID int) (search.Document, error) {
	doc, err := s.reader.GetDocumentByID(ctx, documentID)
	if err != nil {
		return search.Document{}, fmt.Errorf("load document %d: %w", documentID, err)
	}

	keywords, err := s.reader.GetKeywordNamesByDocumentID(ctx, documentID)
	if err != nil {
		return search.Document{}, fmt.Errorf("load keywords for document %d: %w", documentID, err)
	}

	suggestions, err := s.reader.GetSuggestionNamesByDocumentID(ctx, documentID)
	if err != nil {
		return search.Document{}, fmt.Errorf("load suggestions for document %d: %w", documentID, err)
	}

	return buildSearchDocument(doc, keywords, suggestions), nil
}
