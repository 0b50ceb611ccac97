package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDocumentNotFound marks a document id with no row in the store. The
// synchronizer treats it as a per-event failure, not a stream failure.
var ErrDocumentNotFound = errors.New("document not found")

const (
	documentsTable           = "documents"
	keywordsTable            = "keywords"
	suggestionsTable         = "suggestions"
	documentKeywordsTable    = "document_keywords"
	documentSuggestionsTable = "document_suggestions"
)

// Repository is the read path the index synchronizer projects from. It uses
// its own pool, independent of the replication connection.
type Repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetDocumentByID loads the current state of one document.
func (r *Repository) GetDocumentByID(ctx context.Context, id int) (*Document, error) {
	query, args, err := r.builder.
		Select("id", "title", "filename", "data", "uploaded_at", "last_edited_by").
		From(documentsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build document query: %w", err)
	}

	var doc Document
	err = r.pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID,
		&doc.Title,
		&doc.Filename,
		&doc.Data,
		&doc.UploadedAt,
		&doc.LastEditedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %d: %w", id, ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("query document %d: %w", id, err)
	}

	return &doc, nil
}

// GetKeywordNamesByDocumentID loads the keyword names joined to a document.
func (r *Repository) GetKeywordNamesByDocumentID(ctx context.Context, id int) ([]string, error) {
	names, err := r.relatedNames(ctx, keywordsTable, documentKeywordsTable, "keyword_id", id)
	if err != nil {
		return nil, fmt.Errorf("query keywords for document %d: %w", id, err)
	}
	return names, nil
}

// GetSuggestionNamesByDocumentID loads the suggestion names joined to a document.
func (r *Repository) GetSuggestionNamesByDocumentID(ctx context.Context, id int) ([]string, error) {
	names, err := r.relatedNames(ctx, suggestionsTable, documentSuggestionsTable, "suggestion_id", id)
	if err != nil {
		return nil, fmt.Errorf("query suggestions for document %d: %w", id, err)
	}
	return names, nil
}

// relatedNames is the shared entity -> join table -> related entity query
// used by both the keyword and suggestion paths.
func (r *Repository) relatedNames(ctx context.Context, relatedTable, joinTable, joinColumn string, documentID int) ([]string, error) {
	query, args, err := r.builder.
		Select("r.name").
		From(relatedTable + " r").
		Join(fmt.Sprintf("%s j ON j.%s = r.id", joinTable, joinColumn)).
		Where(squirrel.Eq{"j.document_id": documentID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build join query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}
