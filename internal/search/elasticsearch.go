package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/olivere/elastic/v7"
	"github.com/rs/zerolog/log"
)

const documentsMapping = `{
	"mappings": {
		"properties": {
			"title":       { "type": "text" },
			"filename":    { "type": "keyword" },
			"keywords":    { "type": "keyword" },
			"suggestions": { "type": "completion" },
			"data":        { "type": "binary" },
			"attachment":  { "properties": { "content": { "type": "text" } } },
			"indexed_on":  { "type": "date" }
		}
	}
}`

// ElasticsearchConfig holds the target cluster and index.
type ElasticsearchConfig struct {
	URL      string
	Index    string
	Pipeline string
}

// Elasticsearch implements Engine on an Elasticsearch cluster. Writes go
// through the configured ingest pipeline so the engine extracts attachment
// text and stamps indexed_on server side.
type Elasticsearch struct {
	client *elastic.Client
	cfg    ElasticsearchConfig
}

// NewElasticsearch connects to the cluster and creates the index with its
// mapping if it does not exist yet.
func NewElasticsearch(ctx context.Context, cfg ElasticsearchConfig) (*Elasticsearch, error) {
	client, err := elastic.NewClient(
		elastic.SetURL(cfg.URL),
		elastic.SetSniff(false),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to elasticsearch: %w", err)
	}

	exists, err := client.IndexExists(cfg.Index).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("check index %s: %w", cfg.Index, err)
	}
	if !exists {
		createIndex, err := client.CreateIndex(cfg.Index).BodyString(documentsMapping).Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("create index %s: %w", cfg.Index, err)
		}
		if !createIndex.Acknowledged {
			return nil, fmt.Errorf("create index %s: not acknowledged", cfg.Index)
		}
		log.Info().Str("index", cfg.Index).Msg("created search index")
	}

	return &Elasticsearch{client: client, cfg: cfg}, nil
}

func (e *Elasticsearch) Index(ctx context.Context, doc Document) error {
	svc := e.client.Index().
		Index(e.cfg.Index).
		Id(doc.ID).
		BodyJson(doc)
	if e.cfg.Pipeline != "" {
		svc = svc.Pipeline(e.cfg.Pipeline)
	}

	result, err := svc.Do(ctx)
	if err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}

	log.Debug().
		Str("document_id", doc.ID).
		Str("result", result.Result).
		Msg("indexed document")
	return nil
}

// Update is a full replace: the projection is always rebuilt from current
// relational state, so a partial update has nothing to preserve.
func (e *Elasticsearch) Update(ctx context.Context, doc Document) error {
	return e.Index(ctx, doc)
}

func (e *Elasticsearch) Delete(ctx context.Context, id string) error {
	_, err := e.client.Delete().
		Index(e.cfg.Index).
		Id(id).
		Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return fmt.Errorf("delete document %s: %w", id, ErrDocumentMissing)
		}
		return fmt.Errorf("delete document %s: %w", id, err)
	}

	log.Debug().Str("document_id", id).Msg("deleted document from index")
	return nil
}

func (e *Elasticsearch) GetByID(ctx context.Context, id string) (*Document, error) {
	result, err := e.client.Get().
		Index(e.cfg.Index).
		Id(id).
		Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return nil, fmt.Errorf("get document %s: %w", id, ErrDocumentMissing)
		}
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}

	var doc Document
	if err := json.Unmarshal(result.Source, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document %s: %w", id, err)
	}
	return &doc, nil
}

func (e *Elasticsearch) Ping(ctx context.Context) error {
	_, _, err := e.client.Ping(e.cfg.URL).Do(ctx)
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	return nil
}

func (e *Elasticsearch) Close() {
	e.client.Stop()
}
