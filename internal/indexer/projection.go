package indexer

import (
	"strconv"

	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/document"
	"github.com/bytefish/ElasticsearchFulltextExample-sub000/internal/search"
)

// buildSearchDocument flattens a relational document and its related names
// into the engine shape. It is a pure function of the loaded state; the
// triggering event does not influence the result.
func buildSearchDocument(doc *document.Document, keywords, suggestions []string) search.Document {
	return search.Document{
		ID:          documentIndexID(doc.ID),
		Title:       doc.Title,
		Filename:    doc.Filename,
		Keywords:    keywords,
		Suggestions: suggestions,
		Data:        doc.Data,
	}
}

func documentIndexID(id int) string {
	return strconv.Itoa(id)
}
