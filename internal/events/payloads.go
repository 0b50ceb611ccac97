package events

// Event type tags written by the outbox writer. The tag selects the payload
// shape; consumers that do not know a tag skip the event.
const (
	TypeDocumentCreated = "DocumentCreated"
	TypeDocumentUpdated = "DocumentUpdated"
	TypeDocumentDeleted = "DocumentDeleted"
)

// Message is the closed set of payload variants this consumer understands.
// Adding a variant means extending the switch in Dispatch, which the compiler
// checks, instead of registering a string-keyed handler at runtime.
type Message interface {
	isMessage()
}

// DocumentCreated is the payload for a DocumentCreated event.
type DocumentCreated struct {
	DocumentID int `json:"documentId"`
}

// DocumentUpdated is the payload for a DocumentUpdated event.
type DocumentUpdated struct {
	DocumentID int `json:"documentId"`
}

// DocumentDeleted is the payload for a DocumentDeleted event.
type DocumentDeleted struct {
	DocumentID int `json:"documentId"`
}

func (DocumentCreated) isMessage() {}
func (DocumentUpdated) isMessage() {}
func (DocumentDeleted) isMessage() {}
