package document

import "time"

// Document is the relational system-of-record entity. Keywords and
// suggestions hang off it through many-to-many join tables and are loaded
// separately.
type Document struct {
	ID           int
	Title        string
	Filename     string
	Data         []byte
	UploadedAt   time.Time
	LastEditedBy int
}
