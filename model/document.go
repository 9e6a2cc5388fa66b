package model

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ScratchpadDocument is an unstructured, link-bearing freeform note.
// Forward links are derived from the body by the link graph index;
// backlinks are never authored, always recomputed from forward links.
type ScratchpadDocument struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"` // unique across the corpus
	Body         string    `json:"body"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"` // optional semantic vector
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// NewDocumentFromFile reads a file into a ScratchpadDocument.
// The title defaults to the filename without extension.
func NewDocumentFromFile(filePath string, metadata Metadata) (*ScratchpadDocument, error) {
	body, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	filename := filepath.Base(filePath)
	title := filename[:len(filename)-len(filepath.Ext(filename))]
	if title == "" {
		title = filename
	}

	return &ScratchpadDocument{
		Title:    title,
		Body:     string(body),
		Metadata: metadata,
	}, nil
}
