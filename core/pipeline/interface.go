// Package pipeline bundles the optional model-backed processing steps:
// document embedding for semantic ranking and mention extraction from
// user statements. Both run locally via ONNX models, no external service.
package pipeline

import (
	"github.com/siherrmann/memoir/model"
)

// EmbedFunc is a function that generates embeddings for text
type EmbedFunc func(text string) ([]float32, error)

// MentionExtractFunc extracts entity mentions from a user statement.
// The source tag is carried onto every mention for provenance.
type MentionExtractFunc func(text string, source string) ([]*model.Mention, error)

// Pipeline combines embedding and mention extraction
type Pipeline struct {
	Embedder         EmbedFunc
	MentionExtractor MentionExtractFunc // Optional
}

// NewPipeline creates a new processing pipeline
func NewPipeline(embedder EmbedFunc) *Pipeline {
	return &Pipeline{
		Embedder: embedder,
	}
}

// SetMentionExtractor sets the mention extraction function
func (p *Pipeline) SetMentionExtractor(extractor MentionExtractFunc) {
	p.MentionExtractor = extractor
}

// EmbedDocument fills in the document's embedding
func (p *Pipeline) EmbedDocument(doc *model.ScratchpadDocument) error {
	if p.Embedder == nil {
		return nil
	}
	embedding, err := p.Embedder(doc.Title + "\n" + doc.Body)
	if err != nil {
		return err
	}
	doc.Embedding = embedding
	return nil
}

// ExtractMentions extracts mentions from a statement, if an extractor is set
func (p *Pipeline) ExtractMentions(text string, source string) ([]*model.Mention, error) {
	if p.MentionExtractor == nil {
		return nil, nil
	}
	return p.MentionExtractor(text, source)
}
