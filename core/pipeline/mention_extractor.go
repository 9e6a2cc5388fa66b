package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
)

// DefaultMentionExtractor creates a mention extractor using a NER model.
// Uses distilbert-NER for named entity recognition.
// labelHints maps NER labels (PER, ORG, LOC, MISC) to schema type names;
// mentions with an unmapped label carry no type hint.
func DefaultMentionExtractor(labelHints map[string]string) (MentionExtractFunc, error) {
	// Prepare model (download if needed)
	// Using KnightsAnalytics optimized distilbert-NER model
	modelName := "KnightsAnalytics/distilbert-NER"
	modelPath, err := helper.PrepareModel(modelName, "model.onnx")
	if err != nil {
		return nil, err
	}

	// Initialize hugot session with Go backend
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	// Create token classification pipeline for NER
	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "ner-pipeline",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}), // Ignore non-entity tokens
		},
	}
	nerPipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create NER pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create NER pipeline: %w", err)
	}

	return func(text string, source string) ([]*model.Mention, error) {
		// Run NER on the text
		result, err := nerPipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to run NER: %w", err)
		}

		if len(result.Entities) == 0 {
			return nil, nil
		}

		// Convert NER results to mentions
		var mentions []*model.Mention
		for _, entity := range result.Entities[0] {
			word := strings.TrimSpace(entity.Word)
			if word == "" {
				continue
			}
			label := normalizeLabel(entity.Entity)

			mentions = append(mentions, &model.Mention{
				ID:            uuid.New(),
				RawText:       word,
				CandidateName: word,
				TypeHint:      labelHints[label],
				Context:       text,
				Source:        source,
			})
		}

		return mentions, nil
	}, nil
}

// normalizeLabel removes B- and I- prefixes from NER labels
func normalizeLabel(label string) string {
	// Remove BIO tagging prefixes (B- for beginning, I- for inside)
	if strings.HasPrefix(label, "B-") {
		return label[2:]
	}
	if strings.HasPrefix(label, "I-") {
		return label[2:]
	}
	return label
}
