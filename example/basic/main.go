package main

import (
	"context"
	"fmt"
	"log"

	"github.com/siherrmann/memoir"
	"github.com/siherrmann/memoir/model"
)

const meetingNote = `Met with [[Sarah Chen]] today about the [[Project Phoenix]] kickoff.

She suggested we sync with [[Bright Horizons]] before the next milestone.
Key decisions are collected in [[Phoenix Decisions]].`

func main() {
	ctx := context.Background()

	// Run on the in-memory store; use memoir.NewMemoir for Postgres.
	m, err := memoir.NewMemoirInMemory(nil)
	if err != nil {
		log.Fatalf("Failed to create memoir: %v", err)
	}
	defer m.Close()

	// Define a Person type and commit it as version 1.
	proposal, err := m.ProposeType("person", []model.PropertyDef{
		{Name: "name", Kind: model.KindText},
		{Name: "employer", Kind: model.KindText, Nullable: true},
	})
	if err != nil {
		log.Fatalf("Failed to propose type: %v", err)
	}
	if _, err := m.CommitType(ctx, proposal); err != nil {
		log.Fatalf("Failed to commit type: %v", err)
	}

	// Create an entity and a linked note in one atomic batch.
	result, err := m.SubmitBatch(ctx, []model.BatchOp{
		model.CreateEntityOp("sarah", "person", model.Metadata{
			"name": "Sarah Chen",
		}),
		model.WriteDocumentOp(&model.ScratchpadDocument{
			Title: "Phoenix Kickoff",
			Body:  meetingNote,
		}),
	})
	if err != nil {
		log.Fatalf("Failed to submit batch: %v", err)
	}
	fmt.Printf("Created entity %s\n", result.Created["sarah"])

	// Resolve a later mention of the same person.
	candidate, err := m.Resolve(ctx, &model.Mention{
		RawText:       "Sarah Chen",
		CandidateName: "Sarah Chen",
	}, "person")
	if err != nil {
		log.Fatalf("Failed to resolve mention: %v", err)
	}
	fmt.Printf("Resolution outcome: %s (entity %s)\n", candidate.Outcome, candidate.EntityID)

	// Build a budget-bounded context for a question.
	sc, err := m.BuildContext(ctx, "What did Sarah Chen say about Project Phoenix?", 4096)
	if err != nil {
		log.Fatalf("Failed to build context: %v", err)
	}

	fmt.Printf("\nContext (%d/%d bytes):\n", sc.TotalBytes, sc.Budget)
	fmt.Println(sc.SchemaSummary)
	for _, snapshot := range sc.Entities {
		fmt.Printf("Entity %s (%s): %v\n", snapshot.EntityID, snapshot.TypeName, snapshot.Properties)
	}
	for i, excerpt := range sc.Excerpts {
		fmt.Printf("\n--- Excerpt %d ---\n", i+1)
		fmt.Printf("Score: %.4f\n", excerpt.Score)
		fmt.Printf("From: %s\n", excerpt.DocumentTitle)
		fmt.Printf("Text: %s\n", excerpt.Text)
	}

	fmt.Println("\nBasic example completed successfully!")
}
