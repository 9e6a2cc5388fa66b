// Package memoir is a knowledge consolidation engine: it grows a typed
// schema from conversational input, resolves textual mentions to canonical
// entities, maintains a bidirectional link graph over scratchpad notes and
// assembles ranked, budget-bounded context for answering questions.
package memoir

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/core/batch"
	"github.com/siherrmann/memoir/core/generate"
	"github.com/siherrmann/memoir/core/linkgraph"
	"github.com/siherrmann/memoir/core/pipeline"
	"github.com/siherrmann/memoir/core/resolve"
	"github.com/siherrmann/memoir/core/schema"
	"github.com/siherrmann/memoir/core/synthesis"
	"github.com/siherrmann/memoir/database"
	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	loadSql "github.com/siherrmann/memoir/sql"
	"github.com/siherrmann/memoir/store"
	"github.com/siherrmann/memoir/store/memory"
)

// Memoir provides a unified interface to the schema registry, resolver,
// link graph, synthesis engine and write coordinator.
type Memoir struct {
	DB          *helper.Database // nil when running on the in-memory store
	Stores      store.Stores
	Registry    *schema.Registry
	Resolver    *resolve.Resolver
	Graph       *linkgraph.Index
	Synthesis   *synthesis.Engine
	Coordinator *batch.Coordinator
	Pipeline    *pipeline.Pipeline // Optional embedding/mention pipeline
	Completer   generate.Completer // Optional generation capability
	// Logging
	log *slog.Logger
}

// Config carries the tunable parameters of the engine. Zero values fall
// back to the defaults.
type Config struct {
	Resolver model.ResolverConfig
	Ranking  model.RankingConfig
}

func (c *Config) applyDefaults() {
	if c.Resolver == (model.ResolverConfig{}) {
		c.Resolver = model.DefaultResolverConfig()
	}
	if c.Ranking == (model.RankingConfig{}) {
		c.Ranking = model.DefaultRankingConfig()
	}
}

// NewMemoir creates a Memoir instance backed by Postgres with all handlers
// initialized. embeddingDim fixes the document embedding dimensionality.
func NewMemoir(dbConfig *helper.DatabaseConfiguration, embeddingDim int, config *Config) (*Memoir, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	// Initialize database
	db := helper.NewDatabase("memoir", dbConfig, logger)
	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	// Create all handlers, force=false to not reload if functions already exist
	types, err := database.NewTypesDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create types handler", err)
	}

	entities, err := database.NewEntitiesDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create entities handler", err)
	}

	documents, err := database.NewDocumentsDBHandler(db, embeddingDim, false)
	if err != nil {
		return nil, helper.NewError("create documents handler", err)
	}

	links, err := database.NewLinksDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create links handler", err)
	}

	mentions, err := database.NewMentionsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create mentions handler", err)
	}

	stores := store.Stores{
		Types:     types,
		Entities:  entities,
		Documents: documents,
		Links:     links,
		Mentions:  mentions,
	}

	memoir, err := assemble(stores, config, logger)
	if err != nil {
		return nil, err
	}
	memoir.DB = db
	return memoir, nil
}

// NewMemoirInMemory creates a Memoir instance on the transactional
// in-memory store. Nothing is persisted across restarts.
func NewMemoirInMemory(config *Config) (*Memoir, error) {
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	mem := memory.New()
	stores := store.Stores{
		Types:     mem,
		Entities:  mem,
		Documents: mem,
		Links:     mem,
		Mentions:  mem,
	}

	return assemble(stores, config, logger)
}

func assemble(stores store.Stores, config *Config, logger *slog.Logger) (*Memoir, error) {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()

	ctx := context.Background()

	registry, err := schema.NewRegistry(ctx, stores.Types, logger)
	if err != nil {
		return nil, helper.NewError("create schema registry", err)
	}

	resolver, err := resolve.NewResolver(stores.Entities, config.Resolver, logger)
	if err != nil {
		return nil, helper.NewError("create resolver", err)
	}

	graph, err := linkgraph.NewIndex(ctx, stores.Links, logger)
	if err != nil {
		return nil, helper.NewError("create link graph", err)
	}

	engine, err := synthesis.NewEngine(stores.Entities, stores.Documents, graph, registry, config.Ranking, logger)
	if err != nil {
		return nil, helper.NewError("create synthesis engine", err)
	}

	coordinator, err := batch.NewCoordinator(stores, registry, resolver, graph, logger)
	if err != nil {
		return nil, helper.NewError("create write coordinator", err)
	}

	return &Memoir{
		Stores:      stores,
		Registry:    registry,
		Resolver:    resolver,
		Graph:       graph,
		Synthesis:   engine,
		Coordinator: coordinator,
		log:         logger,
	}, nil
}

// Close closes the database connection
func (m *Memoir) Close() error {
	if m.DB != nil && m.DB.Instance != nil {
		return m.DB.Instance.Close()
	}
	return nil
}

// SetPipeline sets the embedding and mention extraction pipeline
func (m *Memoir) SetPipeline(p *pipeline.Pipeline) {
	m.Pipeline = p
	if p != nil && p.Embedder != nil {
		m.Synthesis.SetEmbedder(synthesis.EmbedFunc(p.Embedder))
	}
}

// UseDefaultPipeline sets up the default embedding pipeline with the
// all-MiniLM-L6-v2 model (384 dimensions)
func (m *Memoir) UseDefaultPipeline() error {
	embedder, err := pipeline.DefaultEmbedder()
	if err != nil {
		return helper.NewError("create default embedder", err)
	}

	m.SetPipeline(pipeline.NewPipeline(embedder))
	return nil
}

// SetCompleter sets the generation capability used by Answer. It is
// wrapped with the retry policy.
func (m *Memoir) SetCompleter(completer generate.Completer) error {
	retrying, err := generate.NewRetryingCompleter(completer, m.log)
	if err != nil {
		return err
	}
	m.Completer = retrying
	return nil
}

// ProposeType validates a type definition without committing it.
func (m *Memoir) ProposeType(name string, properties []model.PropertyDef) (*model.TypeProposal, error) {
	return m.Registry.ProposeType(name, properties)
}

// CommitType makes a proposed type authoritative as version 1.
func (m *Memoir) CommitType(ctx context.Context, proposal *model.TypeProposal) (*model.EntityType, error) {
	return m.Registry.CommitType(ctx, proposal)
}

// AddProperty appends a property to a type, publishing the next version.
func (m *Memoir) AddProperty(ctx context.Context, typeName string, property model.PropertyDef) (*model.EntityType, error) {
	return m.Registry.AddProperty(ctx, typeName, property)
}

// DeprecateProperty marks a property as deprecated without removing it.
func (m *Memoir) DeprecateProperty(ctx context.Context, typeName string, propertyName string) (*model.EntityType, error) {
	return m.Registry.DeprecateProperty(ctx, typeName, propertyName)
}

// Resolve maps a mention to an entity, a ranked candidate list or a
// create decision, against the current schema snapshot.
func (m *Memoir) Resolve(ctx context.Context, mention *model.Mention, typeHint string) (*model.ResolutionCandidate, error) {
	return m.Resolver.Resolve(ctx, m.Registry.Snapshot(), mention, typeHint)
}

// ConfirmResolution confirms a pending candidate with the chosen entity.
func (m *Memoir) ConfirmResolution(ctx context.Context, candidate *model.ResolutionCandidate, entityID uuid.UUID) error {
	if err := m.Resolver.Confirm(candidate, entityID); err != nil {
		return err
	}
	if candidate.Mention != nil && candidate.Mention.ID != uuid.Nil {
		return m.Stores.Mentions.UpdateMentionOutcome(ctx, candidate.Mention.ID, candidate.Outcome)
	}
	return nil
}

// RejectResolution rejects a pending candidate.
func (m *Memoir) RejectResolution(ctx context.Context, candidate *model.ResolutionCandidate) error {
	if err := m.Resolver.Reject(candidate); err != nil {
		return err
	}
	if candidate.Mention != nil && candidate.Mention.ID != uuid.Nil {
		return m.Stores.Mentions.UpdateMentionOutcome(ctx, candidate.Mention.ID, candidate.Outcome)
	}
	return nil
}

// SubmitBatch validates and commits a batch of proposed operations with
// all-or-nothing semantics.
func (m *Memoir) SubmitBatch(ctx context.Context, ops []model.BatchOp) (*model.BatchResult, error) {
	return m.Coordinator.Submit(ctx, ops)
}

// WriteNote writes one scratchpad document, embedding it when a pipeline
// with an embedder is set.
func (m *Memoir) WriteNote(ctx context.Context, title string, body string) (*model.ScratchpadDocument, error) {
	doc := &model.ScratchpadDocument{
		Title: title,
		Body:  body,
	}
	return m.writeDocument(ctx, doc)
}

// WriteNoteFromFile reads a file into a scratchpad document, deriving the
// title from the file name, and writes it like WriteNote.
func (m *Memoir) WriteNoteFromFile(ctx context.Context, filePath string, metadata model.Metadata) (*model.ScratchpadDocument, error) {
	doc, err := model.NewDocumentFromFile(filePath, metadata)
	if err != nil {
		return nil, helper.NewError("read document file", err)
	}
	return m.writeDocument(ctx, doc)
}

func (m *Memoir) writeDocument(ctx context.Context, doc *model.ScratchpadDocument) (*model.ScratchpadDocument, error) {
	if m.Pipeline != nil {
		if err := m.Pipeline.EmbedDocument(doc); err != nil {
			return nil, helper.NewError("embed document", err)
		}
	}

	_, err := m.SubmitBatch(ctx, []model.BatchOp{model.WriteDocumentOp(doc)})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ExtractMentions extracts entity mentions from a statement via the
// pipeline's NER extractor.
func (m *Memoir) ExtractMentions(text string, source string) ([]*model.Mention, error) {
	if m.Pipeline == nil {
		return nil, helper.NewError("extract mentions", fmt.Errorf("pipeline not set, use SetPipeline() first"))
	}
	return m.Pipeline.ExtractMentions(text, source)
}

// BuildContext assembles the ranked, budget-bounded synthesis context for
// a query.
func (m *Memoir) BuildContext(ctx context.Context, query string, budget int) (*model.SynthesisContext, error) {
	return m.Synthesis.BuildContext(ctx, query, budget)
}

// Answer builds the synthesis context for the query and composes a
// natural-language answer through the configured completer.
func (m *Memoir) Answer(ctx context.Context, query string, budget int) (string, error) {
	if m.Completer == nil {
		return "", helper.NewError("answer", fmt.Errorf("completer not set, use SetCompleter() first"))
	}

	sc, err := m.BuildContext(ctx, query, budget)
	if err != nil {
		return "", helper.NewError("build context", err)
	}

	return m.Completer.Complete(ctx, generate.Prompt(sc))
}

// Neighbors returns the nodes reachable from a node within depth hops.
func (m *Memoir) Neighbors(nodeID uuid.UUID, depth int) []model.GraphNeighbor {
	return m.Graph.Neighbors(nodeID, depth)
}

// ShortestPath returns a shortest path between two nodes, or
// model.ErrNoPath when none exists within maxDepth hops.
func (m *Memoir) ShortestPath(a uuid.UUID, b uuid.UUID, maxDepth int) (model.GraphPath, error) {
	return m.Graph.ShortestPath(a, b, maxDepth)
}

// Backlinks returns the documents linking to a node.
func (m *Memoir) Backlinks(targetID uuid.UUID) []uuid.UUID {
	return m.Graph.Backlinks(targetID)
}

// ChangeIndexType changes the vector index type between HNSW and IVFFlat
func (m *Memoir) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	documents, ok := m.Stores.Documents.(*database.DocumentsDBHandler)
	if !ok {
		return helper.NewError("change index type", fmt.Errorf("only supported on the Postgres store"))
	}
	return documents.ChangeIndexType(ctx, indexType, params)
}
