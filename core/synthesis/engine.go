// Package synthesis assembles the ranked, budget-bounded context handed to
// response generation. Given identical store state, query and ranking
// weights the output is deterministic; natural-language composition from
// the assembled context is delegated to the external generation capability.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/core/linkgraph"
	"github.com/siherrmann/memoir/core/schema"
	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	"github.com/siherrmann/memoir/store"
)

// EmbedFunc generates an embedding for a text. Optional: without it the
// semantic ranking signal is skipped.
type EmbedFunc func(text string) ([]float32, error)

// SimilaritySearcher is implemented by document stores that rank documents
// by vector similarity natively. When the configured store supports it the
// engine takes its semantic scores from there instead of computing cosine
// similarity over every document in memory.
type SimilaritySearcher interface {
	SelectDocumentsBySimilarity(ctx context.Context, embedding []float32, limit int) ([]*model.ScratchpadDocument, []float64, error)
}

// Engine composes synthesis contexts from entity snapshots, ranked
// scratchpad excerpts and link-graph relationship paths.
type Engine struct {
	entities  store.EntityStore
	documents store.DocumentStore
	graph     *linkgraph.Index
	registry  *schema.Registry
	config    model.RankingConfig
	embedder  EmbedFunc
	log       *slog.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewEngine creates a synthesis engine with the given ranking parameters.
func NewEngine(entities store.EntityStore, documents store.DocumentStore, graph *linkgraph.Index, registry *schema.Registry, config model.RankingConfig, logger *slog.Logger) (*Engine, error) {
	if entities == nil || documents == nil || graph == nil || registry == nil {
		return nil, helper.NewError("engine validation", fmt.Errorf("entities, documents, graph and registry are required"))
	}
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("ranking config validation", err)
	}

	return &Engine{
		entities:  entities,
		documents: documents,
		graph:     graph,
		registry:  registry,
		config:    config,
		log:       logger,
		now:       time.Now,
	}, nil
}

// SetEmbedder enables the semantic ranking signal.
func (e *Engine) SetEmbedder(embedder EmbedFunc) {
	e.embedder = embedder
}

type scoredExcerpt struct {
	excerpt  model.Excerpt
	forNamed []uuid.UUID // named entities this excerpt covers
}

// BuildContext assembles a SynthesisContext for the query. Every section
// counts against the byte budget: under pressure relation summaries and
// snapshots drop whole before excerpts are truncated lowest-ranked first,
// and the best covering excerpt per directly-named entity is retained as
// long as it fits.
func (e *Engine) BuildContext(ctx context.Context, query string, budget int) (*model.SynthesisContext, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("budget must be positive, got %d", budget)
	}

	snap := e.registry.Snapshot()
	queryTerms := tokenize(query)
	now := e.now()

	named, err := e.namedEntities(ctx, query)
	if err != nil {
		return nil, err
	}

	docs, err := e.documents.SelectAllDocuments(ctx)
	if err != nil {
		return nil, helper.NewError("load documents", err)
	}

	proximity := e.proximityMap(named)

	var queryVec []float32
	if e.embedder != nil {
		queryVec, err = e.embedder(query)
		if err != nil {
			e.log.Warn("Embedder failed, skipping semantic signal", slog.String("error", err.Error()))
			queryVec = nil
		}
	}

	semantic := e.semanticScores(ctx, queryVec, docs)
	scored := e.scoreDocuments(docs, query, queryTerms, semantic, named, proximity, now)

	result := &model.SynthesisContext{
		Query:  query,
		Budget: budget,
	}

	// Fixed sections spend the budget in priority order: schema summary,
	// then named snapshots, then relation summaries. Each drops whole when
	// it no longer fits; excerpts get whatever remains.
	remaining := budget

	if summary := snap.Summary(); len(summary) <= remaining {
		result.SchemaSummary = summary
		remaining -= len(summary)
	}

	for _, entity := range named {
		snapshot := model.EntitySnapshot{
			EntityID:   entity.ID,
			TypeName:   entity.TypeRef.Name,
			Version:    entity.Version,
			Properties: entity.Properties,
		}
		size := snapshotBytes(snapshot)
		if size > remaining {
			continue
		}
		result.Entities = append(result.Entities, snapshot)
		remaining -= size
	}

	for _, rel := range e.relationPaths(ctx, named) {
		if len(rel.Summary) > remaining {
			continue
		}
		result.Relations = append(result.Relations, rel)
		remaining -= len(rel.Summary)
	}

	result.Excerpts = e.fitExcerpts(scored, remaining)
	for _, ex := range result.Excerpts {
		remaining -= ex.ByteLength
	}
	result.TotalBytes = budget - remaining

	e.log.Debug("Built context",
		slog.Int("excerpts", len(result.Excerpts)),
		slog.Int("entities", len(result.Entities)),
		slog.Int("total_bytes", result.TotalBytes),
		slog.Int("budget", budget))

	return result, nil
}

// namedEntities returns the entities whose name or alias appears verbatim
// in the query, ordered by id for determinism.
func (e *Engine) namedEntities(ctx context.Context, query string) ([]*model.Entity, error) {
	all, err := e.entities.SelectAllEntities(ctx)
	if err != nil {
		return nil, helper.NewError("load entities", err)
	}

	lowerQuery := strings.ToLower(query)
	var named []*model.Entity
	for _, entity := range all {
		names := append([]string{entity.Name()}, entity.Aliases...)
		for _, name := range names {
			if name != "" && strings.Contains(lowerQuery, strings.ToLower(name)) {
				named = append(named, entity)
				break
			}
		}
	}
	sort.Slice(named, func(i, j int) bool { return named[i].ID.String() < named[j].ID.String() })
	return named, nil
}

// proximityMap computes the minimum hop distance from any named entity to
// each reachable node.
func (e *Engine) proximityMap(named []*model.Entity) map[uuid.UUID]int {
	proximity := map[uuid.UUID]int{}
	for _, entity := range named {
		for _, neighbor := range e.graph.Neighbors(entity.ID, e.config.MaxDepth) {
			if d, ok := proximity[neighbor.ID]; !ok || neighbor.Distance < d {
				proximity[neighbor.ID] = neighbor.Distance
			}
		}
	}
	return proximity
}

// semanticScores computes the semantic similarity of every document to the
// query vector. A store with native similarity search answers the whole
// ranking in one query; otherwise the scores come from in-memory cosine
// similarity over the embedded documents.
func (e *Engine) semanticScores(ctx context.Context, queryVec []float32, docs []*model.ScratchpadDocument) map[uuid.UUID]float64 {
	if queryVec == nil || len(docs) == 0 {
		return nil
	}

	if searcher, ok := e.documents.(SimilaritySearcher); ok {
		ranked, similarities, err := searcher.SelectDocumentsBySimilarity(ctx, queryVec, len(docs))
		if err == nil {
			scores := make(map[uuid.UUID]float64, len(ranked))
			for n, doc := range ranked {
				scores[doc.ID] = similarities[n]
			}
			return scores
		}
		e.log.Warn("Similarity search failed, falling back to in-memory scoring", slog.String("error", err.Error()))
	}

	scores := make(map[uuid.UUID]float64, len(docs))
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			continue
		}
		scores[doc.ID] = cosineSimilarity(queryVec, doc.Embedding)
	}
	return scores
}

func (e *Engine) scoreDocuments(docs []*model.ScratchpadDocument, query string, queryTerms []string, semantic map[uuid.UUID]float64, named []*model.Entity, proximity map[uuid.UUID]int, now time.Time) []scoredExcerpt {
	var scored []scoredExcerpt

	for _, doc := range docs {
		docTerms := termSet(doc.Title + " " + doc.Body)

		kw := keywordOverlap(queryTerms, docTerms)
		rec := recencyScore(doc.LastModified, now, e.config.RecencyHalfLifeHours)
		dist, reachable := proximity[doc.ID]
		prox := proximityScore(dist, reachable)

		score := e.config.KeywordWeight*kw + e.config.RecencyWeight*rec + e.config.ProximityWeight*prox

		source := model.ExcerptSourceKeyword
		if kw == 0 && prox > 0 {
			source = model.ExcerptSourceProximity
		}

		if sem, ok := semantic[doc.ID]; ok && sem > 0 {
			score += e.config.SemanticWeight * sem
			if kw == 0 && prox == 0 {
				source = model.ExcerptSourceSemantic
			}
		}

		titleNamed := strings.Contains(strings.ToLower(query), strings.ToLower(doc.Title))
		if titleNamed {
			source = model.ExcerptSourceNamedDoc
			score++
		}

		// Which named entities does this excerpt cover? Used to retain
		// coverage under budget pressure.
		var covers []uuid.UUID
		lowerBody := strings.ToLower(doc.Title + " " + doc.Body)
		for _, entity := range named {
			name := strings.ToLower(entity.Name())
			if name != "" && strings.Contains(lowerBody, name) {
				covers = append(covers, entity.ID)
			}
		}

		if score <= 0 {
			continue
		}

		text := snippet(doc.Body, queryTerms, e.config.MaxExcerptBytes)
		scored = append(scored, scoredExcerpt{
			excerpt: model.Excerpt{
				DocumentID:    doc.ID,
				DocumentTitle: doc.Title,
				Text:          text,
				Score:         score,
				ByteLength:    len(text),
				Source:        source,
				LastModified:  doc.LastModified,
			},
			forNamed: covers,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].excerpt.Score != scored[j].excerpt.Score {
			return scored[i].excerpt.Score > scored[j].excerpt.Score
		}
		return scored[i].excerpt.DocumentID.String() < scored[j].excerpt.DocumentID.String()
	})

	return scored
}

// fitExcerpts selects excerpts under the remaining byte budget: highest
// rank first, dropping lowest-ranked ones when over budget, but keeping
// the best covering excerpt of every named entity as long as it fits.
func (e *Engine) fitExcerpts(scored []scoredExcerpt, remaining int) []model.Excerpt {
	if remaining <= 0 || len(scored) == 0 {
		return nil
	}

	// The first (highest ranked) excerpt covering an entity is protected.
	protected := map[uuid.UUID]int{} // entity -> excerpt index
	for idx, s := range scored {
		for _, entityID := range s.forNamed {
			if _, ok := protected[entityID]; !ok {
				protected[entityID] = idx
			}
		}
	}
	isProtected := make([]bool, len(scored))
	for _, idx := range protected {
		isProtected[idx] = true
	}

	// First pass: protected excerpts, best ranked first.
	used := 0
	keep := make([]bool, len(scored))
	for idx, s := range scored {
		if !isProtected[idx] {
			continue
		}
		if used+s.excerpt.ByteLength <= remaining {
			keep[idx] = true
			used += s.excerpt.ByteLength
		}
	}

	// Second pass: fill with the remaining excerpts by rank.
	for idx, s := range scored {
		if keep[idx] {
			continue
		}
		if used+s.excerpt.ByteLength <= remaining {
			keep[idx] = true
			used += s.excerpt.ByteLength
		}
	}

	var out []model.Excerpt
	for idx, s := range scored {
		if keep[idx] {
			out = append(out, s.excerpt)
		}
	}
	return out
}

// relationPaths summarizes link-graph paths between every pair of named
// entities.
func (e *Engine) relationPaths(ctx context.Context, named []*model.Entity) []model.RelationPath {
	var relations []model.RelationPath

	for i := 0; i < len(named); i++ {
		for j := i + 1; j < len(named); j++ {
			path, err := e.graph.ShortestPath(named[i].ID, named[j].ID, e.config.MaxDepth)
			if err != nil {
				// No path within the depth bound is informational.
				continue
			}
			relations = append(relations, model.RelationPath{
				From:    named[i].ID,
				To:      named[j].ID,
				Summary: e.summarizePath(ctx, path),
				Hops:    path.Len(),
			})
		}
	}

	return relations
}

// summarizePath renders a path as "A -> B -> C" using titles and names
// where they resolve.
func (e *Engine) summarizePath(ctx context.Context, path model.GraphPath) string {
	parts := make([]string, len(path.Nodes))
	for i, id := range path.Nodes {
		parts[i] = e.nodeLabel(ctx, id)
	}
	return strings.Join(parts, " -> ")
}

func (e *Engine) nodeLabel(ctx context.Context, id uuid.UUID) string {
	if doc, err := e.documents.SelectDocument(ctx, id); err == nil {
		return doc.Title
	}
	if entity, err := e.entities.SelectEntity(ctx, id); err == nil {
		if name := entity.Name(); name != "" {
			return name
		}
	}
	return id.String()
}

// snapshotBytes estimates the byte size a property snapshot contributes
// to the context.
func snapshotBytes(snapshot model.EntitySnapshot) int {
	b, err := snapshot.Properties.Marshal()
	if err != nil {
		return len(snapshot.TypeName)
	}
	return len(b) + len(snapshot.TypeName)
}
