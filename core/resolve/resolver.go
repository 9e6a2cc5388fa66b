// Package resolve maps textual mentions to canonical entities. Resolution
// is a pure scoring pass over the entity store plus a session recency
// index; the resolver never mutates entity data.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/core/schema"
	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	"github.com/siherrmann/memoir/store"
)

// maxCandidates bounds the ranked list surfaced to the caller.
const maxCandidates = 5

// Resolver scores mentions against existing entities and partitions the
// score space with the configured watermarks.
type Resolver struct {
	entities store.EntityStore
	config   model.ResolverConfig
	log      *slog.Logger

	mu      sync.Mutex
	recency map[uuid.UUID]int64 // entity id -> session sequence of last reference
	seq     int64
}

// NewResolver creates a resolver over the given entity store.
func NewResolver(entities store.EntityStore, config model.ResolverConfig, logger *slog.Logger) (*Resolver, error) {
	if entities == nil {
		return nil, helper.NewError("entity store validation", fmt.Errorf("entity store is nil"))
	}
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("resolver config validation", err)
	}

	return &Resolver{
		entities: entities,
		config:   config,
		log:      logger,
		recency:  map[uuid.UUID]int64{},
	}, nil
}

// Touch marks an entity as referenced in the active session. Future
// scoring grants it the recency bonus and the recency tie-break.
func (r *Resolver) Touch(entityID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.recency[entityID] = r.seq
}

// ResetSession clears the session recency index.
func (r *Resolver) ResetSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recency = map[uuid.UUID]int64{}
	r.seq = 0
}

func (r *Resolver) recencyOf(entityID uuid.UUID) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq, ok := r.recency[entityID]
	return seq, ok
}

// Resolve scores every entity of the hinted type (or all types without a
// hint) against the mention and returns the outcome reached:
//
//   - score >= high watermark: AutoMatched to the top candidate
//   - low <= score < high: PendingConfirmation with the ranked list
//   - score < low: CreatedNew, provided the mention carries an
//     identifying name, otherwise model.ErrInsufficientIdentity
//
// The resolution is deterministic for a fixed store snapshot, mention
// text and score weights.
func (r *Resolver) Resolve(ctx context.Context, snap *schema.Snapshot, mention *model.Mention, typeHint string) (*model.ResolutionCandidate, error) {
	if mention == nil || strings.TrimSpace(mention.RawText) == "" {
		return nil, fmt.Errorf("mention text is empty: %w", model.ErrInsufficientIdentity)
	}
	if typeHint != "" && !snap.Has(typeHint) {
		return nil, fmt.Errorf("type hint %q: %w", typeHint, model.ErrUnknownType)
	}

	pool, err := r.candidatePool(ctx, typeHint)
	if err != nil {
		return nil, helper.NewError("load candidate entities", err)
	}

	if typeHint != "" {
		if err := r.checkTypeConflict(ctx, mention, typeHint, pool); err != nil {
			return nil, err
		}
	}

	matches := r.scorePool(pool, mention)

	candidate := &model.ResolutionCandidate{
		Mention:    mention,
		Candidates: matches,
		Outcome:    model.OutcomeUnresolved,
	}

	top := candidate.Top()
	switch {
	case top != nil && top.Score >= r.config.HighWatermark:
		candidate.Outcome = model.OutcomeAutoMatched
		candidate.EntityID = top.EntityID
		r.Touch(top.EntityID)
	case top != nil && top.Score >= r.config.LowWatermark:
		candidate.Outcome = model.OutcomePendingConfirmation
	default:
		if identifyingName(mention) == "" {
			return nil, fmt.Errorf("mention %q carries no identifying name: %w", mention.RawText, model.ErrInsufficientIdentity)
		}
		candidate.Outcome = model.OutcomeCreatedNew
	}

	r.log.Debug("Resolved mention",
		slog.String("text", mention.RawText),
		slog.String("outcome", string(candidate.Outcome)),
		slog.Int("candidates", len(matches)))

	return candidate, nil
}

// Confirm transitions a PendingConfirmation candidate to AutoMatched with
// the chosen entity.
func (r *Resolver) Confirm(candidate *model.ResolutionCandidate, entityID uuid.UUID) error {
	if candidate.Outcome != model.OutcomePendingConfirmation {
		return fmt.Errorf("cannot confirm mention in state %q", candidate.Outcome)
	}
	found := false
	for _, m := range candidate.Candidates {
		if m.EntityID == entityID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("entity %s is not among the candidates", entityID)
	}
	candidate.Outcome = model.OutcomeAutoMatched
	candidate.EntityID = entityID
	r.Touch(entityID)
	return nil
}

// Reject transitions a PendingConfirmation candidate to the terminal
// Rejected state.
func (r *Resolver) Reject(candidate *model.ResolutionCandidate) error {
	if candidate.Outcome != model.OutcomePendingConfirmation {
		return fmt.Errorf("cannot reject mention in state %q", candidate.Outcome)
	}
	candidate.Outcome = model.OutcomeRejected
	candidate.EntityID = uuid.Nil
	return nil
}

func (r *Resolver) candidatePool(ctx context.Context, typeHint string) ([]*model.Entity, error) {
	if typeHint != "" {
		return r.entities.SelectEntitiesByType(ctx, typeHint)
	}
	return r.entities.SelectAllEntities(ctx)
}

// checkTypeConflict fails with model.ErrTypeMismatch when the mention
// exactly names an already-resolved entity of a different declared type
// and no entity of the hinted type carries the name itself. Entities of
// different types may share a name; the hint disambiguates between them.
func (r *Resolver) checkTypeConflict(ctx context.Context, mention *model.Mention, typeHint string, pool []*model.Entity) error {
	text := strings.TrimSpace(mention.RawText)

	for _, e := range pool {
		if strings.EqualFold(e.Name(), text) {
			return nil
		}
		for _, alias := range e.Aliases {
			if strings.EqualFold(alias, text) {
				return nil
			}
		}
	}

	all, err := r.entities.SelectAllEntities(ctx)
	if err != nil {
		return helper.NewError("load entities", err)
	}
	for _, e := range all {
		if e.TypeRef.Name == typeHint {
			continue
		}
		if strings.EqualFold(e.Name(), text) {
			return fmt.Errorf("mention %q names %s entity %s, hint was %q: %w",
				text, e.TypeRef.Name, e.ID, typeHint, model.ErrTypeMismatch)
		}
	}
	return nil
}

func (r *Resolver) scorePool(pool []*model.Entity, mention *model.Mention) []model.CandidateMatch {
	text := strings.TrimSpace(mention.RawText)

	type scored struct {
		match        model.CandidateMatch
		recencySeq   int64
		completeness int
	}

	var all []scored
	for _, entity := range pool {
		score, reason := r.scoreEntity(entity, text)
		if score <= 0 {
			continue
		}
		seq, _ := r.recencyOf(entity.ID)
		all = append(all, scored{
			match: model.CandidateMatch{
				EntityID: entity.ID,
				Score:    score,
				Reason:   reason,
			},
			recencySeq:   seq,
			completeness: entity.Completeness(),
		})
	}

	// Rank by score; near-equal scores tie-break on session recency,
	// then property completeness, then id for determinism.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].match.Score != all[j].match.Score {
			return all[i].match.Score > all[j].match.Score
		}
		if all[i].recencySeq != all[j].recencySeq {
			return all[i].recencySeq > all[j].recencySeq
		}
		if all[i].completeness != all[j].completeness {
			return all[i].completeness > all[j].completeness
		}
		return all[i].match.EntityID.String() < all[j].match.EntityID.String()
	})

	if len(all) > maxCandidates {
		all = all[:maxCandidates]
	}

	matches := make([]model.CandidateMatch, len(all))
	for i, s := range all {
		matches[i] = s.match
	}
	return matches
}

// scoreEntity computes the weighted composite score of one entity against
// the mention text.
func (r *Resolver) scoreEntity(entity *model.Entity, text string) (float64, string) {
	var reasons []string
	score := 0.0

	name := entity.Name()
	exact := name != "" && strings.EqualFold(name, text)
	if exact {
		score += r.config.ExactWeight
		reasons = append(reasons, "exact name match")
	}

	alias := false
	for _, a := range entity.Aliases {
		if strings.EqualFold(a, text) {
			alias = true
			break
		}
	}
	if alias {
		score += r.config.AliasWeight
		reasons = append(reasons, "alias match")
	}

	similarity := stringSimilarity(name, text)
	for _, a := range entity.Aliases {
		similarity = max(similarity, stringSimilarity(a, text))
	}
	if similarity > 0 {
		score += r.config.SimilarityWeight * similarity
		reasons = append(reasons, fmt.Sprintf("similarity %.2f", similarity))
	}

	if _, recent := r.recencyOf(entity.ID); recent {
		score += r.config.RecencyBonus
		reasons = append(reasons, "referenced this session")
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, strings.Join(reasons, ", ")
}

// identifyingName returns the name a CreatedNew entity would carry.
// A mention without an inferred candidate name carries no identifying
// property and cannot create an entity.
func identifyingName(mention *model.Mention) string {
	return strings.TrimSpace(mention.CandidateName)
}

// IdentifyingName exposes the created-entity name for the write
// coordinator, which persists CreatedNew outcomes.
func IdentifyingName(mention *model.Mention) string {
	return identifyingName(mention)
}
