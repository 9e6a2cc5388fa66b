// Package linkgraph maintains the forward/back link index over scratchpad
// documents and entities. Forward links parsed from document bodies are
// the single source of truth; backlinks are derived from them and can
// never drift. Nodes are addressed by id, so the graph carries no object
// cycles.
package linkgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	"github.com/siherrmann/memoir/store"
)

// TargetResolver looks up link targets by title or name at indexing time.
type TargetResolver interface {
	DocumentIDByTitle(ctx context.Context, title string) (uuid.UUID, bool, error)
	EntityIDByName(ctx context.Context, name string) (uuid.UUID, bool, error)
}

// Index is the in-memory link graph, write-through persisted via a
// store.LinkStore. All mutations for a single document apply atomically
// under one lock: forward set replacement and backlink deltas together.
type Index struct {
	store store.LinkStore
	log   *slog.Logger

	mu      sync.RWMutex
	forward map[uuid.UUID][]*model.WikiLink       // source doc -> links
	back    map[uuid.UUID]map[uuid.UUID]struct{}  // target -> source docs
	kinds   map[uuid.UUID]model.NodeKind          // known node kinds
	pending map[string][]*model.WikiLink          // normalized anchor -> stubs
}

// NewIndex loads the persisted forward links and derives the backlink
// index from them.
func NewIndex(ctx context.Context, linkStore store.LinkStore, logger *slog.Logger) (*Index, error) {
	if linkStore == nil {
		return nil, helper.NewError("link store validation", fmt.Errorf("link store is nil"))
	}

	index := &Index{
		store:   linkStore,
		log:     logger,
		forward: map[uuid.UUID][]*model.WikiLink{},
		back:    map[uuid.UUID]map[uuid.UUID]struct{}{},
		kinds:   map[uuid.UUID]model.NodeKind{},
		pending: map[string][]*model.WikiLink{},
	}

	links, err := linkStore.SelectAllLinks(ctx)
	if err != nil {
		return nil, helper.NewError("load links", err)
	}
	for _, link := range links {
		index.forward[link.SourceDocID] = append(index.forward[link.SourceDocID], link)
		index.kinds[link.SourceDocID] = model.NodeDocument
		index.attach(link)
	}

	logger.Info("Initialized link graph", slog.Int("documents", len(index.forward)))

	return index, nil
}

// attach registers a link in the derived indices. Caller holds mu.
func (i *Index) attach(link *model.WikiLink) {
	if !link.Resolved() {
		key := normalizeAnchor(link.AnchorText)
		i.pending[key] = append(i.pending[key], link)
		return
	}
	set, ok := i.back[link.TargetID]
	if !ok {
		set = map[uuid.UUID]struct{}{}
		i.back[link.TargetID] = set
	}
	set[link.SourceDocID] = struct{}{}
	switch link.TargetKind {
	case model.LinkTargetDocument:
		i.kinds[link.TargetID] = model.NodeDocument
	case model.LinkTargetEntity:
		i.kinds[link.TargetID] = model.NodeEntity
	}
}

// detach removes a link from the derived indices. Caller holds mu.
func (i *Index) detach(link *model.WikiLink) {
	if !link.Resolved() {
		key := normalizeAnchor(link.AnchorText)
		stubs := i.pending[key]
		for n, stub := range stubs {
			if stub.ID == link.ID {
				i.pending[key] = append(stubs[:n], stubs[n+1:]...)
				break
			}
		}
		if len(i.pending[key]) == 0 {
			delete(i.pending, key)
		}
		return
	}
	if set, ok := i.back[link.TargetID]; ok {
		delete(set, link.SourceDocID)
		if len(set) == 0 {
			delete(i.back, link.TargetID)
		}
	}
}

// IndexDocument parses the document body, replaces its prior forward-link
// set and updates the backlinks of every affected target.
func (i *Index) IndexDocument(ctx context.Context, doc *model.ScratchpadDocument, resolver TargetResolver) error {
	parsed := ParseLinks(doc.Body)

	links := make([]*model.WikiLink, 0, len(parsed))
	for _, p := range parsed {
		link := &model.WikiLink{
			ID:          uuid.New(),
			SourceDocID: doc.ID,
			AnchorText:  p.Target,
			TargetKind:  model.LinkTargetPending,
			CreatedAt:   time.Now(),
		}

		if p.IsEntity {
			id, found, err := resolver.EntityIDByName(ctx, p.Target)
			if err != nil {
				return helper.NewError("resolve entity link target", err)
			}
			if found {
				link.TargetKind = model.LinkTargetEntity
				link.TargetID = id
			}
		} else {
			id, found, err := resolver.DocumentIDByTitle(ctx, p.Target)
			if err != nil {
				return helper.NewError("resolve document link target", err)
			}
			if found && id != doc.ID {
				link.TargetKind = model.LinkTargetDocument
				link.TargetID = id
			} else if found {
				// Self links carry no graph information.
				continue
			}
		}

		links = append(links, link)
	}

	if err := i.store.ReplaceDocumentLinks(ctx, doc.ID, links); err != nil {
		return helper.NewError("replace document links", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, old := range i.forward[doc.ID] {
		i.detach(old)
	}
	if len(links) == 0 {
		delete(i.forward, doc.ID)
	} else {
		i.forward[doc.ID] = links
	}
	i.kinds[doc.ID] = model.NodeDocument
	for _, link := range links {
		i.attach(link)
	}

	i.log.Debug("Indexed document",
		slog.String("document_id", doc.ID.String()),
		slog.Int("links", len(links)))

	return nil
}

// RemoveDocument drops a document's forward links from the graph.
func (i *Index) RemoveDocument(ctx context.Context, docID uuid.UUID) error {
	if err := i.store.ReplaceDocumentLinks(ctx, docID, nil); err != nil {
		return helper.NewError("remove document links", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	for _, old := range i.forward[docID] {
		i.detach(old)
	}
	delete(i.forward, docID)
	return nil
}

// ResolvePendingLinks upgrades every stub whose anchor text matches the
// newly created target. The stubs are rewritten in place, keeping their
// ids and source documents.
func (i *Index) ResolvePendingLinks(ctx context.Context, anchor string, targetID uuid.UUID, kind model.NodeKind) error {
	key := normalizeAnchor(anchor)

	i.mu.Lock()
	stubs := i.pending[key]
	delete(i.pending, key)

	targetKind := model.LinkTargetDocument
	if kind == model.NodeEntity {
		targetKind = model.LinkTargetEntity
	}

	for _, stub := range stubs {
		stub.TargetKind = targetKind
		stub.TargetID = targetID
		i.attach(stub)
	}
	i.kinds[targetID] = kind
	i.mu.Unlock()

	for _, stub := range stubs {
		if err := i.store.UpdateLink(ctx, stub); err != nil {
			return helper.NewError("upgrade pending link", err)
		}
	}

	if len(stubs) > 0 {
		i.log.Info("Upgraded pending links",
			slog.String("anchor", anchor),
			slog.Int("count", len(stubs)))
	}

	return nil
}

// Snapshot is a point-in-time copy of the graph state. The write
// coordinator captures one before a batch commit and restores it when the
// commit fails, so stub upgrades never outlive a rolled-back target.
type Snapshot struct {
	links map[uuid.UUID][]model.WikiLink
	kinds map[uuid.UUID]model.NodeKind
}

// Snapshot copies the current graph state.
func (i *Index) Snapshot() *Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()

	s := &Snapshot{
		links: make(map[uuid.UUID][]model.WikiLink, len(i.forward)),
		kinds: make(map[uuid.UUID]model.NodeKind, len(i.kinds)),
	}
	for docID, links := range i.forward {
		copies := make([]model.WikiLink, len(links))
		for n, link := range links {
			copies[n] = *link
		}
		s.links[docID] = copies
	}
	for id, kind := range i.kinds {
		s.kinds[id] = kind
	}
	return s
}

// Restore rebuilds the full graph state from a snapshot, deriving the
// backlink and pending indices the same way NewIndex does from the store.
func (i *Index) Restore(s *Snapshot) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.forward = make(map[uuid.UUID][]*model.WikiLink, len(s.links))
	i.back = map[uuid.UUID]map[uuid.UUID]struct{}{}
	i.pending = map[string][]*model.WikiLink{}
	i.kinds = make(map[uuid.UUID]model.NodeKind, len(s.kinds))

	for id, kind := range s.kinds {
		i.kinds[id] = kind
	}
	for docID, links := range s.links {
		restored := make([]*model.WikiLink, len(links))
		for n := range links {
			link := links[n]
			restored[n] = &link
			i.attach(restored[n])
		}
		i.forward[docID] = restored
	}
}

// ForwardLinks returns the forward links of a document, resolved and
// pending, ordered by anchor text.
func (i *Index) ForwardLinks(docID uuid.UUID) []*model.WikiLink {
	i.mu.RLock()
	defer i.mu.RUnlock()

	links := make([]*model.WikiLink, 0, len(i.forward[docID]))
	for _, l := range i.forward[docID] {
		c := *l
		links = append(links, &c)
	}
	sort.Slice(links, func(a, b int) bool { return links[a].AnchorText < links[b].AnchorText })
	return links
}

// Backlinks returns the ids of all documents whose forward links target
// the given node, sorted for determinism.
func (i *Index) Backlinks(targetID uuid.UUID) []uuid.UUID {
	i.mu.RLock()
	defer i.mu.RUnlock()

	set := i.back[targetID]
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].String() < out[b].String() })
	return out
}

// PendingAnchors returns the anchors with at least one unresolved stub.
func (i *Index) PendingAnchors() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]string, 0, len(i.pending))
	for key := range i.pending {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
