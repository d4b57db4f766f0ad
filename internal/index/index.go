// Package index maintains one approximate-nearest-neighbor graph per
// source over item embeddings, serves cross-source queries with a live
// "hidden" filter, and supports single-source incremental rebuilds.
package index

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dimfeld/perceive/internal/index/hnsw"
	"github.com/dimfeld/perceive/internal/model"
	"github.com/dimfeld/perceive/internal/store"
)

// Result is one ranked hit: the item id and its distance. Distance is the
// negative dot product of (L2-normalized) embeddings, so smaller is more
// similar and the ANN's native "lower is better" ranking is reused
// unchanged.
type Result struct {
	ItemID   int64
	SourceID int64
	Distance float32
}

// Index is the ANN graph for a single source, labeling each HNSW node
// position with the item_id it represents.
type Index struct {
	sourceID int64
	graph    *hnsw.Graph
	labels   []int64
}

// Build constructs a fresh per-source Index from (item_id, embedding)
// pairs. Callers are expected to have already excluded skipped items when
// loading rows; the hidden set is applied separately at query time so
// hiding an item never forces a rebuild.
func Build(sourceID int64, itemIDs []int64, embeddings [][]float32) *Index {
	g := hnsw.New(hnsw.DefaultM, hnsw.DefaultEfConstruction, hnsw.DefaultEfSearch)
	labels := make([]int64, len(itemIDs))
	for i, id := range itemIDs {
		pos := g.Insert(embeddings[i])
		labels[pos] = id
	}
	return &Index{sourceID: sourceID, graph: g, labels: labels}
}

// Len reports how many items this source's index holds.
func (idx *Index) Len() int { return idx.graph.Len() }

// search runs the ANN top-k query and translates node positions back to
// item ids, skipping any id present in hidden. fetch is how many graph
// candidates to examine before filtering; callers pass fetch > k so that
// hiding a top hit surfaces the next-best visible one instead of
// shortening the result list.
func (idx *Index) search(query []float32, k, fetch int, hidden func(int64) bool) []Result {
	if fetch < k {
		fetch = k
	}
	hits := idx.graph.Search(query, fetch)
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		id := idx.labels[h.ID]
		if hidden != nil && hidden(id) {
			continue
		}
		out = append(out, Result{ItemID: id, SourceID: idx.sourceID, Distance: -h.Score})
		if len(out) == k {
			break
		}
	}
	return out
}

// Searcher owns one Index per source and the live hidden set. Per-source
// graphs are replaced atomically by swapping one map entry, so a rebuild
// of source A never blocks queries touching source B.
type Searcher struct {
	st           *store.Store
	modelID      uint32
	modelVersion uint32

	mu      sync.RWMutex
	indexes map[int64]*Index

	hiddenMu sync.RWMutex
	hidden   map[int64]struct{}
}

// NewSearcher creates a Searcher bound to one model identity. Call Build to
// populate it before serving queries.
func NewSearcher(st *store.Store, identity model.Identity) *Searcher {
	return &Searcher{
		st:           st,
		modelID:      uint32(identity.ModelID),
		modelVersion: identity.Version,
		indexes:      make(map[int64]*Index),
		hidden:       make(map[int64]struct{}),
	}
}

// Build loads every (item_id, source_id, embedding) tuple for the
// Searcher's model identity, partitions by source, and builds one ANN
// graph per source. Sources with no surviving items are simply absent
// from the map. It also seeds the hidden set from persisted hidden_at
// timestamps.
func (s *Searcher) Build(ctx context.Context) error {
	rows, err := s.st.ItemsForIndex(ctx, s.modelID, s.modelVersion)
	if err != nil {
		return err
	}

	bySource := make(map[int64][]store.IndexRow)
	for _, r := range rows {
		bySource[r.SourceID] = append(bySource[r.SourceID], r)
	}

	built := make(map[int64]*Index, len(bySource))
	for sourceID, srows := range bySource {
		ids := make([]int64, len(srows))
		vecs := make([][]float32, len(srows))
		for i, r := range srows {
			ids[i] = r.ItemID
			vecs[i] = model.DeserializeEmbedding(r.Embedding)
		}
		built[sourceID] = Build(sourceID, ids, vecs)
	}

	hiddenIDs, err := s.st.HiddenItemIDs(ctx)
	if err != nil {
		return err
	}
	hiddenSet := make(map[int64]struct{}, len(hiddenIDs))
	for _, id := range hiddenIDs {
		hiddenSet[id] = struct{}{}
	}

	s.mu.Lock()
	s.indexes = built
	s.mu.Unlock()

	s.hiddenMu.Lock()
	s.hidden = hiddenSet
	s.hiddenMu.Unlock()
	return nil
}

// RebuildSource reloads and rebuilds the ANN graph for a single source,
// splicing the new graph into place without disturbing any other source.
func (s *Searcher) RebuildSource(ctx context.Context, sourceID int64) error {
	rows, err := s.st.ItemsForIndex(ctx, s.modelID, s.modelVersion)
	if err != nil {
		return err
	}

	var ids []int64
	var vecs [][]float32
	for _, r := range rows {
		if r.SourceID != sourceID {
			continue
		}
		ids = append(ids, r.ItemID)
		vecs = append(vecs, model.DeserializeEmbedding(r.Embedding))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		delete(s.indexes, sourceID)
		return nil
	}
	s.indexes[sourceID] = Build(sourceID, ids, vecs)
	return nil
}

// SetHidden adds or removes itemID from the live hidden set without
// touching any ANN graph.
func (s *Searcher) SetHidden(itemID int64, hidden bool) {
	s.hiddenMu.Lock()
	defer s.hiddenMu.Unlock()
	if hidden {
		s.hidden[itemID] = struct{}{}
	} else {
		delete(s.hidden, itemID)
	}
}

// IsHidden reports whether itemID is currently hidden.
func (s *Searcher) IsHidden(itemID int64) bool {
	s.hiddenMu.RLock()
	defer s.hiddenMu.RUnlock()
	_, ok := s.hidden[itemID]
	return ok
}

// SearchVector runs the ANN top-k query against the given source subset in
// parallel, filters out hidden ids, concatenates, and truncates to k.
// Results are sorted ascending by distance. Each per-source query fetches
// enough extra candidates to cover the current hidden-set size, so hiding
// a result and re-searching yields the next-best visible item without a
// rebuild.
func (s *Searcher) SearchVector(ctx context.Context, sources []int64, k int, query []float32) ([]Result, error) {
	s.mu.RLock()
	snapshot := make(map[int64]*Index, len(sources))
	for _, id := range sources {
		if idx, ok := s.indexes[id]; ok {
			snapshot[id] = idx
		}
	}
	s.mu.RUnlock()

	s.hiddenMu.RLock()
	hiddenCount := len(s.hidden)
	s.hiddenMu.RUnlock()
	fetch := k + hiddenCount

	isHidden := s.IsHidden

	var mu sync.Mutex
	var all []Result
	g, _ := errgroup.WithContext(ctx)
	for _, idx := range snapshot {
		idx := idx
		g.Go(func() error {
			hits := idx.search(query, k, fetch, isHidden)
			mu.Lock()
			all = append(all, hits...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// Search encodes text once via m and delegates to SearchVector.
func (s *Searcher) Search(ctx context.Context, m model.Model, sources []int64, k int, text string) ([]Result, error) {
	vectors, err := m.Encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return s.SearchVector(ctx, sources, k, vectors[0])
}

// Retrieved pairs a rehydrated item row with its search score.
type Retrieved struct {
	Item  store.RetrievedItem
	Score float32
}

// SearchAndRetrieve rehydrates the items behind a SearchVector call,
// excluding skipped/hidden at the database layer as a safety net, and
// re-pairs each row with its score, sorted ascending.
func (s *Searcher) SearchAndRetrieve(ctx context.Context, sources []int64, k int, query []float32) ([]Retrieved, error) {
	hits, err := s.SearchVector(ctx, sources, k, query)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ItemID
	}
	rows, err := s.st.GetItemsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Retrieved, 0, len(hits))
	for _, h := range hits {
		row, ok := rows[h.ItemID]
		if !ok {
			continue // filtered out by the database-layer safety net
		}
		out = append(out, Retrieved{Item: row, Score: h.Distance})
	}
	return out, nil
}
