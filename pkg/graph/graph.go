// Package graph implements the approximate nearest neighbor index backing
// every vector column: a single flat pool of nodes connected by a pruned
// neighbor graph, searched with greedy best-first traversal.
package graph

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/mars/mars/pkg/distance"
	"github.com/mars/mars/pkg/errs"
)

// NodeId addresses a slot in the graph's node pool. Ids are reused after a
// delete via the free list, so callers must never cache one past a delete.
type NodeId uint32

// Node holds one vector and its pruned neighbor set. A deleted node keeps its
// slot (for id stability of anything still referencing it mid-operation) but
// carries no vector or edges.
type Node struct {
	Vector    []float32
	Neighbors []NodeId
	Deleted   bool
}

// Candidate pairs a node with its distance to some query or pivot vector.
type Candidate struct {
	ID       NodeId
	Distance float32
}

// Config controls graph construction and search quality.
type Config struct {
	Dimension    int
	MaxNeighbors int
	AlphaStrict  float32
	AlphaRelaxed float32
	SearchBuffer int
	DistanceKind distance.Kind
}

// DefaultConfig returns the graph defaults used when a table doesn't
// override them.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:    dimension,
		MaxNeighbors: 16,
		AlphaStrict:  1.0,
		AlphaRelaxed: 1.2,
		SearchBuffer: 64,
		DistanceKind: distance.Euclidean,
	}
}

// Graph is the pruned-neighbor ANN index. All mutating and query operations
// are safe for concurrent use.
type Graph struct {
	mu          sync.RWMutex
	config      Config
	nodes       []Node
	freeList    []NodeId
	activeCount int
	centroid    []float32
}

// New creates an empty graph for the given config.
func New(config Config) *Graph {
	return &Graph{
		config:   config,
		centroid: make([]float32, config.Dimension),
	}
}

// Dimension returns the vector width this graph accepts.
func (g *Graph) Dimension() int {
	return g.config.Dimension
}

// Config returns the configuration the graph was constructed with.
func (g *Graph) Config() Config {
	return g.config
}

// ActiveCount returns the number of non-deleted nodes.
func (g *Graph) ActiveCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.activeCount
}

// HasTombstones reports whether any node slot is pending reuse from a prior
// delete. A graph with tombstones can be compacted by a full Rebuild.
func (g *Graph) HasTombstones() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.freeList) > 0
}

// Centroid returns a copy of the running mean of all active vectors.
func (g *Graph) Centroid() []float32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]float32, len(g.centroid))
	copy(out, g.centroid)
	return out
}

// SetCentroid overwrites the running centroid, used when restoring a graph
// from a persisted table snapshot.
func (g *Graph) SetCentroid(c []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.centroid = append([]float32(nil), c...)
}

const noExclude = NodeId(^uint32(0))

func (g *Graph) dist(a, b []float32) float32 {
	return distance.Compute(g.config.DistanceKind, a, b)
}

func (g *Graph) allocateNodeID() NodeId {
	g.activeCount++
	if n := len(g.freeList); n > 0 {
		id := g.freeList[n-1]
		g.freeList = g.freeList[:n-1]
		return id
	}
	id := NodeId(len(g.nodes))
	g.nodes = append(g.nodes, Node{})
	return id
}

// Insert adds vector to the graph and returns its assigned node id.
func (g *Graph) Insert(vector []float32) (NodeId, error) {
	if len(vector) != g.config.Dimension {
		return 0, errs.New(errs.KindDimensionMismatch, "graph: dimension mismatch: expected %d, got %d", g.config.Dimension, len(vector))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	vec := append([]float32(nil), vector...)
	entry, haveEntry := g.entryPointLocked()

	id := g.allocateNodeID()
	g.nodes[id] = Node{Vector: vec}

	if haveEntry {
		candidates := g.greedySearchLocked(entry, vec, g.config.SearchBuffer, id)
		neighbors := g.robustPruneLocked(vec, candidates, g.config.AlphaStrict, g.config.MaxNeighbors)
		g.nodes[id].Neighbors = neighbors
		for _, nb := range neighbors {
			g.addReverseEdgeLocked(nb, id)
		}
	}

	g.updateCentroidOnInsert(vec)
	return id, nil
}

func (g *Graph) addReverseEdgeLocked(nb, id NodeId) {
	node := &g.nodes[nb]
	for _, existing := range node.Neighbors {
		if existing == id {
			return
		}
	}
	node.Neighbors = append(node.Neighbors, id)
	if len(node.Neighbors) <= g.config.MaxNeighbors {
		return
	}

	cands := make([]Candidate, 0, len(node.Neighbors))
	for _, n2 := range node.Neighbors {
		cands = append(cands, Candidate{ID: n2, Distance: g.dist(node.Vector, g.nodes[n2].Vector)})
	}
	node.Neighbors = g.robustPruneLocked(node.Vector, cands, g.config.AlphaStrict, g.config.MaxNeighbors)
}

// Delete tombstones id, removes it from every active node's edge list, and
// returns its slot to the free list for reuse by a future Insert.
func (g *Graph) Delete(id NodeId) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if int(id) >= len(g.nodes) || g.nodes[id].Deleted {
		return errs.New(errs.KindNotFound, "graph: node %d not found", id)
	}

	vec := g.nodes[id].Vector

	g.nodes[id].Deleted = true
	g.nodes[id].Vector = nil
	g.nodes[id].Neighbors = nil

	// Edges are directed and reverse pruning can drop one direction, so a
	// node may link to id without id linking back: scan every active node.
	for nb := range g.nodes {
		if g.nodes[nb].Deleted {
			continue
		}
		g.nodes[nb].Neighbors = removeNeighbor(g.nodes[nb].Neighbors, id)
	}

	g.updateCentroidOnDelete(vec)
	g.freeList = append(g.freeList, id)
	return nil
}

func removeNeighbor(neighbors []NodeId, id NodeId) []NodeId {
	for i, n := range neighbors {
		if n == id {
			return append(neighbors[:i], neighbors[i+1:]...)
		}
	}
	return neighbors
}

// Query returns the k nearest active nodes to query.
func (g *Graph) Query(query []float32, k, searchBuffer int) ([]Candidate, error) {
	if len(query) != g.config.Dimension {
		return nil, errs.New(errs.KindDimensionMismatch, "graph: dimension mismatch: expected %d, got %d", g.config.Dimension, len(query))
	}
	if searchBuffer < k {
		searchBuffer = k
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	entry, ok := g.entryPointLocked()
	if !ok {
		return nil, nil
	}

	results := g.greedySearchLocked(entry, query, searchBuffer, noExclude)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// entryPointLocked picks the active node closest to the graph's running
// centroid by linear scan. The index keeps no separate entry-point cache, so
// every Insert and Query reseeds from this one scan against the centroid
// rather than against the incoming vector itself: the entry point is fixed
// relative to the data's bulk, and the pruned neighbor graph does the actual
// work of walking from there to whatever is truly nearest.
func (g *Graph) entryPointLocked() (NodeId, bool) {
	var (
		best     NodeId
		bestDist float32
		found    bool
	)
	for i := range g.nodes {
		if g.nodes[i].Deleted {
			continue
		}
		d := g.dist(g.nodes[i].Vector, g.centroid)
		if !found || d < bestDist {
			best, bestDist, found = NodeId(i), d, true
		}
	}
	return best, found
}

// candidateHeap is a min-heap over Candidate ordered by ascending distance,
// used as the greedy search frontier.
type candidateHeap []Candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].Distance < h[j].Distance }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// greedySearchLocked performs a best-first walk from start, returning the L
// closest nodes to query it visited, sorted ascending by distance.
func (g *Graph) greedySearchLocked(start NodeId, query []float32, l int, exclude NodeId) []Candidate {
	visited := map[NodeId]bool{start: true}
	frontier := &candidateHeap{{ID: start, Distance: g.dist(g.nodes[start].Vector, query)}}
	heap.Init(frontier)

	results := []Candidate{(*frontier)[0]}

	for frontier.Len() > 0 {
		cur := heap.Pop(frontier).(Candidate)
		if len(results) >= l && cur.Distance > results[len(results)-1].Distance {
			break
		}

		for _, nb := range g.nodes[cur.ID].Neighbors {
			if visited[nb] || nb == exclude {
				continue
			}
			visited[nb] = true
			if g.nodes[nb].Deleted {
				continue
			}
			d := g.dist(g.nodes[nb].Vector, query)
			results = insertSorted(results, Candidate{ID: nb, Distance: d}, l)
			heap.Push(frontier, Candidate{ID: nb, Distance: d})
		}
	}

	return results
}

func insertSorted(results []Candidate, c Candidate, cap int) []Candidate {
	i := sort.Search(len(results), func(i int) bool { return results[i].Distance >= c.Distance })
	results = append(results, Candidate{})
	copy(results[i+1:], results[i:])
	results[i] = c
	if len(results) > cap {
		results = results[:cap]
	}
	return results
}

// robustPruneLocked selects up to maxDegree neighbors for v from candidates
// (each carrying its distance to v), discarding any candidate dominated by an
// already-selected, closer neighbor. A candidate q is dominated by the most
// recently selected p when distance(p,q) <= alpha*distance(v,q): p already
// covers q's direction well enough that keeping q too would be redundant.
func (g *Graph) robustPruneLocked(v []float32, candidates []Candidate, alpha float32, maxDegree int) []NodeId {
	work := append([]Candidate(nil), candidates...)
	sort.Slice(work, func(i, j int) bool { return work[i].Distance < work[j].Distance })

	result := make([]NodeId, 0, maxDegree)
	for len(work) > 0 && len(result) < maxDegree {
		p := work[0]
		work = work[1:]
		result = append(result, p.ID)

		kept := work[:0]
		for _, q := range work {
			dpq := g.dist(g.nodes[p.ID].Vector, g.nodes[q.ID].Vector)
			if dpq <= alpha*q.Distance {
				continue
			}
			kept = append(kept, q)
		}
		work = kept
	}
	return result
}

func (g *Graph) updateCentroidOnInsert(v []float32) {
	n := g.activeCount
	old := float32(n - 1)
	newN := float32(n)
	for i := range g.centroid {
		g.centroid[i] = g.centroid[i]*old/newN + v[i]/newN
	}
}

func (g *Graph) updateCentroidOnDelete(v []float32) {
	n := g.activeCount
	if n <= 1 {
		for i := range g.centroid {
			g.centroid[i] = 0
		}
		g.activeCount = 0
		return
	}
	newN := float32(n - 1)
	for i := range g.centroid {
		g.centroid[i] = g.centroid[i]*float32(n)/newN - v[i]/newN
	}
	g.activeCount--
}

// Rebuild reconstructs the graph topology from scratch by reinserting every
// vector in vectors, in order, and returns the node id assigned to each.
// The persisted format only stores rows, not edges, so Load always ends with
// a Rebuild.
func Rebuild(config Config, vectors [][]float32) (*Graph, []NodeId, error) {
	g := New(config)
	ids := make([]NodeId, len(vectors))
	for i, v := range vectors {
		id, err := g.Insert(v)
		if err != nil {
			return nil, nil, err
		}
		ids[i] = id
	}
	return g, ids, nil
}

// ValidateIntegrity checks the structural invariants the rest of the package
// assumes: neighbor lists only reference live nodes, never exceed
// MaxNeighbors, never self-loop, and activeCount / freeList agree with node
// tombstone state.
func (g *Graph) ValidateIntegrity() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	liveCount := 0
	for i := range g.nodes {
		id := NodeId(i)
		n := g.nodes[i]
		if n.Deleted {
			continue
		}
		liveCount++
		if len(n.Neighbors) > g.config.MaxNeighbors {
			return fmt.Errorf("graph: node %d has %d neighbors, exceeds max %d", id, len(n.Neighbors), g.config.MaxNeighbors)
		}
		for _, nb := range n.Neighbors {
			if nb == id {
				return fmt.Errorf("graph: node %d has a self-loop", id)
			}
			if int(nb) >= len(g.nodes) || g.nodes[nb].Deleted {
				return fmt.Errorf("graph: node %d references dead neighbor %d", id, nb)
			}
		}
	}
	if liveCount != g.activeCount {
		return fmt.Errorf("graph: activeCount %d does not match live node count %d", g.activeCount, liveCount)
	}
	for _, id := range g.freeList {
		if int(id) >= len(g.nodes) || !g.nodes[id].Deleted {
			return fmt.Errorf("graph: free list entry %d is not tombstoned", id)
		}
	}
	return nil
}
