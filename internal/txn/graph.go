package txn

// EdgeKind distinguishes the two SSI dependency edge kinds (GLOSSARY).
type EdgeKind int

const (
	RW EdgeKind = iota
	WW
)

func (k EdgeKind) String() string {
	if k == RW {
		return "RW"
	}
	return "WW"
}

// Edge is one directed dependency edge between transaction ids.
type Edge struct {
	From string
	To   string
	Kind EdgeKind
}

// Graph is the inter-transaction dependency graph (§3, §4.4). It is
// represented as an edge set keyed by source transaction id, per §9's
// instruction to avoid object back-pointers in a structure that is
// naturally cyclic.
type Graph struct {
	out map[string][]Edge
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{out: make(map[string][]Edge)}
}

// AddEdge adds a directed edge if it is not already present (the graph
// is a simple edge set: no duplicate (from,to,kind) triples).
func (g *Graph) AddEdge(from, to string, kind EdgeKind) {
	if from == to {
		return
	}
	for _, e := range g.out[from] {
		if e.To == to && e.Kind == kind {
			return
		}
	}
	g.out[from] = append(g.out[from], Edge{From: from, To: to, Kind: kind})
}

// RemoveEdge removes a specific directed edge, if present. Used to roll
// back the provisional Phase C edges on abort (§4.4).
func (g *Graph) RemoveEdge(from, to string, kind EdgeKind) {
	edges := g.out[from]
	for i, e := range edges {
		if e.To == to && e.Kind == kind {
			g.out[from] = append(edges[:i], edges[i+1:]...)
			return
		}
	}
}

// OutEdges returns the edges leaving node, in insertion order.
func (g *Graph) OutEdges(node string) []Edge {
	return g.out[node]
}

// HasDangerousCycleThrough reports whether the graph contains a cycle
// that passes through `start` (the transaction currently committing)
// and includes two consecutive RW edges (§4.4 Phase C, §8 invariant).
//
// A node only propagates the walk onward (lets its own out-edges be
// examined) once `committed` reports it already committed — an edge
// into a still-Active transaction doesn't yet close anything, since
// that transaction might itself abort before it ever commits. This is
// what lets T1 commit cleanly in a two-node RW/RW cycle with a
// not-yet-committed T2, while T2's own later commit (once T1 has
// committed) detects the now-closed cycle.
//
// `start` can itself be the cycle's pivot: an RW edge closing back into
// start is "consecutive" with the very first RW edge the walk took out
// of start, the same as any other adjacent pair, so the first edge's
// kind is carried along as firstKind and checked against every closing
// edge, not just the immediately preceding one.
func (g *Graph) HasDangerousCycleThrough(start string, committed func(id string) bool) bool {
	visited := map[string]bool{start: true}

	var dfs func(node string, prevKind EdgeKind, havePrev bool, firstKind EdgeKind, haveFirst bool, sawConsecutiveRW bool) bool
	dfs = func(node string, prevKind EdgeKind, havePrev bool, firstKind EdgeKind, haveFirst bool, sawConsecutiveRW bool) bool {
		for _, e := range g.out[node] {
			consec := sawConsecutiveRW || (havePrev && prevKind == RW && e.Kind == RW)
			if e.To == start {
				if consec || (haveFirst && firstKind == RW && e.Kind == RW) {
					return true
				}
				continue
			}
			if visited[e.To] || !committed(e.To) {
				continue
			}
			nextFirstKind, nextHaveFirst := firstKind, haveFirst
			if !haveFirst {
				nextFirstKind, nextHaveFirst = e.Kind, true
			}
			visited[e.To] = true
			if dfs(e.To, e.Kind, true, nextFirstKind, nextHaveFirst, consec) {
				return true
			}
			visited[e.To] = false
		}
		return false
	}

	return dfs(start, RW, false, RW, false, false)
}
