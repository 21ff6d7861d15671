package txn

import "testing"

func alwaysCommitted(string) bool { return true }
func neverCommitted(string) bool  { return false }

func TestHasDangerousCycleThrough_TwoConsecutiveRW(t *testing.T) {
	g := NewGraph()
	g.AddEdge("T1", "T2", RW)
	g.AddEdge("T2", "T1", RW)

	// T2 has already committed, so its outgoing RW edge back into T1 is
	// trustworthy and closes the cycle.
	if !g.HasDangerousCycleThrough("T1", alwaysCommitted) {
		t.Fatalf("T1 -RW-> T2 -RW-> T1 is a dangerous cycle and should be detected")
	}
}

func TestHasDangerousCycleThrough_UncommittedFarSideDoesNotClose(t *testing.T) {
	g := NewGraph()
	g.AddEdge("T1", "T2", RW)
	g.AddEdge("T2", "T1", RW)

	// T2 hasn't committed yet: its edge back into T1 can't be trusted,
	// so T1's own commit must not see a closed cycle. This is the
	// engine-level case of committing T1 in spec.md §8 scenario 5
	// before T2 has committed.
	if g.HasDangerousCycleThrough("T1", neverCommitted) {
		t.Errorf("an uncommitted far side must not close the cycle for T1's commit")
	}
}

func TestHasDangerousCycleThrough_PivotAtStart(t *testing.T) {
	g := NewGraph()
	g.AddEdge("T", "A", RW)
	g.AddEdge("A", "B", WW)
	g.AddEdge("B", "T", RW)

	// T is the pivot: one RW edge out, one RW edge in. The closing edge
	// B->T must be checked against the first edge T->A, not just the
	// immediately preceding A->B edge.
	committed := func(id string) bool { return id == "A" || id == "B" }
	if !g.HasDangerousCycleThrough("T", committed) {
		t.Errorf("T is the pivot of a dangerous cycle via its first and closing edges")
	}
}

func TestHasDangerousCycleThrough_UncommittedIntermediateDoesNotPropagate(t *testing.T) {
	g := NewGraph()
	g.AddEdge("T1", "T2", RW)
	g.AddEdge("T2", "T3", RW)
	g.AddEdge("T3", "T1", RW)

	// T2 hasn't committed, so the walk may not continue past it to T3.
	committed := func(id string) bool { return id == "T3" }
	if g.HasDangerousCycleThrough("T1", committed) {
		t.Errorf("an uncommitted intermediate node must not propagate the walk")
	}
}

func TestHasDangerousCycleThrough_SingleRWIsSafe(t *testing.T) {
	g := NewGraph()
	g.AddEdge("T1", "T2", RW)
	g.AddEdge("T2", "T1", WW)

	if g.HasDangerousCycleThrough("T1", alwaysCommitted) {
		t.Errorf("a cycle with only one RW edge is not dangerous")
	}
}

func TestHasDangerousCycleThrough_RWSeparatedByWW(t *testing.T) {
	g := NewGraph()
	g.AddEdge("T1", "T2", RW)
	g.AddEdge("T2", "T3", WW)
	g.AddEdge("T3", "T4", RW)
	g.AddEdge("T4", "T1", WW)

	// WW edges separate the two RW edges on both sides of the cycle,
	// including the wraparound pair (T4->T1, T1->T2).
	if g.HasDangerousCycleThrough("T1", alwaysCommitted) {
		t.Errorf("RW edges separated by a WW edge should not trip the check")
	}
}

func TestHasDangerousCycleThrough_ConsecutiveRWAwayFromStart(t *testing.T) {
	g := NewGraph()
	g.AddEdge("T1", "T2", WW)
	g.AddEdge("T2", "T3", RW)
	g.AddEdge("T3", "T4", RW)
	g.AddEdge("T4", "T1", WW)

	if !g.HasDangerousCycleThrough("T1", alwaysCommitted) {
		t.Errorf("the two consecutive RW edges are not adjacent to T1 but still close a dangerous cycle")
	}
}

func TestRemoveEdgeRollsBack(t *testing.T) {
	g := NewGraph()
	g.AddEdge("T1", "T2", RW)
	g.AddEdge("T2", "T1", RW)
	g.RemoveEdge("T2", "T1", RW)

	if g.HasDangerousCycleThrough("T1", alwaysCommitted) {
		t.Errorf("removing the provisional edge should break the cycle")
	}
}

func TestAddEdgeIgnoresSelfLoopsAndDuplicates(t *testing.T) {
	g := NewGraph()
	g.AddEdge("T1", "T1", RW)
	if len(g.OutEdges("T1")) != 0 {
		t.Errorf("self-loops must not be recorded")
	}

	g.AddEdge("T1", "T2", WW)
	g.AddEdge("T1", "T2", WW)
	if len(g.OutEdges("T1")) != 1 {
		t.Errorf("duplicate edges must not be recorded twice")
	}
}
