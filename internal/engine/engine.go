// Package engine is the transaction manager (§4.2-4.5): the single
// component that consumes parsed commands, drives sitestore, txn and
// waitqueue, and produces the line-oriented output §6 specifies.
//
// Grounded on the teacher's internal/docdb TransactionManager, which
// plays the same role (a single mutable aggregate driven by a command
// dispatch loop) for the teacher's document engine; generalized here
// from single-document MVCC to the spec's full SSI/Available-Copies
// validation pipeline.
package engine

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/availkv/availkv/internal/command"
	"github.com/availkv/availkv/internal/dberrors"
	"github.com/availkv/availkv/internal/metrics"
	"github.com/availkv/availkv/internal/sitestore"
	"github.com/availkv/availkv/internal/txn"
	"github.com/availkv/availkv/internal/waitqueue"
)

// Engine owns every piece of state named in §5: the site store, the
// transaction table, the dependency graph, the waiting queue, and the
// logical clock. It is not safe for concurrent use by design (§5).
type Engine struct {
	store   *sitestore.Store
	txns    *txn.Table
	graph   *txn.Graph
	waiting *waitqueue.Queue
	clock   int64
	log     zerolog.Logger
	corrID  string // stamped fresh per Dispatch, ties this command's log lines together
}

// New builds an Engine with a freshly initialized site store (the
// twenty variables at their §3 initial values).
func New(log zerolog.Logger) *Engine {
	e := &Engine{
		store:   sitestore.New(log),
		txns:    txn.NewTable(),
		graph:   txn.NewGraph(),
		waiting: waitqueue.New(),
		log:     log,
	}
	for id := 1; id <= sitestore.NumSites; id++ {
		metrics.SiteUp.WithLabelValues(fmt.Sprint(id)).Set(1)
	}
	return e
}

// Clock returns the current logical time.
func (e *Engine) Clock() int64 { return e.clock }

// Dispatch advances the logical clock by one and runs cmd to
// completion, returning the output lines it produces (§6). This is the
// single entry point external drivers call; it never touches raw text.
func (e *Engine) Dispatch(cmd command.Cmd) []string {
	e.clock++
	e.corrID = uuid.NewString()
	switch c := cmd.(type) {
	case command.Begin:
		return e.begin(c)
	case command.Read:
		return e.read(c)
	case command.Write:
		return e.write(c)
	case command.End:
		return e.end(c)
	case command.Fail:
		return e.fail(c)
	case command.Recover:
		return e.recover(c)
	case command.Dump:
		return e.dump(c)
	default:
		return []string{protocolError(fmt.Errorf("unrecognized command kind"))}
	}
}

func protocolError(err error) string {
	return fmt.Sprintf("ERROR: %s", err)
}

// liveTxn resolves a transaction id and checks it's in a non-terminal
// state, the precondition shared by read/write/end.
func (e *Engine) liveTxn(id string) (*txn.Transaction, string, bool) {
	t, ok := e.txns.Get(id)
	if !ok {
		return nil, protocolError(dberrors.ErrUnknownTransaction), false
	}
	if !t.IsLive() {
		return nil, protocolError(dberrors.ErrTerminalTransaction), false
	}
	return t, "", true
}

func validVar(v int) bool {
	return v >= 1 && v <= sitestore.NumVariables
}

func validSite(s int) bool {
	return s >= 1 && s <= sitestore.NumSites
}

func (e *Engine) begin(c command.Begin) []string {
	if _, exists := e.txns.Get(c.Txn); exists {
		return []string{protocolError(dberrors.ErrTerminalTransaction)}
	}
	e.txns.Begin(c.Txn, e.clock)
	e.log.Debug().Str("txn", c.Txn).Int64("t", e.clock).Str("corr_id", e.corrID).Msg("begin")
	return nil
}

func (e *Engine) read(c command.Read) []string {
	t, errLine, ok := e.liveTxn(c.Txn)
	if !ok {
		return []string{errLine}
	}
	if !validVar(c.Var) {
		return []string{protocolError(dberrors.ErrUnknownVariable)}
	}

	if v, buffered := t.WriteBuffer[c.Var]; buffered {
		metrics.ReadsTotal.WithLabelValues("buffered").Inc()
		return []string{fmt.Sprintf("x%d: %d", c.Var, v)}
	}
	if rec, cached := t.ReadSet[c.Var]; cached {
		metrics.ReadsTotal.WithLabelValues("cached").Inc()
		return []string{fmt.Sprintf("x%d: %d", c.Var, rec.Value)}
	}

	res, ok := e.store.CanRead(c.Var, t.StartTime)
	if !ok {
		return e.parkOrAbortRead(t, c.Var)
	}

	t.ReadSet[c.Var] = txn.ReadRecord{
		Value:      res.Value,
		SourceSite: res.SourceSite,
		Writer:     res.Writer,
		CommitTime: res.CommitTime,
	}
	for _, u := range e.txns.Live(t.ID) {
		if _, writesVar := u.WriteBuffer[c.Var]; writesVar {
			e.graph.AddEdge(t.ID, u.ID, txn.RW)
		}
	}
	metrics.ReadsTotal.WithLabelValues("hit").Inc()
	return []string{fmt.Sprintf("x%d: %d", c.Var, res.Value)}
}

// parkOrAbortRead implements §4.2's failure branch: abort outright only
// when the variable is replicated and every hosting site is currently
// down (DESIGN.md Open Question 4); otherwise queue the read for retry
// on a future recover.
func (e *Engine) parkOrAbortRead(t *txn.Transaction, varIdx int) []string {
	if sitestore.IsReplicated(varIdx) && e.store.AllHostingSitesDown(varIdx) {
		return []string{e.abort(t, dberrors.ErrNoReadableCopy, fmt.Sprintf("%s aborts no-readable-copy: no readable copy of x%d", t.ID, varIdx))}
	}
	t.Status = txn.Waiting
	e.waiting.Enqueue(t.ID, varIdx)
	metrics.WaitingReads.Set(float64(e.waiting.Len()))
	metrics.ReadsTotal.WithLabelValues("waited").Inc()
	return []string{fmt.Sprintf("%s waits: no readable copy of x%d yet", t.ID, varIdx)}
}

func (e *Engine) write(c command.Write) []string {
	t, errLine, ok := e.liveTxn(c.Txn)
	if !ok {
		return []string{errLine}
	}
	if !validVar(c.Var) {
		return []string{protocolError(dberrors.ErrUnknownVariable)}
	}

	up := e.store.UpSitesFor(c.Var)
	if len(up) == 0 {
		return []string{e.abort(t, dberrors.ErrNoUpSiteForWrite, fmt.Sprintf("%s aborts no-up-site-for-write: no up site hosts x%d", t.ID, c.Var))}
	}

	t.WriteBuffer[c.Var] = c.Value
	t.WriteSites[c.Var] = up
	for _, s := range up {
		if existing, ok := t.AccessedSitesAtWriteTime[s]; !ok || e.clock < existing {
			t.AccessedSitesAtWriteTime[s] = e.clock
		}
	}

	for _, u := range e.txns.Live(t.ID) {
		if _, read := u.ReadSet[c.Var]; read {
			e.graph.AddEdge(u.ID, t.ID, txn.RW)
		}
	}

	metrics.WritesTotal.Inc()
	return []string{fmt.Sprintf("%s writes x%d to sites %v", t.ID, c.Var, up)}
}

func (e *Engine) end(c command.End) []string {
	t, errLine, ok := e.liveTxn(c.Txn)
	if !ok {
		return []string{errLine}
	}

	if line, failed := e.checkPhaseA(t); failed {
		return []string{line}
	}
	if line, failed := e.checkPhaseB(t); failed {
		return []string{line}
	}
	if line, failed := e.checkPhaseC(t); failed {
		return []string{line}
	}

	for varIdx, value := range t.WriteBuffer {
		commitSites := intersect(t.WriteSites[varIdx], e.store.UpSitesFor(varIdx))
		e.store.WriteCommitted(varIdx, value, e.clock, t.ID, commitSites)
	}
	t.Status = txn.Committed
	e.waiting.Remove(t.ID)
	metrics.CommitsTotal.Inc()
	e.log.Debug().Str("txn", t.ID).Str("corr_id", e.corrID).Msg("commit")
	return []string{fmt.Sprintf("%s commits", t.ID)}
}

// checkPhaseA is the Available-Copies check: any site this transaction
// wrote to that has since failed aborts the commit.
func (e *Engine) checkPhaseA(t *txn.Transaction) (string, bool) {
	sites := make([]int, 0, len(t.AccessedSitesAtWriteTime))
	for s := range t.AccessedSitesAtWriteTime {
		sites = append(sites, s)
	}
	sort.Ints(sites)
	for _, s := range sites {
		writeTime := t.AccessedSitesAtWriteTime[s]
		if e.store.FailedSince(s, writeTime, e.clock) {
			return e.abort(t, dberrors.ErrSiteFailedAfterWrite, fmt.Sprintf("%s aborts site-failed-after-write: site %d failed after write", t.ID, s)), true
		}
	}
	return "", false
}

// checkPhaseB is first-committer-wins: a later-starting writer yields
// to anyone who committed a newer version of the same variable.
func (e *Engine) checkPhaseB(t *txn.Transaction) (string, bool) {
	vars := sortedVarKeys(t.WriteBuffer)
	for _, varIdx := range vars {
		if e.store.AnyVersionAfter(varIdx, t.StartTime, t.ID) {
			return e.abort(t, dberrors.ErrWWConflict, fmt.Sprintf("%s aborts WW-conflict: write-write conflict on x%d", t.ID, varIdx)), true
		}
	}
	return "", false
}

// checkPhaseC provisionally adds the WW edges a commit would fix, then
// tests for a dangerous structure (a cycle with two consecutive RW
// edges). Provisional edges are rolled back if the check fails.
func (e *Engine) checkPhaseC(t *txn.Transaction) (string, bool) {
	var added []txn.Edge

	for _, varIdx := range sortedVarKeys(t.WriteBuffer) {
		for _, c := range e.txns.CommittedWritersOf(varIdx, t.ID) {
			e.graph.AddEdge(c.ID, t.ID, txn.WW)
			added = append(added, txn.Edge{From: c.ID, To: t.ID, Kind: txn.WW})
		}
	}
	for _, varIdx := range sortedReadSetKeys(t.ReadSet) {
		rec := t.ReadSet[varIdx]
		if e.store.AnyVersionAfter(varIdx, rec.CommitTime, "") {
			e.graph.AddEdge(rec.Writer, t.ID, txn.WW)
			added = append(added, txn.Edge{From: rec.Writer, To: t.ID, Kind: txn.WW})
		}
	}

	committed := func(id string) bool {
		other, ok := e.txns.Get(id)
		return ok && other.Status == txn.Committed
	}
	if e.graph.HasDangerousCycleThrough(t.ID, committed) {
		for _, edge := range added {
			e.graph.RemoveEdge(edge.From, edge.To, edge.Kind)
		}
		return e.abort(t, dberrors.ErrDangerousCycle, fmt.Sprintf("%s aborts dangerous-cycle: commit would close a cycle with two consecutive RW edges", t.ID)), true
	}
	return "", false
}

// abort transitions t to ABORTED, records the reason, clears it from
// the waiting queue, and counts it in metrics. Returns the line to emit.
func (e *Engine) abort(t *txn.Transaction, reason error, line string) string {
	t.Status = txn.Aborted
	t.AbortReason = reason.Error()
	e.waiting.Remove(t.ID)
	metrics.AbortsTotal.WithLabelValues(reason.Error()).Inc()
	e.log.Debug().Str("txn", t.ID).Str("reason", reason.Error()).Str("corr_id", e.corrID).Msg("abort")
	return line
}

func (e *Engine) fail(c command.Fail) []string {
	if !validSite(c.Site) {
		return []string{protocolError(dberrors.ErrUnknownSite)}
	}
	e.store.Fail(c.Site, e.clock)
	metrics.SiteUp.WithLabelValues(fmt.Sprint(c.Site)).Set(0)
	return nil
}

func (e *Engine) recover(c command.Recover) []string {
	if !validSite(c.Site) {
		return []string{protocolError(dberrors.ErrUnknownSite)}
	}
	e.store.Recover(c.Site, e.clock)
	metrics.SiteUp.WithLabelValues(fmt.Sprint(c.Site)).Set(1)
	return e.retryWaiting()
}

// retryWaiting services the waiting queue in FIFO order (§4.5): each
// queued read is retried with the same rule as a fresh read; a
// newly-resolved read resumes the transaction, an unchanged outcome
// stays queued, and a now-provably-impossible read aborts.
func (e *Engine) retryWaiting() []string {
	var out []string
	for _, op := range e.waiting.Snapshot() {
		t, ok := e.txns.Get(op.Txn)
		if !ok || !t.IsLive() {
			e.waiting.RemoveOp(op)
			continue
		}
		res, ok := e.store.CanRead(op.Var, t.StartTime)
		if !ok {
			if sitestore.IsReplicated(op.Var) && e.store.AllHostingSitesDown(op.Var) {
				out = append(out, e.abort(t, dberrors.ErrNoReadableCopy, fmt.Sprintf("%s aborts no-readable-copy: no readable copy of x%d", t.ID, op.Var)))
				e.waiting.RemoveOp(op)
			}
			continue
		}
		t.ReadSet[op.Var] = txn.ReadRecord{
			Value:      res.Value,
			SourceSite: res.SourceSite,
			Writer:     res.Writer,
			CommitTime: res.CommitTime,
		}
		t.Status = txn.Active
		for _, u := range e.txns.Live(t.ID) {
			if _, writesVar := u.WriteBuffer[op.Var]; writesVar {
				e.graph.AddEdge(t.ID, u.ID, txn.RW)
			}
		}
		e.waiting.RemoveOp(op)
		out = append(out, fmt.Sprintf("x%d: %d", op.Var, res.Value))
	}
	metrics.WaitingReads.Set(float64(e.waiting.Len()))
	return out
}

func (e *Engine) dump(command.Dump) []string {
	return sitestore.FormatDump(e.store.Dump())
}

func intersect(a, b []int) []int {
	set := make(map[int]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []int
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func sortedVarKeys(m map[int]int) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func sortedReadSetKeys(m map[int]txn.ReadRecord) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
