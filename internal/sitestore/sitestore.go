// Package sitestore implements §4.1 of the spec: the ten-site,
// twenty-variable store with per-site version chains, failure-interval
// history, and the post-recovery readability policy for replicated data.
//
// Like the teacher's internal/docdb MVCC (versions are immutable,
// append-only, ordered by commit time), but versions here aren't backed
// by a datafile — they're in-memory facts about a logical clock, since
// §1 explicitly excludes durable storage.
package sitestore

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

const (
	NumSites     = 10
	NumVariables = 20
)

// IsReplicated reports whether variable i (1..20) is hosted on all ten
// sites (even) or on exactly one site (odd).
func IsReplicated(i int) bool {
	return i%2 == 0
}

// HomeSite returns the single hosting site for an odd (single-home)
// variable, per §3: site 1+(i mod 10).
func HomeSite(i int) int {
	return 1 + (i % 10)
}

// SitesFor returns the sites hosting variable i, in ascending order.
func SitesFor(i int) []int {
	if IsReplicated(i) {
		sites := make([]int, NumSites)
		for s := 1; s <= NumSites; s++ {
			sites[s-1] = s
		}
		return sites
	}
	return []int{HomeSite(i)}
}

// InitialValue returns the value installed for variable i at time 0.
func InitialValue(i int) int {
	return 10 * i
}

// Version is an immutable, committed version of a variable at a site.
type Version struct {
	Value      int
	CommitTime int64
	Writer     string
}

// failureInterval is one closed (or, for the last entry, open) down
// period in a site's history.
type failureInterval struct {
	failedAt   int64
	recoveredAt *int64
}

// Site holds one site's per-variable version chains, up/down state, and
// failure history. Readability flags apply only to replicated variables;
// single-home (odd) replicas are always considered readable while up.
type Site struct {
	ID       int
	up       bool
	history  []failureInterval
	versions map[int][]Version
	readable map[int]bool
}

func newSite(id int) *Site {
	return &Site{
		ID:       id,
		up:       true,
		versions: make(map[int][]Version),
		readable: make(map[int]bool),
	}
}

// Up reports whether the site is currently up.
func (s *Site) Up() bool { return s.up }

// latestVersion returns the most recent version of var on this site, or
// (Version{}, false) if none exists.
func (s *Site) latestVersion(varIdx int) (Version, bool) {
	chain := s.versions[varIdx]
	if len(chain) == 0 {
		return Version{}, false
	}
	return chain[len(chain)-1], true
}

// versionAsOf returns the version with the greatest commit time <= asOf.
func (s *Site) versionAsOf(varIdx int, asOf int64) (Version, bool) {
	chain := s.versions[varIdx]
	var best Version
	found := false
	for _, v := range chain {
		if v.CommitTime <= asOf && (!found || v.CommitTime > best.CommitTime) {
			best = v
			found = true
		}
	}
	return best, found
}

// anyVersionAfter reports whether any version of var was committed
// strictly after `after` by a writer other than excludeWriter.
func (s *Site) anyVersionAfter(varIdx int, after int64, excludeWriter string) bool {
	for _, v := range s.versions[varIdx] {
		if v.CommitTime > after && v.Writer != excludeWriter {
			return true
		}
	}
	return false
}

// failedDuring reports whether the site failed at any time in (after, through].
// A failure at exactly `after` does not count; one at exactly `through` does
// — this is §4.4 Phase A's continuous-uptime boundary rule.
func (s *Site) failedDuring(after, through int64) bool {
	for _, fi := range s.history {
		if fi.failedAt > after && fi.failedAt <= through {
			return true
		}
	}
	return false
}

// Store is the ten-site aggregate. It is not safe for concurrent use;
// per §5 the whole engine is single-threaded and owns Store exclusively.
type Store struct {
	sites map[int]*Site
	log   zerolog.Logger
}

// New creates the ten-site store with all twenty variables installed at
// time 0, per §3.
func New(log zerolog.Logger) *Store {
	st := &Store{
		sites: make(map[int]*Site, NumSites),
		log:   log,
	}
	for id := 1; id <= NumSites; id++ {
		st.sites[id] = newSite(id)
	}
	for i := 1; i <= NumVariables; i++ {
		v := Version{Value: InitialValue(i), CommitTime: 0, Writer: "genesis"}
		for _, id := range SitesFor(i) {
			s := st.sites[id]
			s.versions[i] = append(s.versions[i], v)
			if IsReplicated(i) {
				s.readable[i] = true
			}
		}
	}
	return st
}

// Site returns the site record for id, or nil if id is out of range.
func (st *Store) Site(id int) *Site {
	return st.sites[id]
}

// SitesFor is the placement policy, exposed on Store for convenience.
func (st *Store) SitesFor(varIdx int) []int { return SitesFor(varIdx) }

// UpSitesFor returns the subset of SitesFor(varIdx) that are currently up.
func (st *Store) UpSitesFor(varIdx int) []int {
	var up []int
	for _, id := range SitesFor(varIdx) {
		if st.sites[id].up {
			up = append(up, id)
		}
	}
	return up
}

// Fail marks a site down at logical time t and clears replicated
// readability flags for every variable it hosts. Returns false if id
// is not a known site (protocol error, caller decides how to surface it).
func (st *Store) Fail(id int, t int64) bool {
	s, ok := st.sites[id]
	if !ok || !s.up {
		return false
	}
	s.up = false
	s.history = append(s.history, failureInterval{failedAt: t})
	for varIdx := range s.versions {
		if IsReplicated(varIdx) {
			s.readable[varIdx] = false
		}
	}
	st.log.Info().Int("site", id).Int64("t", t).Msg("site failed")
	return true
}

// Recover marks a site up at logical time t, closing its last failure
// interval. Replicated variables stay non-readable until the next
// commit touches them; single-home (odd) variables are immediately
// readable again since the readability flag never applies to them.
func (st *Store) Recover(id int, t int64) bool {
	s, ok := st.sites[id]
	if !ok || s.up {
		return false
	}
	s.up = true
	if n := len(s.history); n > 0 && s.history[n-1].recoveredAt == nil {
		rt := t
		s.history[n-1].recoveredAt = &rt
	}
	st.log.Info().Int("site", id).Int64("t", t).Msg("site recovered")
	return true
}

// WriteCommitted installs a new version of var on every currently-up
// site in targetSites, and marks replicated targets readable again.
func (st *Store) WriteCommitted(varIdx, value int, commitTime int64, writer string, targetSites []int) {
	v := Version{Value: value, CommitTime: commitTime, Writer: writer}
	for _, id := range targetSites {
		s, ok := st.sites[id]
		if !ok || !s.up {
			continue
		}
		s.versions[varIdx] = append(s.versions[varIdx], v)
		if IsReplicated(varIdx) {
			s.readable[varIdx] = true
		}
	}
}

// ReadResult is what CanRead returns on success.
type ReadResult struct {
	Value      int
	SourceSite int
	Writer     string
	CommitTime int64
}

// CanRead attempts to find a site that can serve a snapshot of var as of
// txnStart, per §4.1: the chosen version's site must have been up
// continuously from that version's commit time through txnStart, and
// among eligible sites the lowest site id wins.
//
// readable_for_new_snapshots rules out the easy case (a replicated site
// still down, or not yet touched by a post-recovery commit) cheaply,
// but it isn't a full substitute for the history scan: a site can
// recover, miss a commit that happened elsewhere while it was down, and
// only later get refreshed by some unrelated commit past txnStart. Its
// readable flag is true and it's up, yet the version it would serve for
// an earlier txnStart is the one that predates the failure — exactly
// the stale version §4.1 disqualifies. So for replicated variables the
// chosen version's own (commit_t, txnStart] window is still checked
// against the site's failure history. A single-home (odd) variable has
// no second copy that could have progressed while its one site was
// down, so once that site is back up its whole version chain is
// trustworthy again; applying the same scan there would wrongly strand
// a read whose txnStart predates a since-closed failure (see
// internal/engine's waiting-read-resumes case).
func (st *Store) CanRead(varIdx int, txnStart int64) (ReadResult, bool) {
	for _, id := range SitesFor(varIdx) {
		s := st.sites[id]
		if !s.up {
			continue
		}
		if IsReplicated(varIdx) && !s.readable[varIdx] {
			continue
		}
		v, ok := s.versionAsOf(varIdx, txnStart)
		if !ok {
			continue
		}
		if IsReplicated(varIdx) && s.failedDuring(v.CommitTime, txnStart) {
			continue
		}
		return ReadResult{Value: v.Value, SourceSite: id, Writer: v.Writer, CommitTime: v.CommitTime}, true
	}
	return ReadResult{}, false
}

// AnyVersionAfter reports whether any site hosting var has a committed
// version strictly after `after`, written by someone other than
// excludeWriter. Down sites' persisted commits still count (§4.4 Phase B).
func (st *Store) AnyVersionAfter(varIdx int, after int64, excludeWriter string) bool {
	for _, id := range SitesFor(varIdx) {
		if st.sites[id].anyVersionAfter(varIdx, after, excludeWriter) {
			return true
		}
	}
	return false
}

// FailedSince reports whether the given site failed at any time in
// (writeTime, now] — §4.4 Phase A.
func (st *Store) FailedSince(siteID int, writeTime, now int64) bool {
	s, ok := st.sites[siteID]
	if !ok {
		return false
	}
	return s.failedDuring(writeTime, now)
}

// AllHostingSitesDown reports whether every site hosting var is
// currently down.
func (st *Store) AllHostingSitesDown(varIdx int) bool {
	for _, id := range SitesFor(varIdx) {
		if st.sites[id].up {
			return false
		}
	}
	return true
}

// SiteSnapshot is one site's committed values, for Dump.
type SiteSnapshot struct {
	SiteID int
	Up     bool
	Values map[int]int // var index -> latest committed value
}

// Dump produces, for every site 1..10 (including down sites), the value
// of each hosted variable's latest committed version, or the initial
// 10*i if none has been written yet.
func (st *Store) Dump() []SiteSnapshot {
	out := make([]SiteSnapshot, 0, NumSites)
	for id := 1; id <= NumSites; id++ {
		s := st.sites[id]
		snap := SiteSnapshot{SiteID: id, Up: s.up, Values: make(map[int]int)}
		for varIdx := range s.versions {
			if v, ok := s.latestVersion(varIdx); ok {
				snap.Values[varIdx] = v.Value
			}
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SiteID < out[j].SiteID })
	return out
}

// FormatDump renders Dump's result as the line-oriented text §6 calls for.
func FormatDump(snaps []SiteSnapshot) []string {
	lines := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		vars := make([]int, 0, len(snap.Values))
		for v := range snap.Values {
			vars = append(vars, v)
		}
		sort.Ints(vars)
		parts := make([]string, 0, len(vars))
		for _, v := range vars {
			parts = append(parts, fmt.Sprintf("x%d=%d", v, snap.Values[v]))
		}
		status := "up"
		if !snap.Up {
			status = "down"
		}
		line := fmt.Sprintf("site %d (%s):", snap.SiteID, status)
		for _, p := range parts {
			line += " " + p
		}
		lines = append(lines, line)
	}
	return lines
}
