// Package memory maintains the long-lived narrative memory of a project:
// bounded chapter summaries, the character-state ledger, the plot-event
// ledger and a keyword index over both.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/azyu/storyloom/pkg/types"
)

// DefaultMaxSummaries is the default number of retained chapter summaries.
const DefaultMaxSummaries = 50

// MaxContextEvents caps the unresolved plot events handed to a chapter.
const MaxContextEvents = 5

// Errors returned by the store.
var (
	ErrCorruption    = errors.New("memory store corruption")
	ErrEventNotFound = errors.New("plot event not found")
)

// ChapterRecord is everything a committed chapter contributes to memory.
type ChapterRecord struct {
	Chapter          int                     `json:"chapter"`
	Summary          types.ChapterSummary    `json:"summary"`
	CharacterUpdates []types.CharacterUpdate `json:"character_updates,omitempty"`
	Events           []types.PlotEvent       `json:"events,omitempty"`
	ResolvedEventIDs []string                `json:"resolved_event_ids,omitempty"`
	Day              int                     `json:"day,omitempty"`
}

// Snapshot is the persisted form of the store.
type Snapshot struct {
	Summaries     []types.ChapterSummary
	Characters    []types.CharacterState
	Events        []types.PlotEvent
	Skipped       []int
	LastCommitted int
	LastDay       int
}

// Commit is the set of row changes produced by one RecordChapter call.
type Commit struct {
	Chapter       int
	Summary       types.ChapterSummary
	Evicted       []int
	Characters    []types.CharacterState
	Events        []types.PlotEvent
	Resolved      []string
	LastCommitted int
	LastDay       int
}

// Persister stores memory durably. ApplyCommit must be all-or-nothing.
type Persister interface {
	LoadMemory(ctx context.Context) (*Snapshot, error)
	ApplyCommit(ctx context.Context, c Commit) error
	MarkResolved(ctx context.Context, ids []string) error
	MarkSkipped(ctx context.Context, chapter int) error
}

type state struct {
	summaries     []types.ChapterSummary
	characters    map[string]types.CharacterState
	events        []types.PlotEvent
	skipped       map[int]bool
	lastCommitted int
	lastDay       int
}

func newState() *state {
	return &state{
		characters: make(map[string]types.CharacterState),
		skipped:    make(map[int]bool),
	}
}

func (st *state) clone() *state {
	c := &state{
		summaries:     slices.Clone(st.summaries),
		characters:    maps.Clone(st.characters),
		events:        slices.Clone(st.events),
		skipped:       maps.Clone(st.skipped),
		lastCommitted: st.lastCommitted,
		lastDay:       st.lastDay,
	}
	return c
}

// frontier is the highest chapter number that is committed or skipped.
func (st *state) frontier() int {
	f := st.lastCommitted
	for n := range st.skipped {
		if n > f {
			f = n
		}
	}
	return f
}

func (st *state) eventIndex(id string) int {
	for i, ev := range st.events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

// Store is the memory store. Reads may run concurrently; writes are
// serialized and either fully applied or not applied at all.
type Store struct {
	mu           sync.RWMutex
	st           *state
	maxSummaries int
	persister    Persister
	results      *cache.Cache
	logger       *zap.Logger
	newID        func() string
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSummaries sets the summary retention cap.
func WithMaxSummaries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSummaries = n
		}
	}
}

// WithPersister makes every write durable through p.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithIDGenerator overrides plot-event id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		st:           newState(),
		maxSummaries: DefaultMaxSummaries,
		results:      cache.New(30*time.Minute, 10*time.Minute),
		logger:       zap.NewNop(),
		newID:        func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("memory")
	return s
}

// Open creates a store and loads its contents from the configured persister.
func Open(ctx context.Context, opts ...Option) (*Store, error) {
	s := New(opts...)
	if s.persister == nil {
		return s, nil
	}

	snap, err := s.persister.LoadMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}
	s.restore(snap)
	return s, nil
}

func (s *Store) restore(snap *Snapshot) {
	st := newState()
	st.summaries = slices.Clone(snap.Summaries)
	sort.SliceStable(st.summaries, func(i, j int) bool {
		return st.summaries[i].Chapter < st.summaries[j].Chapter
	})
	if over := len(st.summaries) - s.maxSummaries; over > 0 {
		st.summaries = st.summaries[over:]
	}
	for _, c := range snap.Characters {
		st.characters[c.Name] = c
	}
	st.events = slices.Clone(snap.Events)
	sort.SliceStable(st.events, func(i, j int) bool {
		return st.events[i].Chapter < st.events[j].Chapter
	})
	for _, n := range snap.Skipped {
		st.skipped[n] = true
	}
	st.lastCommitted = snap.LastCommitted
	st.lastDay = snap.LastDay

	s.mu.Lock()
	s.st = st
	s.results.Flush()
	s.mu.Unlock()

	s.logger.Debug("memory restored",
		zap.Int("summaries", len(st.summaries)),
		zap.Int("characters", len(st.characters)),
		zap.Int("events", len(st.events)),
		zap.Int("last_committed", st.lastCommitted),
	)
}

// RecordChapter folds a committed chapter into memory. Recording the same
// chapter again replaces its summary and plot events instead of adding to
// them, and never rolls a character back to an older chapter's state.
func (s *Store) RecordChapter(ctx context.Context, rec ChapterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate(rec); err != nil {
		return err
	}

	next, commit := s.apply(rec)

	if s.persister != nil {
		if err := s.persister.ApplyCommit(ctx, commit); err != nil {
			return fmt.Errorf("failed to persist chapter %d: %w", rec.Chapter, err)
		}
	}

	s.st = next
	s.results.Flush()

	s.logger.Info("chapter recorded",
		zap.Int("chapter", rec.Chapter),
		zap.Int("character_updates", len(commit.Characters)),
		zap.Int("events", len(commit.Events)),
		zap.Int("resolved", len(commit.Resolved)),
		zap.Ints("evicted", commit.Evicted),
	)
	return nil
}

func (s *Store) validate(rec ChapterRecord) error {
	n := rec.Chapter
	if n < 1 {
		return fmt.Errorf("%w: invalid chapter number %d", ErrCorruption, n)
	}
	if f := s.st.frontier(); n > f+1 {
		return fmt.Errorf("%w: chapter %d would leave a gap after chapter %d", ErrCorruption, n, f)
	}
	if rec.Summary.Chapter != 0 && rec.Summary.Chapter != n {
		return fmt.Errorf("%w: summary references chapter %d while recording chapter %d", ErrCorruption, rec.Summary.Chapter, n)
	}
	for _, u := range rec.CharacterUpdates {
		if strings.TrimSpace(u.Name) == "" {
			return fmt.Errorf("%w: character update without a name", ErrCorruption)
		}
	}

	fresh := make(map[string]bool, len(rec.Events))
	for _, ev := range rec.Events {
		if !ev.Type.Valid() {
			return fmt.Errorf("%w: plot event %q has unknown type %q", ErrCorruption, ev.Description, ev.Type)
		}
		if ev.Chapter != 0 && ev.Chapter != n {
			return fmt.Errorf("%w: plot event %q originates in uncommitted chapter %d", ErrCorruption, ev.Description, ev.Chapter)
		}
		if ev.ID != "" {
			fresh[ev.ID] = true
		}
	}

	for _, id := range rec.ResolvedEventIDs {
		if fresh[id] {
			continue
		}
		i := s.st.eventIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: resolved event %s does not exist", ErrCorruption, id)
		}
		if s.st.events[i].Chapter > n {
			return fmt.Errorf("%w: event %s originates after chapter %d", ErrCorruption, id, n)
		}
	}
	return nil
}

func (s *Store) apply(rec ChapterRecord) (*state, Commit) {
	n := rec.Chapter
	next := s.st.clone()
	commit := Commit{Chapter: n}

	sum := rec.Summary
	sum.Chapter = n
	sum.Keywords = slices.Clone(sum.Keywords)
	sum.Characters = slices.Clone(sum.Characters)
	i, found := slices.BinarySearchFunc(next.summaries, n, func(cs types.ChapterSummary, n int) int {
		return cs.Chapter - n
	})
	if found {
		next.summaries[i] = sum
	} else {
		next.summaries = slices.Insert(next.summaries, i, sum)
	}
	for len(next.summaries) > s.maxSummaries {
		commit.Evicted = append(commit.Evicted, next.summaries[0].Chapter)
		next.summaries = next.summaries[1:]
	}
	commit.Summary = sum

	for _, u := range rec.CharacterUpdates {
		cur, ok := next.characters[u.Name]
		if ok && cur.LastChapter > n {
			continue
		}
		if !ok {
			cur = types.CharacterState{Name: u.Name}
		}
		cur = mergeCharacter(cur, u, n)
		next.characters[u.Name] = cur
		commit.Characters = append(commit.Characters, cur)
	}

	wasResolved := make(map[string]bool)
	kept := next.events[:0:0]
	for _, ev := range next.events {
		if ev.Chapter == n {
			if ev.Resolved {
				wasResolved[ev.ID] = true
				wasResolved[eventKey(ev)] = true
			}
			continue
		}
		kept = append(kept, ev)
	}
	for _, ev := range rec.Events {
		ev.Chapter = n
		if ev.ID == "" {
			ev.ID = s.newID()
		}
		ev.Characters = slices.Clone(ev.Characters)
		ev.Keywords = slices.Clone(ev.Keywords)
		ev.Resolved = ev.Resolved || wasResolved[ev.ID] || wasResolved[eventKey(ev)]
		kept = append(kept, ev)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Chapter < kept[j].Chapter })
	next.events = kept

	for _, id := range rec.ResolvedEventIDs {
		if i := next.eventIndex(id); i >= 0 && !next.events[i].Resolved {
			next.events[i].Resolved = true
			commit.Resolved = append(commit.Resolved, id)
		}
	}
	for _, ev := range next.events {
		if ev.Chapter == n {
			commit.Events = append(commit.Events, ev)
		}
	}

	if n >= next.lastCommitted && rec.Day > 0 {
		next.lastDay = rec.Day
	}
	if n > next.lastCommitted {
		next.lastCommitted = n
	}
	delete(next.skipped, n)

	commit.LastCommitted = next.lastCommitted
	commit.LastDay = next.lastDay
	return next, commit
}

func eventKey(ev types.PlotEvent) string {
	return string(ev.Type) + "\x00" + strings.ToLower(strings.TrimSpace(ev.Description))
}

func mergeCharacter(cur types.CharacterState, u types.CharacterUpdate, chapter int) types.CharacterState {
	cur.LastChapter = chapter
	if u.Location != nil {
		cur.Location = *u.Location
	}
	if u.Status != nil {
		cur.Status = *u.Status
	}
	if len(u.Relationships) > 0 {
		rel := maps.Clone(cur.Relationships)
		if rel == nil {
			rel = make(map[string]string, len(u.Relationships))
		}
		maps.Copy(rel, u.Relationships)
		cur.Relationships = rel
	}
	if len(u.Attributes) > 0 {
		attrs := maps.Clone(cur.Attributes)
		if attrs == nil {
			attrs = make(map[string]string, len(u.Attributes))
		}
		maps.Copy(attrs, u.Attributes)
		cur.Attributes = attrs
	}
	return cur
}

// MarkSkipped records that chapter n was escalated and skipped, so that the
// following chapter can be committed without leaving a gap.
func (s *Store) MarkSkipped(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f := s.st.frontier(); n != f+1 {
		return fmt.Errorf("%w: cannot skip chapter %d, next free chapter is %d", ErrCorruption, n, f+1)
	}
	if s.persister != nil {
		if err := s.persister.MarkSkipped(ctx, n); err != nil {
			return fmt.Errorf("failed to persist skipped chapter %d: %w", n, err)
		}
	}

	next := s.st.clone()
	next.skipped[n] = true
	s.st = next

	s.logger.Warn("chapter skipped", zap.Int("chapter", n))
	return nil
}

// ResolveEvents marks plot events as resolved.
func (s *Store) ResolveEvents(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if s.st.eventIndex(id) < 0 {
			return fmt.Errorf("%w: %s", ErrEventNotFound, id)
		}
	}
	if s.persister != nil {
		if err := s.persister.MarkResolved(ctx, ids); err != nil {
			return fmt.Errorf("failed to persist resolved events: %w", err)
		}
	}

	next := s.st.clone()
	for _, id := range ids {
		next.events[next.eventIndex(id)].Resolved = true
	}
	s.st = next
	s.results.Flush()

	s.logger.Info("events resolved", zap.Strings("ids", ids))
	return nil
}

// AssembleContext builds the bounded narrative context for a chapter: the
// summaries of the most recent maxChapters chapters before it, the states of
// the named characters that exist, and the unresolved plot events relevant
// to those characters or to the outline text.
func (s *Store) AssembleContext(chapterNum, maxChapters int, names []string, outline string) types.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := types.Context{
		Chapter: chapterNum,
		LastDay: s.st.lastDay,
	}

	var before []types.ChapterSummary
	for _, cs := range s.st.summaries {
		if cs.Chapter < chapterNum {
			before = append(before, cs)
		}
	}
	if maxChapters < len(before) {
		before = before[len(before)-max(maxChapters, 0):]
	}
	for _, cs := range before {
		out.Summaries = append(out.Summaries, cloneSummary(cs))
	}

	seen := make(map[string]bool, len(names))
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[strings.ToLower(name)] = true
		if seen[name] {
			continue
		}
		seen[name] = true
		if cs, ok := s.st.characters[name]; ok {
			out.Characters = append(out.Characters, cloneCharacter(cs))
		}
	}

	lowerOutline := strings.ToLower(outline)
	var events []types.PlotEvent
	for _, ev := range s.st.events {
		if ev.Resolved || ev.Chapter >= chapterNum {
			continue
		}
		if eventRelevant(ev, wanted, lowerOutline) {
			events = append(events, cloneEvent(ev))
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Chapter > events[j].Chapter })
	if len(events) > MaxContextEvents {
		events = events[:MaxContextEvents]
	}
	out.Events = events

	return out
}

func eventRelevant(ev types.PlotEvent, names map[string]bool, lowerOutline string) bool {
	for _, c := range ev.Characters {
		if names[strings.ToLower(c)] {
			return true
		}
	}
	if lowerOutline == "" {
		return false
	}
	for _, kw := range ev.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lowerOutline, kw) {
			return true
		}
	}
	return false
}

// Character returns the current state of a character.
func (s *Store) Character(name string) (types.CharacterState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, ok := s.st.characters[name]
	if !ok {
		return types.CharacterState{}, false
	}
	return cloneCharacter(cs), true
}

// CharacterNames returns all known character names in sorted order.
func (s *Store) CharacterNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.st.characters))
}

// CharactersMentioned returns the states of known characters whose name
// occurs in text.
func (s *Store) CharactersMentioned(text string) []types.CharacterState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.CharacterState
	for _, name := range slices.Sorted(maps.Keys(s.st.characters)) {
		if strings.Contains(text, name) {
			out = append(out, cloneCharacter(s.st.characters[name]))
		}
	}
	return out
}

// Events returns plot events in chapter order.
func (s *Store) Events(unresolvedOnly bool) []types.PlotEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.PlotEvent
	for _, ev := range s.st.events {
		if unresolvedOnly && ev.Resolved {
			continue
		}
		out = append(out, cloneEvent(ev))
	}
	return out
}

// Summaries returns the retained summaries in chapter order.
func (s *Store) Summaries() []types.ChapterSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ChapterSummary, 0, len(s.st.summaries))
	for _, cs := range s.st.summaries {
		out = append(out, cloneSummary(cs))
	}
	return out
}

// LastCommitted returns the highest committed chapter number.
func (s *Store) LastCommitted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.lastCommitted
}

// NextChapter returns the next chapter number to produce.
func (s *Store) NextChapter() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.frontier() + 1
}

// Timeline returns the last recorded story-day marker, or 0.
func (s *Store) Timeline() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.lastDay
}

// Stats summarizes the store contents.
func (s *Store) Stats() types.MemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := types.MemoryStats{
		Summaries:       len(s.st.summaries),
		Characters:      len(s.st.characters),
		Events:          len(s.st.events),
		LastCommitted:   s.st.lastCommitted,
		LastDay:         s.st.lastDay,
		SkippedChapters: len(s.st.skipped),
	}
	for _, ev := range s.st.events {
		if !ev.Resolved {
			stats.UnresolvedEvents++
		}
	}
	if len(s.st.summaries) > 0 {
		stats.OldestSummary = s.st.summaries[0].Chapter
	}
	return stats
}

func cloneSummary(cs types.ChapterSummary) types.ChapterSummary {
	cs.Keywords = slices.Clone(cs.Keywords)
	cs.Characters = slices.Clone(cs.Characters)
	return cs
}

func cloneCharacter(cs types.CharacterState) types.CharacterState {
	cs.Relationships = maps.Clone(cs.Relationships)
	cs.Attributes = maps.Clone(cs.Attributes)
	return cs
}

func cloneEvent(ev types.PlotEvent) types.PlotEvent {
	ev.Characters = slices.Clone(ev.Characters)
	ev.Keywords = slices.Clone(ev.Keywords)
	return ev
}
