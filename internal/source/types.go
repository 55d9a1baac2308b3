// Package source holds the log source data model (Source, Rule,
// SourceBackend), the registry key scheme used to address per-source
// workers, and the in-memory catalog that resolves a source token to its
// metadata while queuing persistence in the background.
package source

import (
	"context"
	"regexp"
	"time"

	"tapline/internal/event"
	"tapline/internal/lql"
)

// RuleKind identifies which matching engine a Rule uses, per spec §3.
type RuleKind int

const (
	// RuleLQL evaluates a compiled lql.DNF expression against the event body.
	RuleLQL RuleKind = iota
	// RuleRegex evaluates a compiled regex against body.event_message.
	RuleRegex
)

// Rule routes events matching a predicate into a sink source, with rule
// evaluation disabled on re-ingest (routing depth capped to one hop, per
// spec §3's invariant).
type Rule struct {
	Kind  RuleKind
	Query string // lql query text, for RuleKind == RuleLQL
	Regex string // regex source text, for RuleKind == RuleRegex

	SinkToken event.SourceToken

	// Compiled forms, memoized once at Source load time (spec §4.6: "must
	// be memoized at source load, not per event").
	compiledDNF   *lql.DNF
	compiledRegex *regexp.Regexp
}

// Compile memoizes the rule's matching engine. Must be called once after
// loading a Source and before it is used for ingestion.
func (r *Rule) Compile() error {
	switch r.Kind {
	case RuleLQL:
		dnf, err := lql.Compile(r.Query)
		if err != nil {
			return err
		}
		r.compiledDNF = dnf
	case RuleRegex:
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return err
		}
		r.compiledRegex = re
	}
	return nil
}

// Match reports whether the event matches this rule's compiled predicate.
// Compile must have been called first; an uncompiled rule never matches.
func (r *Rule) Match(e event.LogEvent) bool {
	switch r.Kind {
	case RuleLQL:
		return r.compiledDNF != nil && lql.Match(r.compiledDNF, e.Body)
	case RuleRegex:
		return r.compiledRegex != nil && r.compiledRegex.MatchString(e.Message())
	default:
		return false
	}
}

// Source is a log source: a stable identity plus the rules that route its
// events, per spec §3. Immutable from the core's perspective — mutation is
// reloaded by restarting the source supervisor.
type Source struct {
	ID    string
	Token event.SourceToken

	OwnerID string
	Name    string

	// NotifyCadence is the notification cadence in milliseconds.
	NotifyCadence int64

	// Drop is an optional lql query; matching events are silently dropped
	// before reaching the cache, buffer, or any backend (spec §4.6 step 2).
	Drop string

	Rules []Rule

	CreatedAt           time.Time
	LogEventsUpdatedAt  time.Time

	compiledDrop *lql.DNF
}

// Compile memoizes the drop expression and every rule's matcher. Call once
// after loading a Source, before Ingest uses it.
func (s *Source) Compile() error {
	if s.Drop != "" {
		dnf, err := lql.Compile(s.Drop)
		if err != nil {
			return err
		}
		s.compiledDrop = dnf
	}
	for i := range s.Rules {
		if err := s.Rules[i].Compile(); err != nil {
			return err
		}
	}
	return nil
}

// ShouldDrop reports whether the event matches the source's drop
// expression. A source with no drop expression never drops anything.
func (s *Source) ShouldDrop(e event.LogEvent) bool {
	return s.compiledDrop != nil && lql.Match(s.compiledDrop, e.Body)
}

// SourceBackend is a configured sink attached to a source: (id, source_id,
// type, config), per spec §3. Registry.SaveBackend validates Config with
// the adaptor named by Type before the SourceBackend is persisted.
type SourceBackend struct {
	ID       string
	SourceID string
	Type     string
	Config   map[string]string
}

// Store persists Source and SourceBackend records. Off the ingest hot
// path — Registry queues SaveSource calls on a buffered channel exactly
// like the teacher's source.Registry.persistLoop; its other Store calls
// go to the store directly.
type Store interface {
	LoadAllSources(ctx context.Context) ([]*Source, error)
	SaveSource(ctx context.Context, src *Source) error
	DeleteSource(ctx context.Context, id string) error

	ListBackends(ctx context.Context, sourceID string) ([]*SourceBackend, error)
	SaveBackend(ctx context.Context, b *SourceBackend) error
	DeleteBackend(ctx context.Context, id string) error

	// TouchLogEventsUpdatedAt updates the source's log_events_updated_at
	// field, per spec §4.2's periodic touch task.
	TouchLogEventsUpdatedAt(ctx context.Context, sourceID string, at time.Time) error
}
