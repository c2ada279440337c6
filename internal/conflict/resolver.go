package conflict

import "github.com/kolabdoc/collabedit/internal/ot"

// Participant carries the bits of session membership the resolver needs to
// rank users under the user_priority strategy.
type Participant struct {
	UserID string
	Role   Role
}

// Resolver selects a strategy for a colliding operation pair and applies
// it, recording per-session statistics as it goes (spec §4.3).
type Resolver struct {
	defaultStrategy Strategy
	overrides       map[string]Strategy // per-session strategy override
	stats           map[string]*Stats   // per-session
}

// NewResolver returns a Resolver using defaultStrategy when a session has
// not overridden its strategy.
func NewResolver(defaultStrategy Strategy) *Resolver {
	if defaultStrategy == "" {
		defaultStrategy = StrategyMerge
	}
	return &Resolver{
		defaultStrategy: defaultStrategy,
		overrides:       make(map[string]Strategy),
		stats:           make(map[string]*Stats),
	}
}

// SetSessionStrategy overrides the strategy used for a specific session.
func (r *Resolver) SetSessionStrategy(sessionID string, strategy Strategy) {
	r.overrides[sessionID] = strategy
}

// SelectStrategy implements spec §4.3's strategy-selection heuristic, used
// whenever a session hasn't pinned an explicit non-merge strategy: a
// session override, or any resolver default other than the ambiguous
// "merge" catch-all, always wins outright. Only when the effective
// strategy is merge does the heuristic refine it further by conflict
// shape:
//
//   - Format vs Format               -> merge (attribute union)
//   - overlapping Delete vs Delete   -> timestamp_priority
//   - Insert landing inside a Delete -> interactive if either side touches
//     a structural code construct, merge otherwise
//   - concurrent by vector clock     -> user_priority
//   - anything else                  -> merge
func (r *Resolver) SelectStrategy(sessionID string, incoming, historical ot.Operation, incomingRole, historicalRole Role) Strategy {
	effective := r.defaultStrategy
	if s, ok := r.overrides[sessionID]; ok {
		effective = s
	}
	if effective != StrategyMerge {
		return effective
	}

	switch {
	case incoming.Kind == ot.KindFormat && historical.Kind == ot.KindFormat:
		return StrategyMerge
	case hasConflictKind(incoming, "overlapping_delete"):
		return StrategyTimestampPriority
	case hasConflictKind(incoming, "deletion_conflict"):
		if hasStructuralTokens(incoming) || hasStructuralTokens(historical) {
			return StrategyInteractive
		}
		return StrategyMerge
	case ot.IsConcurrent(incoming.Metadata.VectorClock, historical.Metadata.VectorClock):
		return StrategyUserPriority
	default:
		return StrategyMerge
	}
}

func hasConflictKind(op ot.Operation, kind string) bool {
	for _, c := range op.Conflicts {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// Resolve resolves a single collision between incoming (the operation
// being applied) and historical (the already-applied operation it
// collided with). Both must be the original, untransformed operations —
// see the apply() doc comment in strategies.go for why. docContent, when
// given, is the session's current document content, used only to classify
// a content_aware resolution (spec §4.3); callers that never configure
// content_aware may omit it.
func (r *Resolver) Resolve(sessionID string, incoming, historical ot.Operation, incomingRole, historicalRole Role, docContent ...string) Resolution {
	strategy := r.SelectStrategy(sessionID, incoming, historical, incomingRole, historicalRole)

	var res Resolution
	if strategy == StrategyContentAware {
		content := ""
		if len(docContent) > 0 {
			content = docContent[0]
		}
		res = contentAware(incoming, historical, ClassifyContent(content))
	} else {
		res = apply(strategy, incoming, historical, incomingRole, historicalRole)
	}
	r.record(sessionID, res)
	return res
}

// ResolveContentAware resolves using content_aware, classifying docContent
// to pick the narrower sub-strategy.
func (r *Resolver) ResolveContentAware(sessionID string, incoming, historical ot.Operation, docContent string) Resolution {
	res := contentAware(incoming, historical, ClassifyContent(docContent))
	r.record(sessionID, res)
	return res
}

func (r *Resolver) record(sessionID string, res Resolution) {
	s, ok := r.stats[sessionID]
	if !ok {
		s = &Stats{}
		r.stats[sessionID] = s
	}
	s.record(res)
}

// StatsFor returns a snapshot of a session's resolution statistics.
func (r *Resolver) StatsFor(sessionID string) Stats {
	if s, ok := r.stats[sessionID]; ok {
		return *s
	}
	return Stats{}
}
