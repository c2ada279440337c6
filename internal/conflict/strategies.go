package conflict

import "github.com/kolabdoc/collabedit/internal/ot"

// apply runs the chosen strategy over a colliding pair. incoming is the
// operation being applied now; historical is the already-applied operation
// it collided with while folding through transformAgainst (spec §4.4 step
// 6). Both are the ORIGINAL, untransformed operations: callers must not
// pass the partially-rebased operation here, since several strategies
// (merge in particular) need the base-document positions to recompute a
// canonical outcome rather than trust the kernel's order-dependent rebase.
func apply(strategy Strategy, incoming, historical ot.Operation, incomingRole, historicalRole Role) Resolution {
	switch strategy {
	case StrategyClientWins:
		return Resolution{Resolved: incoming, Strategy: strategy, Confidence: 1.0}
	case StrategyServerWins:
		return Resolution{Resolved: historical, Strategy: strategy, Confidence: 1.0}
	case StrategyTimestampPriority:
		return timestampPriority(incoming, historical)
	case StrategyUserPriority:
		return userPriority(incoming, historical, incomingRole, historicalRole)
	case StrategyMerge:
		return merge(incoming, historical)
	case StrategyInteractive:
		return Resolution{
			Resolved:       ot.TransformAgainst(incoming, []ot.Operation{historical}),
			Strategy:       strategy,
			Confidence:     0.0,
			RequiresReview: true,
			Annotation:     "awaiting user choice",
		}
	case StrategyContentAware:
		// Resolve classifies real document content and calls contentAware
		// directly before reaching here; this is the plain-text fallback
		// for any caller that picks content_aware without that context.
		return contentAware(incoming, historical)
	default:
		return merge(incoming, historical)
	}
}

func timestampPriority(incoming, historical ot.Operation) Resolution {
	if incoming.Metadata.Timestamp <= historical.Metadata.Timestamp {
		return Resolution{Resolved: incoming, Strategy: StrategyTimestampPriority, Confidence: 0.9}
	}
	return Resolution{
		Resolved:   ot.TransformAgainst(incoming, []ot.Operation{historical}),
		Strategy:   StrategyTimestampPriority,
		Confidence: 0.9,
	}
}

func userPriority(incoming, historical ot.Operation, incomingRole, historicalRole Role) Resolution {
	if RoleRank(incomingRole) >= RoleRank(historicalRole) {
		return Resolution{Resolved: incoming, Strategy: StrategyUserPriority, Confidence: 0.85}
	}
	return Resolution{
		Resolved:   ot.TransformAgainst(incoming, []ot.Operation{historical}),
		Strategy:   StrategyUserPriority,
		Confidence: 0.85,
		Alternatives: []ot.Operation{incoming},
	}
}

// merge implements the intelligent-merge sub-rules of spec §4.3: it
// dispatches on the (incoming.Kind, historical.Kind) pair rather than
// trusting whichever side folded through the kernel first, so the outcome
// is the same canonical result regardless of arrival order.
func merge(incoming, historical ot.Operation) Resolution {
	switch {
	case incoming.Kind == ot.KindFormat && historical.Kind == ot.KindFormat:
		return mergeFormatFormat(incoming, historical)
	case incoming.Kind == ot.KindInsert && historical.Kind == ot.KindInsert:
		return mergeInsertInsert(incoming, historical)
	case incoming.Kind == ot.KindDelete && historical.Kind == ot.KindDelete:
		return mergeDeleteDelete(incoming, historical)
	case incoming.Kind == ot.KindInsert && historical.Kind == ot.KindDelete:
		return mergeInsertDelete(incoming, historical)
	case incoming.Kind == ot.KindDelete && historical.Kind == ot.KindInsert:
		return mergeInsertDelete(historical, incoming)
	default:
		return Resolution{
			Resolved:       ot.TransformAgainst(incoming, []ot.Operation{historical}),
			Strategy:       StrategyMerge,
			Confidence:     0.5,
			RequiresReview: true,
			Annotation:     "mixed operation types deferred for review",
		}
	}
}

// mergeFormatFormat implements spec §4.3's format+format sub-rule directly
// against the original pair rather than delegating to ot.TransformAgainst:
// the kernel's transformRange always lets whichever operand happens to be
// "other" win non-boolean attributes (see ot.Attributes.Merge), which
// depends on incoming/historical arrival order rather than the spec's
// "later timestamp wins" rule and would let two replicas converge on
// different attribute values for the same collision. Recomputing here from
// Metadata.Timestamp keeps the outcome canonical regardless of order.
func mergeFormatFormat(incoming, historical ot.Operation) Resolution {
	start := minInt(incoming.Position, historical.Position)
	end := maxInt(incoming.End(), historical.End())

	earlier, later := incoming, historical
	if historical.Metadata.Timestamp < incoming.Metadata.Timestamp {
		earlier, later = historical, incoming
	}

	resolved := incoming.Clone()
	resolved.Position = start
	resolved.Length = end - start
	resolved.Attributes = earlier.Attributes.Merge(later.Attributes)

	return Resolution{Resolved: resolved, Strategy: StrategyMerge, Confidence: 0.95}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func mergeInsertInsert(incoming, historical ot.Operation) Resolution {
	resolved := ot.TransformAgainst(incoming, []ot.Operation{historical})
	return Resolution{Resolved: resolved, Strategy: StrategyMerge, Confidence: 0.95}
}

func mergeDeleteDelete(incoming, historical ot.Operation) Resolution {
	resolved := ot.TransformAgainst(incoming, []ot.Operation{historical})
	conf := 0.9
	if resolved.IsNoop() {
		conf = 1.0 // both sides deleted the same range; collapsing to a no-op is unambiguous
	}
	return Resolution{Resolved: resolved, Strategy: StrategyMerge, Confidence: conf}
}

// mergeInsertDelete is the canonical deletion_conflict resolution (spec §9
// open question, resolved as "the surviving insert" policy): when an
// Insert's original position falls strictly inside a concurrent Delete's
// original range, the insert is kept and snapped to the delete's start
// regardless of which operation happened to apply first. The delete keeps
// its length and is shifted past the inserted text, so applied after the
// insert it removes exactly the original deleted content and leaves the
// surviving insert in place.
func mergeInsertDelete(insert, del ot.Operation) Resolution {
	d, l := del.Position, del.Length
	if insert.Position <= d || insert.Position >= d+l {
		// Not actually the inside case; fall back to ordinary rebase.
		resolved := ot.TransformAgainst(insert, []ot.Operation{del})
		return Resolution{Resolved: resolved, Strategy: StrategyMerge, Confidence: 0.9}
	}

	resolvedInsert := insert.Clone()
	resolvedInsert.Position = d

	resolvedDelete := del.Clone()
	resolvedDelete.Position = d + len([]rune(insert.Content))
	resolvedDelete.Length = l

	return Resolution{
		Resolved:     resolvedInsert,
		Alternatives: []ot.Operation{resolvedDelete},
		Strategy:     StrategyMerge,
		Confidence:   0.7,
		Annotation:   "insert snapped to delete start; insert survives",
	}
}
