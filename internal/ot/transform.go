package ot

// Wins reports whether a has priority over b under the concurrent
// tie-break rule of spec §4.2: vector-clock `before` wins; else earlier
// timestamp wins; else lower userID wins; else lower operationID wins.
func Wins(a, b Operation) bool {
	switch CompareVectorClocks(a.Metadata.VectorClock, b.Metadata.VectorClock) {
	case Before:
		return true
	case After:
		return false
	}
	if a.Metadata.Timestamp != b.Metadata.Timestamp {
		return a.Metadata.Timestamp < b.Metadata.Timestamp
	}
	if a.Metadata.UserID != b.Metadata.UserID {
		return a.Metadata.UserID < b.Metadata.UserID
	}
	return a.Metadata.OperationID < b.Metadata.OperationID
}

// Transform is the kernel's central pure function: given two operations
// produced against the same base document version, it returns a', b' such
// that applying a then b' is equivalent to applying b then a' (the TP1
// convergence property, spec §8 P1).
//
// Overlapping-range cases (an Insert landing inside a Delete's span, or two
// overlapping Deletes collapsing to nothing) cannot be expressed exactly by
// a single rebased position+length pair in both directions at once — spec
// §9's open question flags this and leaves the resolution to the
// implementer. Transform makes a best-effort rebase in both directions and
// annotates the losing/ambiguous side with a ConflictAnnotation; the
// session manager routes annotated operations through internal/conflict,
// which recomputes the canonical outcome directly from the original pair
// and the base document rather than trusting the chained rebase (see
// internal/conflict/strategies.go).
func Transform(a, b Operation) (Operation, Operation, error) {
	aPrime := transformOne(a, b)
	bPrime := transformOne(b, a)
	return aPrime, bPrime, nil
}

// transformOne rebases op onto a document that already has other
// applied. Transform calls this one-directional form once in each
// direction, and TransformAgainst folds it over a list of operations.
func transformOne(op, other Operation) Operation {
	switch op.Kind {
	case KindInsert:
		return transformInsert(op, other)
	case KindDelete:
		return transformDelete(op, other)
	case KindRetain, KindFormat:
		return transformRange(op, other)
	default:
		return op
	}
}

// TransformAgainst folds Transform over a list of concurrent operations,
// in order, returning the fully rebased operation (spec §4.2
// transformAgainst).
func TransformAgainst(op Operation, ops []Operation) Operation {
	transformed := op
	for _, other := range ops {
		transformed = transformOne(transformed, other)
	}
	return transformed
}

func transformInsert(ins, other Operation) Operation {
	out := ins.Clone()
	switch other.Kind {
	case KindInsert:
		switch {
		case other.Position < ins.Position:
			out.Position += len([]rune(other.Content))
		case other.Position > ins.Position:
			// unchanged
		default: // tie at same position
			if !Wins(ins, other) {
				out.Position += len([]rune(other.Content))
			}
		}
	case KindDelete:
		d, l := other.Position, other.Length
		switch {
		case ins.Position <= d:
			// unchanged
		case ins.Position >= d+l:
			out.Position -= l
		default: // insert lands inside the delete's range
			out.Position = d
			out.Conflicts = append(out.Conflicts, ConflictAnnotation{Kind: "deletion_conflict"})
		}
	case KindRetain, KindFormat:
		// content-only operation; retains/formats never move an insert.
	}
	return out
}

func transformDelete(del, other Operation) Operation {
	out := del.Clone()
	switch other.Kind {
	case KindInsert:
		ip := other.Position
		n := len([]rune(other.Content))
		switch {
		case ip <= del.Position:
			out.Position += n
		case ip >= del.Position+del.Length:
			// unchanged
		default: // insert fell inside this delete's original range
			out.Length += n
			out.Conflicts = append(out.Conflicts, ConflictAnnotation{Kind: "deletion_conflict"})
		}
	case KindDelete:
		p1, l1 := del.Position, del.Length
		p2, l2 := other.Position, other.Length
		end1, end2 := p1+l1, p2+l2
		switch {
		case p1 >= end2:
			out.Position = p1 - l2
		case end1 <= p2:
			// unchanged, fully before
		default: // overlap
			unionStart := min(p1, p2)
			unionEnd := max(end1, end2)
			newLen := (unionEnd - unionStart) - l2
			if newLen < 0 {
				newLen = 0
			}
			out.Position = unionStart
			out.Length = newLen
			out.Conflicts = append(out.Conflicts, ConflictAnnotation{Kind: "overlapping_delete"})
		}
	case KindRetain, KindFormat:
		// formatting never changes position/length of a delete.
	}
	return out
}

// transformRange handles Retain and Format, which share the same
// position/length shifting rules (spec §4.2: "Retain behaves like Format
// with empty/undefined attributes for position shifts").
func transformRange(op, other Operation) Operation {
	out := op.Clone()
	switch other.Kind {
	case KindInsert:
		n := len([]rune(other.Content))
		switch {
		case other.Position <= out.Position:
			out.Position += n
		case other.Position < out.Position+out.Length:
			out.Length += n
		}
	case KindDelete:
		out.Position, out.Length = shiftRangeByDelete(out.Position, out.Length, other.Position, other.Length)
	case KindFormat, KindRetain:
		if op.Kind == KindFormat && other.Kind == KindFormat {
			if rangesOverlap(op.Position, op.Length, other.Position, other.Length) {
				out.Attributes = op.Attributes.Merge(other.Attributes)
				out.Conflicts = append(out.Conflicts, ConflictAnnotation{Kind: "format_overlap"})
			}
		}
	}
	return out
}

func shiftRangeByDelete(pos, length, dp, dl int) (int, int) {
	dEnd := dp + dl
	switch {
	case dp >= pos+length:
		return pos, length
	case dEnd <= pos:
		return pos - dl, length
	default:
		newPos := pos
		if dp < pos {
			shift := dl
			if dEnd < pos {
				shift = dl
			} else {
				shift = pos - dp
			}
			newPos = pos - shift
		}
		overlapStart := max(pos, dp)
		overlapEnd := min(pos+length, dEnd)
		removed := overlapEnd - overlapStart
		if removed < 0 {
			removed = 0
		}
		newLen := length - removed
		if newLen < 0 {
			newLen = 0
		}
		return newPos, newLen
	}
}

func rangesOverlap(p1, l1, p2, l2 int) bool {
	return p1 < p2+l2 && p2 < p1+l1
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
