package ot

import "time"

// Apply applies op to docState, returning the new state (spec §4.2). For
// Delete it captures the removed substring into DeletedContent; for Format
// it captures the prior attributes into OldAttributes — both needed by
// Inverse. Apply always returns a new DocumentState; the caller owns
// replacing the session's state with it.
func Apply(op Operation, doc *DocumentState) (*DocumentState, Operation, error) {
	if doc == nil {
		return nil, op, ErrInvalidPosition
	}
	content := []rune(doc.Content)
	out := doc.Clone()
	applied := op.Clone()

	switch op.Kind {
	case KindInsert:
		if op.Position < 0 || op.Position > len(content) {
			return nil, op, ErrOutOfRange
		}
		ins := []rune(op.Content)
		next := make([]rune, 0, len(content)+len(ins))
		next = append(next, content[:op.Position]...)
		next = append(next, ins...)
		next = append(next, content[op.Position:]...)
		out.Content = string(next)
		out.Formatting = shiftFormattingForInsert(doc.Formatting, op.Position, len(ins))
		if op.Attributes != nil {
			for i := 0; i < len(ins); i++ {
				out.Formatting[op.Position+i] = op.Attributes.Clone()
			}
		}

	case KindDelete:
		if op.Position < 0 || op.Length < 0 || op.Position+op.Length > len(content) {
			return nil, op, ErrOutOfRange
		}
		if op.Length == 0 {
			// Collapsed by the transform kernel (e.g. a fully-overlapped
			// concurrent delete); a legitimate no-op, not a validation error.
			applied.DeletedContent = ""
		} else {
			removed := string(content[op.Position : op.Position+op.Length])
			next := make([]rune, 0, len(content)-op.Length)
			next = append(next, content[:op.Position]...)
			next = append(next, content[op.Position+op.Length:]...)
			out.Content = string(next)
			out.Formatting = shiftFormattingForDelete(doc.Formatting, op.Position, op.Length)
			applied.DeletedContent = removed
		}

	case KindRetain:
		if op.Attributes != nil {
			applied.OldAttributes = snapshotAttributes(doc.Formatting, op.Position)
			applyAttributesToRange(out.Formatting, op.Position, op.Length, op.Attributes)
		}

	case KindFormat:
		if op.Position < 0 || op.Length < 0 {
			return nil, op, ErrInvalidPosition
		}
		applied.OldAttributes = snapshotAttributes(doc.Formatting, op.Position)
		applyAttributesToRange(out.Formatting, op.Position, op.Length, op.Attributes)
	}

	out.Version = doc.Version + 1
	out.Checksum = Checksum(out.Content)
	out.LastModified = nowMillis()
	return out, applied, nil
}

var nowMillis = func() int64 { return time.Now().UnixMilli() }

// NowMillis returns the current wall-clock time in milliseconds since the
// epoch, the same clock Apply uses internally, exposed so other packages
// (the session manager, the controller) stamp timestamps consistently.
func NowMillis() int64 { return nowMillis() }

func shiftFormattingForInsert(src map[int]*Attributes, pos, n int) map[int]*Attributes {
	out := make(map[int]*Attributes, len(src))
	for k, v := range src {
		if k >= pos {
			out[k+n] = v.Clone()
		} else {
			out[k] = v.Clone()
		}
	}
	return out
}

func shiftFormattingForDelete(src map[int]*Attributes, pos, length int) map[int]*Attributes {
	out := make(map[int]*Attributes, len(src))
	for k, v := range src {
		switch {
		case k < pos:
			out[k] = v.Clone()
		case k >= pos+length:
			out[k-length] = v.Clone()
		default:
			// position removed along with the deleted range.
		}
	}
	return out
}

func snapshotAttributes(formatting map[int]*Attributes, pos int) *Attributes {
	if v, ok := formatting[pos]; ok {
		return v.Clone()
	}
	return nil
}

func applyAttributesToRange(formatting map[int]*Attributes, pos, length int, attrs *Attributes) {
	if attrs == nil {
		return
	}
	for i := pos; i < pos+length; i++ {
		formatting[i] = formatting[i].Merge(attrs)
	}
}

// Inverse returns an operation that, applied to the post-state, restores
// the pre-state (spec §4.2). It fails with ErrNonInvertible if the
// operation lacks the data Apply would have captured.
func Inverse(op Operation, preDoc *DocumentState) (Operation, error) {
	switch op.Kind {
	case KindInsert:
		return Operation{
			Kind:     KindDelete,
			Position: op.Position,
			Length:   len([]rune(op.Content)),
			Metadata: op.Metadata.Clone(),
		}, nil
	case KindDelete:
		if op.Length > 0 && op.DeletedContent == "" {
			return Operation{}, ErrNonInvertible
		}
		return Operation{
			Kind:     KindInsert,
			Position: op.Position,
			Content:  op.DeletedContent,
			Metadata: op.Metadata.Clone(),
		}, nil
	case KindRetain:
		if op.Attributes == nil {
			return Operation{Kind: KindRetain, Position: op.Position, Length: op.Length, Metadata: op.Metadata.Clone()}, nil
		}
		return Operation{
			Kind:       KindRetain,
			Position:   op.Position,
			Length:     op.Length,
			Attributes: op.OldAttributes.Clone(),
			Metadata:   op.Metadata.Clone(),
		}, nil
	case KindFormat:
		return Operation{
			Kind:       KindFormat,
			Position:   op.Position,
			Length:     op.Length,
			Attributes: op.OldAttributes.Clone(),
			Metadata:   op.Metadata.Clone(),
		}, nil
	}
	return Operation{}, ErrNonInvertible
}
