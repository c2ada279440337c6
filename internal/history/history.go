// Package history implements the per-session operation log, per-user
// undo/redo stacks, snapshots, and history compression (spec §4.5).
package history

import (
	"fmt"

	"github.com/kolabdoc/collabedit/internal/ot"
)

// Importance classifies a HistoryNode by the size of its effect.
type Importance string

const (
	ImportanceMinor  Importance = "minor"
	ImportanceNormal Importance = "normal"
	ImportanceMajor  Importance = "major"
)

// NodeMeta carries the human-facing description and classification.
type NodeMeta struct {
	Description string
	Tags        []string
	Importance  Importance
}

// Node is one entry in a session's operationHistory (spec §3 HistoryNode).
type Node struct {
	Operation       ot.Operation
	Inverse         ot.Operation
	HasInverse      bool
	StateBefore     *ot.DocumentState
	StateAfter      *ot.DocumentState
	Timestamp       int64
	UserID          string
	Meta            NodeMeta
}

// DefaultMaxHistorySize is the spec §6 configuration default for
// maxHistorySize.
const DefaultMaxHistorySize = 1000

// DefaultUndoStackSize is the default undo/redo stack cap (spec §4.5).
const DefaultUndoStackSize = 50

// CompressionWindowMillis bounds how close in time two operations from the
// same user must be to be folded together (spec §4.5: "within a 5-second
// window").
const CompressionWindowMillis = 5_000

// Log is a single session's append-only history plus per-user undo/redo
// stacks. It is not safe for concurrent use; callers serialize access the
// same way the session state manager serializes applyOperation.
type Log struct {
	nodes         []Node
	maxSize       int
	undoStacks    map[string][]ot.Operation
	redoStacks    map[string][]ot.Operation
	undoStackSize int
}

// NewLog returns an empty history log.
func NewLog(maxSize, undoStackSize int) *Log {
	if maxSize <= 0 {
		maxSize = DefaultMaxHistorySize
	}
	if undoStackSize <= 0 {
		undoStackSize = DefaultUndoStackSize
	}
	return &Log{
		maxSize:       maxSize,
		undoStacks:    make(map[string][]ot.Operation),
		redoStacks:    make(map[string][]ot.Operation),
		undoStackSize: undoStackSize,
	}
}

// RecordOperation is invoked by the session state manager after a
// successful applyOperation (spec §4.4 step 9, §4.5 recordOperation). It
// computes the inverse, classifies importance, generates a description,
// stores the node, and pushes onto the user's undo stack.
//
// The redo stack is cleared only for a genuine new edit. An undo/redo
// replay carries ParentOperationID (set exclusively by PrepareUndo /
// PrepareRedo, spec §9's undo-linkage field) and must not clear it: Undo()
// already pushed the undone operation onto the redo stack a moment
// earlier in the same call, and clearing it here would make Redo()
// permanently unable to find anything to redo.
func (l *Log) RecordOperation(op ot.Operation, before, after *ot.DocumentState) Node {
	node := Node{
		Operation:   op,
		StateBefore: before,
		StateAfter:  after,
		Timestamp:   op.Metadata.Timestamp,
		UserID:      op.Metadata.UserID,
	}
	if inv, err := ot.Inverse(op, before); err == nil {
		node.Inverse = inv
		node.HasInverse = true
	}
	node.Meta = NodeMeta{
		Description: describe(op),
		Tags:        []string{op.Kind.String()},
		Importance:  classify(op),
	}
	l.nodes = append(l.nodes, node)

	l.pushUndo(op.Metadata.UserID, op)
	if op.Metadata.ParentOperationID == "" {
		l.redoStacks[op.Metadata.UserID] = nil
	}

	if len(l.nodes) > l.maxSize {
		l.CompressOperations()
	}
	return node
}

func (l *Log) pushUndo(userID string, op ot.Operation) {
	stack := append(l.undoStacks[userID], op)
	if len(stack) > l.undoStackSize {
		stack = stack[len(stack)-l.undoStackSize:]
	}
	l.undoStacks[userID] = stack
}

func (l *Log) pushRedo(userID string, op ot.Operation) {
	stack := append(l.redoStacks[userID], op)
	if len(stack) > l.undoStackSize {
		stack = stack[len(stack)-l.undoStackSize:]
	}
	l.redoStacks[userID] = stack
}

// PopUndo pops the top of userID's undo stack, returning ok=false if empty.
func (l *Log) PopUndo(userID string) (ot.Operation, bool) {
	stack := l.undoStacks[userID]
	if len(stack) == 0 {
		return ot.Operation{}, false
	}
	top := stack[len(stack)-1]
	l.undoStacks[userID] = stack[:len(stack)-1]
	l.pushRedo(userID, top)
	return top, true
}

// PopRedo pops the top of userID's redo stack, returning ok=false if empty.
func (l *Log) PopRedo(userID string) (ot.Operation, bool) {
	stack := l.redoStacks[userID]
	if len(stack) == 0 {
		return ot.Operation{}, false
	}
	top := stack[len(stack)-1]
	l.redoStacks[userID] = stack[:len(stack)-1]
	l.pushUndo(userID, top)
	return top, true
}

// Nodes returns the history log in append order. Callers must not mutate
// the returned slice.
func (l *Log) Nodes() []Node {
	return l.nodes
}

// Len reports the number of history entries.
func (l *Log) Len() int {
	return len(l.nodes)
}

// CompressOperations folds consecutive same-user contiguous Insert/Delete
// operations within CompressionWindowMillis into single entries (spec
// §4.4 compressOperations / §4.5 operation merging). Different users'
// operations are never merged; a single length-based trigger is used per
// spec §9's recommendation to avoid the non-commutative interaction
// between time- and length-based triggers.
func (l *Log) CompressOperations() {
	if len(l.nodes) < 2 {
		return
	}
	compressed := make([]Node, 0, len(l.nodes))
	compressed = append(compressed, l.nodes[0])

	for i := 1; i < len(l.nodes); i++ {
		prev := &compressed[len(compressed)-1]
		cur := l.nodes[i]

		if mergeable(*prev, cur) {
			*prev = mergeNodes(*prev, cur)
			continue
		}
		compressed = append(compressed, cur)
	}
	l.nodes = compressed
}

func mergeable(a, b Node) bool {
	if a.UserID != b.UserID {
		return false
	}
	if a.Operation.Kind != b.Operation.Kind {
		return false
	}
	if b.Timestamp-a.Timestamp > CompressionWindowMillis {
		return false
	}
	switch a.Operation.Kind {
	case ot.KindInsert:
		return a.Operation.Position+len([]rune(a.Operation.Content)) == b.Operation.Position
	case ot.KindDelete:
		return a.Operation.Position == b.Operation.Position
	default:
		return false
	}
}

func mergeNodes(a, b Node) Node {
	merged := a
	switch a.Operation.Kind {
	case ot.KindInsert:
		merged.Operation.Content = a.Operation.Content + b.Operation.Content
	case ot.KindDelete:
		merged.Operation.Length = a.Operation.Length + b.Operation.Length
		merged.Operation.DeletedContent = a.Operation.DeletedContent + b.Operation.DeletedContent
	}
	merged.StateAfter = b.StateAfter
	merged.Timestamp = b.Timestamp
	merged.Meta.Description = describe(merged.Operation)
	return merged
}

func classify(op ot.Operation) Importance {
	size := len([]rune(op.Content)) + op.Length
	switch {
	case size > 200:
		return ImportanceMajor
	case size > 20:
		return ImportanceNormal
	default:
		return ImportanceMinor
	}
}

func describe(op ot.Operation) string {
	preview := func(s string) string {
		r := []rune(s)
		if len(r) > 20 {
			return string(r[:20]) + "…"
		}
		return s
	}
	switch op.Kind {
	case ot.KindInsert:
		return fmt.Sprintf("Inserted %q at position %d", preview(op.Content), op.Position)
	case ot.KindDelete:
		return fmt.Sprintf("Deleted %d characters at position %d", op.Length, op.Position)
	case ot.KindFormat:
		return fmt.Sprintf("Formatted %d characters at position %d", op.Length, op.Position)
	case ot.KindRetain:
		return fmt.Sprintf("Retained %d characters at position %d", op.Length, op.Position)
	default:
		return "Unknown operation"
	}
}
