package history

import "github.com/kolabdoc/collabedit/internal/ot"

// PrepareUndo implements spec §4.5 undo(): pops the user's undo stack,
// rewrites the inverse's metadata as a fresh event (new operationId,
// parentOperationId linking back to the undone op, fresh timestamp, a
// vector clock stamped only with the acting user's counter — spec §9's
// open question on undo vector clocks, resolved as documented there: the
// undo is a new event, not a replay of the original's clock, and is
// expected to be re-rebased by the transform kernel like any other op).
func PrepareUndo(l *Log, userID string, nowMillis int64, nextOperationID func() string) (ot.Operation, bool) {
	last, ok := l.PopUndo(userID)
	if !ok {
		return ot.Operation{}, false
	}
	inv, err := ot.Inverse(last, nil)
	if err != nil {
		// NonInvertible: treated as "no undo available", silent (spec §7).
		return ot.Operation{}, false
	}
	inv.Metadata = ot.Metadata{
		OperationID:       nextOperationID(),
		UserID:            userID,
		SessionID:         last.Metadata.SessionID,
		Timestamp:         nowMillis,
		VectorClock:       ot.VectorClock{userID: 1},
		ParentOperationID: last.Metadata.OperationID,
	}
	return inv, true
}

// PrepareRedo implements spec §4.5 redo(): pops the user's redo stack and
// returns that operation for re-application, restamped the same way as
// PrepareUndo.
func PrepareRedo(l *Log, userID string, nowMillis int64, nextOperationID func() string) (ot.Operation, bool) {
	top, ok := l.PopRedo(userID)
	if !ok {
		return ot.Operation{}, false
	}
	restamped := top.Clone()
	restamped.Metadata = ot.Metadata{
		OperationID:       nextOperationID(),
		UserID:            userID,
		SessionID:         top.Metadata.SessionID,
		Timestamp:         nowMillis,
		VectorClock:       ot.VectorClock{userID: 1},
		ParentOperationID: top.Metadata.OperationID,
	}
	return restamped, true
}
