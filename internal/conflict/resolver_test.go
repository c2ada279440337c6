package conflict

import (
	"testing"

	"github.com/kolabdoc/collabedit/internal/ot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(user string, ts int64) ot.Metadata {
	return ot.Metadata{OperationID: "op-" + user, UserID: user, SessionID: "s1", Timestamp: ts}
}

// S3 — "with default merge, Bob's insert survives: content 'aXef', version
// 3" — verified here regardless of which operation the session manager
// happened to treat as historical vs incoming.
func TestScenarioS3MergeInsertSurvives(t *testing.T) {
	aliceDelete := ot.Operation{Kind: ot.KindDelete, Position: 1, Length: 3, Metadata: meta("alice", 1)}
	bobInsert := ot.Operation{Kind: ot.KindInsert, Position: 3, Content: "X", Metadata: meta("bob", 2)}

	r := NewResolver(StrategyMerge)

	// Bob's insert arrives after Alice's delete is already history.
	res1 := r.Resolve("s1", bobInsert, aliceDelete, RoleEditor, RoleEditor)
	assert.Equal(t, ot.KindInsert, res1.Resolved.Kind)
	assert.Equal(t, 1, res1.Resolved.Position)
	require.Len(t, res1.Alternatives, 1)
	assert.Equal(t, 2, res1.Alternatives[0].Position)
	assert.Equal(t, 3, res1.Alternatives[0].Length)

	doc := ot.NewDocumentState("doc-s3", 0)
	doc.Content = "abcdef"
	afterInsert, appliedInsert, err := ot.Apply(res1.Resolved, doc)
	require.NoError(t, err)
	afterDelete, _, err := ot.Apply(res1.Alternatives[0], afterInsert)
	require.NoError(t, err)
	assert.Equal(t, "aXef", afterDelete.Content)
	assert.Equal(t, 3, afterDelete.Version)
	assert.Equal(t, "X", appliedInsert.Content)

	// Same collision, roles reversed (Alice's delete arrives second): the
	// resolver must converge on the identical outcome.
	res2 := r.Resolve("s1", aliceDelete, bobInsert, RoleEditor, RoleEditor)
	assert.Equal(t, ot.KindInsert, res2.Resolved.Kind)
	assert.Equal(t, 1, res2.Resolved.Position)
}

func TestClientWinsReturnsIncomingUnchanged(t *testing.T) {
	incoming := ot.Operation{Kind: ot.KindInsert, Position: 5, Content: "hi", Metadata: meta("a", 1)}
	historical := ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "zzz", Metadata: meta("b", 1)}

	r := NewResolver(StrategyClientWins)
	res := r.Resolve("s1", incoming, historical, RoleEditor, RoleEditor)
	assert.Equal(t, incoming, res.Resolved)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestServerWinsReturnsHistorical(t *testing.T) {
	incoming := ot.Operation{Kind: ot.KindInsert, Position: 5, Content: "hi", Metadata: meta("a", 1)}
	historical := ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "zzz", Metadata: meta("b", 1)}

	r := NewResolver(StrategyServerWins)
	res := r.Resolve("s1", incoming, historical, RoleEditor, RoleEditor)
	assert.Equal(t, historical, res.Resolved)
}

func TestUserPriorityPrefersHigherRole(t *testing.T) {
	incoming := ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "x", Metadata: meta("viewer-user", 1)}
	historical := ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "y", Metadata: meta("owner-user", 1)}

	r := NewResolver(StrategyUserPriority)
	res := r.Resolve("s1", incoming, historical, RoleViewer, RoleOwner)
	assert.NotEqual(t, incoming, res.Resolved, "lower-ranked incoming op should be rebased, not kept verbatim")
}

func TestSelectStrategyHonorsSessionOverride(t *testing.T) {
	r := NewResolver(StrategyMerge)
	r.SetSessionStrategy("s1", StrategyServerWins)
	got := r.SelectStrategy("s1", ot.Operation{}, ot.Operation{}, RoleEditor, RoleEditor)
	assert.Equal(t, StrategyServerWins, got)
}

func TestMergeFormatFormatUnionsAttributes(t *testing.T) {
	boldTrue, italicTrue := true, true
	incoming := ot.Operation{
		Kind: ot.KindFormat, Position: 2, Length: 3,
		Attributes: &ot.Attributes{Italic: &italicTrue},
		Metadata:   meta("bob", 1),
	}
	historical := ot.Operation{
		Kind: ot.KindFormat, Position: 0, Length: 5,
		Attributes: &ot.Attributes{Bold: &boldTrue},
		Metadata:   meta("alice", 1),
	}

	r := NewResolver(StrategyMerge)
	res := r.Resolve("s1", incoming, historical, RoleEditor, RoleEditor)
	require.NotNil(t, res.Resolved.Attributes)
	assert.True(t, *res.Resolved.Attributes.Bold)
	assert.True(t, *res.Resolved.Attributes.Italic)
}

// Same-key, non-boolean collision: the operation with the later timestamp
// must win regardless of which side is "incoming" vs "historical", so both
// replicas converge on the same color (spec §4.3, TP1).
func TestMergeFormatFormatNonBooleanTakesLaterTimestamp(t *testing.T) {
	red, blue := "red", "blue"
	earlier := ot.Operation{
		Kind: ot.KindFormat, Position: 0, Length: 5,
		Attributes: &ot.Attributes{Color: &red},
		Metadata:   meta("alice", 1),
	}
	later := ot.Operation{
		Kind: ot.KindFormat, Position: 2, Length: 5,
		Attributes: &ot.Attributes{Color: &blue},
		Metadata:   meta("bob", 2),
	}

	r := NewResolver(StrategyMerge)

	// later arrives as "incoming".
	res1 := r.Resolve("s1", later, earlier, RoleEditor, RoleEditor)
	require.NotNil(t, res1.Resolved.Attributes)
	require.NotNil(t, res1.Resolved.Attributes.Color)
	assert.Equal(t, blue, *res1.Resolved.Attributes.Color)

	// same pair, roles reversed: later op is now "historical". The outcome
	// must still be blue, not whichever side happened to be "incoming".
	res2 := r.Resolve("s1", earlier, later, RoleEditor, RoleEditor)
	require.NotNil(t, res2.Resolved.Attributes)
	require.NotNil(t, res2.Resolved.Attributes.Color)
	assert.Equal(t, blue, *res2.Resolved.Attributes.Color)
}

// SelectStrategy must actually dispatch per spec §4.3's heuristic when the
// session's effective strategy is the ambiguous "merge" default, not just
// echo it back.
func TestSelectStrategyDispatchesByConflictShape(t *testing.T) {
	r := NewResolver(StrategyMerge)

	overlappingDelete := ot.Operation{
		Kind: ot.KindDelete, Position: 0, Length: 5,
		Metadata:  meta("a", 1),
		Conflicts: []ot.ConflictAnnotation{{Kind: "overlapping_delete"}},
	}
	assert.Equal(t, StrategyTimestampPriority,
		r.SelectStrategy("s1", overlappingDelete, ot.Operation{}, RoleEditor, RoleEditor))

	structuralInsert := ot.Operation{
		Kind: ot.KindInsert, Position: 2, Content: "function f() {}",
		Metadata:  meta("a", 1),
		Conflicts: []ot.ConflictAnnotation{{Kind: "deletion_conflict"}},
	}
	assert.Equal(t, StrategyInteractive,
		r.SelectStrategy("s1", structuralInsert, ot.Operation{}, RoleEditor, RoleEditor))

	proseInsert := ot.Operation{
		Kind: ot.KindInsert, Position: 2, Content: "hello there",
		Metadata:  meta("a", 1),
		Conflicts: []ot.ConflictAnnotation{{Kind: "deletion_conflict"}},
	}
	assert.Equal(t, StrategyMerge,
		r.SelectStrategy("s1", proseInsert, ot.Operation{}, RoleEditor, RoleEditor))

	concurrentA := ot.Operation{Kind: ot.KindInsert, Position: 0, Metadata: ot.Metadata{VectorClock: ot.VectorClock{"a": 2, "b": 1}}}
	concurrentB := ot.Operation{Kind: ot.KindDelete, Position: 0, Metadata: ot.Metadata{VectorClock: ot.VectorClock{"a": 1, "b": 2}}}
	assert.Equal(t, StrategyUserPriority, r.SelectStrategy("s1", concurrentA, concurrentB, RoleEditor, RoleEditor))
}

// An explicit non-merge default (or session override) must never be
// second-guessed by the heuristic, only the ambiguous "merge" default is
// refined further.
func TestSelectStrategyExplicitDefaultBypassesHeuristic(t *testing.T) {
	r := NewResolver(StrategyClientWins)
	overlappingDelete := ot.Operation{
		Kind:      ot.KindDelete,
		Conflicts: []ot.ConflictAnnotation{{Kind: "overlapping_delete"}},
	}
	assert.Equal(t, StrategyClientWins, r.SelectStrategy("s1", overlappingDelete, ot.Operation{}, RoleEditor, RoleEditor))
}

// content_aware must actually classify the session's document content in
// production, not always default to plain text (reviewer-flagged: Resolve
// previously called apply() which passed no class at all).
func TestResolveClassifiesRealDocumentContent(t *testing.T) {
	r := NewResolver(StrategyContentAware)

	incoming := ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "x", Metadata: meta("a", 1)}
	historical := ot.Operation{Kind: ot.KindDelete, Position: 0, Length: 1, Metadata: meta("b", 1)}

	res := r.Resolve("s1", incoming, historical, RoleEditor, RoleEditor, "package main\nfunc main() {}\n")
	assert.Equal(t, StrategyContentAware, res.Strategy)
	assert.Contains(t, res.Annotation, "content_aware")
}

// Rich-text (Format) collisions merge attributes and fall back to
// timestamp_priority only when the merge itself can't converge.
func TestContentAwareRichTextMergesAttributes(t *testing.T) {
	bold := true
	incoming := ot.Operation{
		Kind: ot.KindFormat, Position: 0, Length: 3,
		Attributes: &ot.Attributes{Bold: &bold},
		Metadata:   meta("a", 1),
	}
	historical := ot.Operation{
		Kind: ot.KindFormat, Position: 1, Length: 3,
		Metadata: meta("b", 2),
	}

	res := contentAware(incoming, historical)
	assert.Equal(t, StrategyContentAware, res.Strategy)
	require.NotNil(t, res.Resolved.Attributes)
	assert.True(t, *res.Resolved.Attributes.Bold)
}

func TestMergeDeleteDeleteSameRangeIsUnambiguous(t *testing.T) {
	incoming := ot.Operation{Kind: ot.KindDelete, Position: 0, Length: 5, Metadata: meta("a", 1)}
	historical := ot.Operation{Kind: ot.KindDelete, Position: 0, Length: 5, Metadata: meta("b", 1)}

	r := NewResolver(StrategyMerge)
	res := r.Resolve("s1", incoming, historical, RoleEditor, RoleEditor)
	assert.True(t, res.Resolved.IsNoop())
	assert.Equal(t, 1.0, res.Confidence)
}

func TestClassifyContentDetectsCode(t *testing.T) {
	code := "package main\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n"
	assert.Equal(t, ContentCode, ClassifyContent(code))
}

func TestClassifyContentDetectsMarkdown(t *testing.T) {
	md := "# Title\n\nSome ```code``` block"
	assert.Equal(t, ContentMarkdown, ClassifyContent(md))
}

func TestClassifyContentDetectsPlainText(t *testing.T) {
	assert.Equal(t, ContentPlainText, ClassifyContent("just some ordinary prose here"))
}

func TestStatsAccumulateAcrossResolutions(t *testing.T) {
	incoming := ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "x", Metadata: meta("a", 1)}
	historical := ot.Operation{Kind: ot.KindInsert, Position: 0, Content: "y", Metadata: meta("b", 1)}

	r := NewResolver(StrategyMerge)
	r.Resolve("s1", incoming, historical, RoleEditor, RoleEditor)
	r.Resolve("s1", incoming, historical, RoleEditor, RoleEditor)

	stats := r.StatsFor("s1")
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByStrategy[StrategyMerge])
	assert.Greater(t, stats.AverageConfidence(), 0.0)
}
