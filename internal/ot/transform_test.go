package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(user string, ts int64, vc VectorClock) Metadata {
	return Metadata{
		OperationID: "op-" + user + "-" + itoa(ts),
		UserID:      user,
		SessionID:   "sess-1",
		Timestamp:   ts,
		VectorClock: vc,
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// S1 — concurrent insert at different positions.
func TestScenarioS1ConcurrentInsertDifferentPositions(t *testing.T) {
	doc := NewDocumentState("doc-1", 0)
	doc.Content = "hello world"
	doc.Version = 1

	alice := Operation{Kind: KindInsert, Position: 0, Content: "X", Metadata: meta("alice", 1, VectorClock{"alice": 1})}
	bob := Operation{Kind: KindInsert, Position: 11, Content: "Y", Metadata: meta("bob", 1, VectorClock{"bob": 1})}

	// Server applies Alice first, so Bob's op is rebased against Alice's.
	afterAlice, _, err := Apply(alice, doc)
	require.NoError(t, err)
	assert.Equal(t, "Xhello world", afterAlice.Content)

	bobPrime := TransformAgainst(bob, []Operation{alice})
	afterBob, _, err := Apply(bobPrime, afterAlice)
	require.NoError(t, err)

	assert.Equal(t, "Xhello worldY", afterBob.Content)
	assert.Equal(t, 3, afterBob.Version)
}

// S2 — concurrent insert at same position, tie-break by userId ascending.
func TestScenarioS2TieBreakByUserID(t *testing.T) {
	doc := NewDocumentState("doc-2", 0)

	alice := Operation{Kind: KindInsert, Position: 0, Content: "A", Metadata: meta("alice", 1, VectorClock{"alice": 1})}
	bob := Operation{Kind: KindInsert, Position: 0, Content: "B", Metadata: meta("bob", 1, VectorClock{"bob": 1})}

	require.True(t, Wins(alice, bob), "alice should win the position-0 tie")

	afterAlice, _, err := Apply(alice, doc)
	require.NoError(t, err)

	bobPrime := TransformAgainst(bob, []Operation{alice})
	afterBob, _, err := Apply(bobPrime, afterAlice)
	require.NoError(t, err)

	assert.Equal(t, "AB", afterBob.Content)
	assert.Equal(t, 3, afterBob.Version)
}

// S3 — insert lands inside a concurrent delete's range; the kernel snaps
// the insert to the delete's start and flags a deletion_conflict for the
// resolver.
func TestScenarioS3InsertInsideDeleteSnapsAndFlags(t *testing.T) {
	doc := NewDocumentState("doc-3", 0)
	doc.Content = "abcdef"

	aliceDelete := Operation{Kind: KindDelete, Position: 1, Length: 3, Metadata: meta("alice", 1, VectorClock{"alice": 1})}
	bobInsert := Operation{Kind: KindInsert, Position: 3, Content: "X", Metadata: meta("bob", 2, VectorClock{"bob": 1})}

	rebased := TransformAgainst(bobInsert, []Operation{aliceDelete})
	require.NotEmpty(t, rebased.Conflicts)
	assert.Equal(t, "deletion_conflict", rebased.Conflicts[0].Kind)
	assert.Equal(t, 1, rebased.Position, "insert should snap to the delete's start")
}

// S4 — concurrent overlapping formats merge their attribute sets.
func TestScenarioS4FormatMerge(t *testing.T) {
	boldTrue := true
	italicTrue := true

	aliceFormat := Operation{
		Kind: KindFormat, Position: 0, Length: 5,
		Attributes: &Attributes{Bold: &boldTrue},
		Metadata:   meta("alice", 1, VectorClock{"alice": 1}),
	}
	bobFormat := Operation{
		Kind: KindFormat, Position: 2, Length: 3,
		Attributes: &Attributes{Italic: &italicTrue},
		Metadata:   meta("bob", 1, VectorClock{"bob": 1}),
	}

	rebased := transformOne(bobFormat, aliceFormat)
	require.NotNil(t, rebased.Attributes)
	assert.True(t, *rebased.Attributes.Bold)
	assert.True(t, *rebased.Attributes.Italic)
	assert.NotEmpty(t, rebased.Conflicts)
}

func TestCompareVectorClocks(t *testing.T) {
	cases := []struct {
		name string
		a, b VectorClock
		want ClockOrder
	}{
		{"equal", VectorClock{"a": 1}, VectorClock{"a": 1}, Equal},
		{"before", VectorClock{"a": 1}, VectorClock{"a": 2}, Before},
		{"after", VectorClock{"a": 2}, VectorClock{"a": 1}, After},
		{"concurrent", VectorClock{"a": 2, "b": 0}, VectorClock{"a": 1, "b": 1}, Concurrent},
		{"disjoint-users-before", VectorClock{}, VectorClock{"a": 1}, Before},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CompareVectorClocks(tc.a, tc.b))
		})
	}
}

func TestInsertVsInsertDisjoint(t *testing.T) {
	a := Operation{Kind: KindInsert, Position: 0, Content: "X", Metadata: meta("a", 1, nil)}
	b := Operation{Kind: KindInsert, Position: 5, Content: "YY", Metadata: meta("b", 1, nil)}

	aPrime, bPrime, err := Transform(a, b)
	require.NoError(t, err)
	assert.Equal(t, 0, aPrime.Position)
	assert.Equal(t, 6, bPrime.Position) // shifted by len("X")
}

func TestDeleteVsDeleteDisjoint(t *testing.T) {
	a := Operation{Kind: KindDelete, Position: 10, Length: 2, Metadata: meta("a", 1, nil)}
	b := Operation{Kind: KindDelete, Position: 0, Length: 3, Metadata: meta("b", 1, nil)}

	aPrime, bPrime, err := Transform(a, b)
	require.NoError(t, err)
	assert.Equal(t, 7, aPrime.Position) // shifted left by b's length
	assert.Equal(t, 0, bPrime.Position)
}

func TestDeleteVsDeleteOverlapCollapses(t *testing.T) {
	a := Operation{Kind: KindDelete, Position: 0, Length: 5, Metadata: meta("a", 1, nil)}
	b := Operation{Kind: KindDelete, Position: 0, Length: 5, Metadata: meta("b", 1, nil)}

	aPrime := transformOne(a, b)
	assert.Equal(t, 0, aPrime.Length)
	assert.True(t, aPrime.IsNoop())
}

// P2 — apply(inverse(op, S), apply(op, S)) == S for invertible ops.
func TestInverseRestoresState(t *testing.T) {
	doc := NewDocumentState("doc-p2", 0)
	doc.Content = "hello"

	op := Operation{Kind: KindInsert, Position: 5, Content: " world", Metadata: meta("a", 1, nil)}
	after, applied, err := Apply(op, doc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", after.Content)

	inv, err := Inverse(applied, doc)
	require.NoError(t, err)

	restored, _, err := Apply(inv, after)
	require.NoError(t, err)
	assert.Equal(t, doc.Content, restored.Content)
}

func TestInverseDeleteNonInvertibleWithoutCapture(t *testing.T) {
	op := Operation{Kind: KindDelete, Position: 0, Length: 3, Metadata: meta("a", 1, nil)}
	_, err := Inverse(op, NewDocumentState("d", 0))
	require.ErrorIs(t, err, ErrNonInvertible)
}

func TestValidateRejectsStructuralIssues(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
	}{
		{"negative position", Operation{Kind: KindInsert, Position: -1, Content: "x", Metadata: meta("a", 1, nil)}},
		{"zero length delete", Operation{Kind: KindDelete, Position: 0, Length: 0, Metadata: meta("a", 1, nil)}},
		{"missing operationId", Operation{Kind: KindInsert, Position: 0, Content: "x", Metadata: Metadata{UserID: "a"}}},
		{"missing userId", Operation{Kind: KindInsert, Position: 0, Content: "x", Metadata: Metadata{OperationID: "op"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Validate(tc.op)
			assert.False(t, res.Valid())
		})
	}
}

func TestValidateWarnsOnLargeContent(t *testing.T) {
	big := make([]byte, WarnContentLength+1)
	for i := range big {
		big[i] = 'x'
	}
	op := Operation{Kind: KindInsert, Position: 0, Content: string(big), Metadata: meta("a", 1, nil)}
	res := Validate(op)
	require.True(t, res.Valid())
	require.Len(t, res.Issues, 1)
	assert.Equal(t, SeverityWarning, res.Issues[0].Severity)
}

func TestCacheMemoizesTransform(t *testing.T) {
	c := NewCache()
	a := Operation{Kind: KindInsert, Position: 0, Content: "a", Metadata: meta("a", 1, nil)}
	b := Operation{Kind: KindInsert, Position: 0, Content: "b", Metadata: meta("b", 1, nil)}

	_, _, err := c.Transform(a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	_, _, err = c.Transform(a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestGenerateUserColorDeterministic(t *testing.T) {
	c1 := GenerateUserColor("alice")
	c2 := GenerateUserColor("alice")
	assert.Equal(t, c1, c2)
}

func TestChecksumDeterministic(t *testing.T) {
	assert.Equal(t, Checksum("hello"), Checksum("hello"))
	assert.NotEqual(t, Checksum("hello"), Checksum("world"))
}
