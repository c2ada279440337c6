// Package ot implements the operational-transformation kernel: the
// Insert/Delete/Retain/Format operation model, vector-clock causality
// utilities, pairwise transform, apply/inverse, and structural validation.
//
// The kernel is pure computation — no suspension points, no shared mutable
// state beyond the advisory transform cache (see cache.go) — so that the
// session state manager (internal/session) can call it synchronously from
// inside its per-session serial processor.
package ot

import "fmt"

// Kind discriminates the four operation variants.
type Kind int

const (
	KindInsert Kind = iota
	KindDelete
	KindRetain
	KindFormat
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindRetain:
		return "retain"
	case KindFormat:
		return "format"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ListType enumerates the supported list attribute values.
type ListType string

const (
	ListNone    ListType = ""
	ListBullet  ListType = "bullet"
	ListNumber  ListType = "number"
	ListChecked ListType = "checked"
)

// Align enumerates the supported paragraph alignment values.
type Align string

const (
	AlignNone   Align = ""
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
	AlignJustify Align = "justify"
)

// Attributes is the optional text-style bag carried by Insert/Retain/Format.
// Every field is a pointer so "unset" (nil) is distinguishable from the
// zero value (e.g. bold=false is a real instruction, absent is "unchanged").
type Attributes struct {
	Bold          *bool     `json:"bold,omitempty"`
	Italic        *bool     `json:"italic,omitempty"`
	Underline     *bool     `json:"underline,omitempty"`
	Strikethrough *bool     `json:"strikethrough,omitempty"`
	FontSize      *int      `json:"fontSize,omitempty"`
	FontFamily    *string   `json:"fontFamily,omitempty"`
	Color         *string   `json:"color,omitempty"`
	BackgroundColor *string `json:"backgroundColor,omitempty"`
	Link          *string   `json:"link,omitempty"`
	Heading       *int      `json:"heading,omitempty"` // 1-6
	Align         *Align    `json:"align,omitempty"`
	ListType      *ListType `json:"listType,omitempty"`
	ListLevel     *int      `json:"listLevel,omitempty"`
}

// Clone returns a deep copy of a (possibly nil) Attributes.
func (a *Attributes) Clone() *Attributes {
	if a == nil {
		return nil
	}
	out := *a
	if a.Bold != nil {
		v := *a.Bold
		out.Bold = &v
	}
	if a.Italic != nil {
		v := *a.Italic
		out.Italic = &v
	}
	if a.Underline != nil {
		v := *a.Underline
		out.Underline = &v
	}
	if a.Strikethrough != nil {
		v := *a.Strikethrough
		out.Strikethrough = &v
	}
	if a.FontSize != nil {
		v := *a.FontSize
		out.FontSize = &v
	}
	if a.FontFamily != nil {
		v := *a.FontFamily
		out.FontFamily = &v
	}
	if a.Color != nil {
		v := *a.Color
		out.Color = &v
	}
	if a.BackgroundColor != nil {
		v := *a.BackgroundColor
		out.BackgroundColor = &v
	}
	if a.Link != nil {
		v := *a.Link
		out.Link = &v
	}
	if a.Heading != nil {
		v := *a.Heading
		out.Heading = &v
	}
	if a.Align != nil {
		v := *a.Align
		out.Align = &v
	}
	if a.ListType != nil {
		v := *a.ListType
		out.ListType = &v
	}
	if a.ListLevel != nil {
		v := *a.ListLevel
		out.ListLevel = &v
	}
	return &out
}

// Merge overlays non-nil fields of other onto a copy of a. Boolean fields
// present in both are logically OR-ed (per spec §4.3 format+format merge);
// every other field present in other simply wins.
func (a *Attributes) Merge(other *Attributes) *Attributes {
	base := a.Clone()
	if other == nil {
		return base
	}
	if base == nil {
		return other.Clone()
	}
	orBool := func(x, y *bool) *bool {
		if x == nil {
			return y
		}
		if y == nil {
			return x
		}
		v := *x || *y
		return &v
	}
	base.Bold = orBool(base.Bold, other.Bold)
	base.Italic = orBool(base.Italic, other.Italic)
	base.Underline = orBool(base.Underline, other.Underline)
	base.Strikethrough = orBool(base.Strikethrough, other.Strikethrough)
	if other.FontSize != nil {
		base.FontSize = other.FontSize
	}
	if other.FontFamily != nil {
		base.FontFamily = other.FontFamily
	}
	if other.Color != nil {
		base.Color = other.Color
	}
	if other.BackgroundColor != nil {
		base.BackgroundColor = other.BackgroundColor
	}
	if other.Link != nil {
		base.Link = other.Link
	}
	if other.Heading != nil {
		base.Heading = other.Heading
	}
	if other.Align != nil {
		base.Align = other.Align
	}
	if other.ListType != nil {
		base.ListType = other.ListType
	}
	if other.ListLevel != nil {
		base.ListLevel = other.ListLevel
	}
	return base
}

// VectorClock maps userId to a monotonic per-user counter.
type VectorClock map[string]int64

// Clone returns a shallow-safe copy (map values are scalars).
func (vc VectorClock) Clone() VectorClock {
	if vc == nil {
		return nil
	}
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Metadata is carried by every Operation.
type Metadata struct {
	OperationID       string      `json:"operationId"`
	UserID            string      `json:"userId"`
	SessionID         string      `json:"sessionId"`
	Timestamp         int64       `json:"timestamp"` // ms since epoch
	VectorClock       VectorClock `json:"vectorClock"`
	DocumentVersion   int         `json:"documentVersion"` // pre-application version
	ParentOperationID string      `json:"parentOperationId,omitempty"`
}

// Clone deep-copies Metadata.
func (m Metadata) Clone() Metadata {
	out := m
	out.VectorClock = m.VectorClock.Clone()
	return out
}

// ConflictAnnotation records a semantic collision surfaced by the
// transform kernel, consumed by internal/conflict.
type ConflictAnnotation struct {
	Kind string // e.g. "deletion_conflict", "overlapping_delete", "format_overlap"
}

// Operation is the tagged four-case variant of spec §3.
type Operation struct {
	Kind Kind

	// Insert
	Position   int
	Content    string
	Attributes *Attributes

	// Delete
	Length         int
	DeletedContent string // populated by Apply

	// Format
	OldAttributes *Attributes // populated by Apply

	Metadata  Metadata
	Conflicts []ConflictAnnotation `json:"-"`
}

// Clone deep-copies an Operation.
func (op Operation) Clone() Operation {
	out := op
	out.Attributes = op.Attributes.Clone()
	out.OldAttributes = op.OldAttributes.Clone()
	out.Metadata = op.Metadata.Clone()
	if op.Conflicts != nil {
		out.Conflicts = append([]ConflictAnnotation(nil), op.Conflicts...)
	}
	return out
}

// End returns the exclusive end position touched by the operation
// (meaningful for Delete/Retain/Format; Insert has zero width on the base).
func (op Operation) End() int {
	switch op.Kind {
	case KindInsert:
		return op.Position
	default:
		return op.Position + op.Length
	}
}

// IsNoop reports whether applying the operation would have no observable
// effect (zero-length content/range with no attribute change).
func (op Operation) IsNoop() bool {
	switch op.Kind {
	case KindInsert:
		return op.Content == ""
	case KindDelete:
		return op.Length == 0
	case KindRetain:
		return op.Attributes == nil
	case KindFormat:
		return op.Length == 0
	}
	return false
}
