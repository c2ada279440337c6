// Package conflict implements the binary conflict resolver (spec §4.3):
// given two operations the transform kernel has flagged as semantically
// colliding, it selects a strategy and produces a single resolved
// operation plus alternatives and a confidence score.
package conflict

import "github.com/kolabdoc/collabedit/internal/ot"

// Strategy is the closed set of resolution strategies (spec §4.3).
type Strategy string

const (
	StrategyClientWins        Strategy = "client_wins"
	StrategyServerWins        Strategy = "server_wins"
	StrategyMerge             Strategy = "merge"
	StrategyTimestampPriority Strategy = "timestamp_priority"
	StrategyUserPriority      Strategy = "user_priority"
	StrategyInteractive       Strategy = "interactive"
	StrategyContentAware      Strategy = "content_aware"
)

// Role is a participant role used by the user_priority strategy's ranking.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleAdmin        Role = "admin"
	RoleEditor       Role = "editor"
	RoleCollaborator Role = "collaborator"
	RoleViewer       Role = "viewer"
)

var roleRank = map[Role]int{
	RoleOwner:        100,
	RoleAdmin:        80,
	RoleEditor:       60,
	RoleCollaborator: 40,
	RoleViewer:       20,
}

// RoleRank returns the numeric priority for a role (spec §4.3 table);
// unknown roles rank lowest.
func RoleRank(r Role) int {
	if rank, ok := roleRank[r]; ok {
		return rank
	}
	return 0
}

// Resolution is a single conflict's outcome (spec §4.3 ConflictResolution).
type Resolution struct {
	Resolved        ot.Operation
	Alternatives    []ot.Operation
	Confidence      float64
	Strategy        Strategy
	RequiresReview  bool
	Annotation      string
}
