// Package partition implements a single partition's lifecycle: the ordered
// transition between Raft roles, and the actor that drives those
// transitions off role-change, admin, and health signals. It depends on
// pkg/raftpartition for the Raft collaborator boundary and never imports
// hashicorp/raft directly.
package partition

import "github.com/cuemby/brokerd/pkg/raftpartition"

// Role, Term, and Position are re-exported from pkg/raftpartition rather
// than redefined: pkg/raftpartition already owns the Raft-derived identity
// of a partition, and aliasing here keeps the dependency one-directional
// (partition depends on raftpartition, never the reverse) while still
// giving this package its own named surface for the types.
type (
	Role     = raftpartition.Role
	Term     = raftpartition.Term
	Position = raftpartition.Position
)

const (
	RoleInactive   = raftpartition.RoleInactive
	RolePassive    = raftpartition.RolePassive
	RolePromotable = raftpartition.RolePromotable
	RoleCandidate  = raftpartition.RoleCandidate
	RoleFollower   = raftpartition.RoleFollower
	RoleLeader     = raftpartition.RoleLeader
)
