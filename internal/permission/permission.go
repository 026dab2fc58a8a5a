package permission

import "strings"

// Role is a chat role carried by a requester.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleModerator   Role = "moderator"
	RoleVIP         Role = "vip"
	RoleSubscriber  Role = "subscriber"
)

// RoleSet is the set of roles a requester holds. Unknown roles are ignored.
type RoleSet map[Role]bool

// NewRoleSet builds a set from role names (case-insensitive).
func NewRoleSet(roles ...Role) RoleSet {
	rs := make(RoleSet, len(roles))
	for _, r := range roles {
		r = Role(strings.ToLower(strings.TrimSpace(string(r))))
		if r != "" {
			rs[r] = true
		}
	}
	return rs
}

func (rs RoleSet) Has(r Role) bool { return rs != nil && rs[r] }

// Names returns the held roles in hierarchy order, for logging.
func (rs RoleSet) Names() []string {
	out := make([]string, 0, len(rs))
	for _, r := range []Role{RoleBroadcaster, RoleModerator, RoleVIP, RoleSubscriber} {
		if rs.Has(r) {
			out = append(out, string(r))
		}
	}
	return out
}

// Policy lists which roles may trigger a capture.
// Everyone short-circuits every other flag.
type Policy struct {
	Everyone    bool `json:"everyone"`
	Broadcaster bool `json:"broadcaster"`
	Moderator   bool `json:"moderator"`
	VIP         bool `json:"vip"`
	Subscriber  bool `json:"subscriber"`
}

// Evaluate reports whether roles satisfy policy.
//
// Roles are hierarchical: broadcaster ⊇ moderator ⊇ vip ⊇ subscriber, so a
// policy that admits moderators also admits the broadcaster.
func Evaluate(policy Policy, roles RoleSet) bool {
	if policy.Everyone {
		return true
	}
	broadcaster := roles.Has(RoleBroadcaster)
	moderator := broadcaster || roles.Has(RoleModerator)
	vip := moderator || roles.Has(RoleVIP)
	subscriber := vip || roles.Has(RoleSubscriber)

	switch {
	case policy.Broadcaster && broadcaster:
		return true
	case policy.Moderator && moderator:
		return true
	case policy.VIP && vip:
		return true
	case policy.Subscriber && subscriber:
		return true
	}
	return false
}
