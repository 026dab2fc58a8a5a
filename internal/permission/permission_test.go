package permission

import "testing"

func TestEvaluateEveryoneAllowsAnyRoles(t *testing.T) {
	p := Policy{Everyone: true}
	for _, rs := range []RoleSet{nil, NewRoleSet(), NewRoleSet(RoleSubscriber), NewRoleSet("unknown")} {
		if !Evaluate(p, rs) {
			t.Fatalf("expected allow for %v", rs)
		}
	}
}

func TestEvaluateModeratorOnly(t *testing.T) {
	p := Policy{Moderator: true}

	cases := []struct {
		name  string
		roles RoleSet
		want  bool
	}{
		{"none", NewRoleSet(), false},
		{"subscriber", NewRoleSet(RoleSubscriber), false},
		{"vip", NewRoleSet(RoleVIP), false},
		{"moderator", NewRoleSet(RoleModerator), true},
		{"broadcaster", NewRoleSet(RoleBroadcaster), true},
	}
	for _, tc := range cases {
		if got := Evaluate(p, tc.roles); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestEvaluateSubscriberIncludesHigherRoles(t *testing.T) {
	p := Policy{Subscriber: true}
	if !Evaluate(p, NewRoleSet(RoleVIP)) {
		t.Fatalf("expected vip to satisfy subscriber policy")
	}
	if Evaluate(p, NewRoleSet("founder")) {
		t.Fatalf("expected unknown role to be treated as not held")
	}
}

func TestEvaluateEmptyPolicyDenies(t *testing.T) {
	if Evaluate(Policy{}, NewRoleSet(RoleBroadcaster)) {
		t.Fatalf("expected deny when no role is admitted")
	}
}

func TestNewRoleSetNormalizes(t *testing.T) {
	rs := NewRoleSet(" Moderator ", "")
	if !rs.Has(RoleModerator) || len(rs) != 1 {
		t.Fatalf("expected {moderator}, got %v", rs)
	}
}
