package authz

import (
	"context"
	"errors"
	"testing"
)

type fakeAuthority struct {
	allowed bool
	err     error

	role    string
	roleErr error

	calls int
}

func (f *fakeAuthority) CheckPermission(ctx context.Context, userID, practiceID, permType, resourceType, resourceID string) (bool, error) {
	f.calls++
	return f.allowed, f.err
}

func (f *fakeAuthority) MemberRole(ctx context.Context, userID, practiceID string) (string, error) {
	return f.role, f.roleErr
}

func newResolver(t *testing.T, authority Authority, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(authority, opts...)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

var allPairs = func() []struct {
	perm     PermissionType
	resource ResourceType
} {
	perms := []PermissionType{PermissionRead, PermissionWrite, PermissionAdmin}
	resources := []ResourceType{ResourceProducts, ResourceInventory, ResourceOrders, ResourceAnalytics, ResourceUsers, ResourceAll}
	var out []struct {
		perm     PermissionType
		resource ResourceType
	}
	for _, p := range perms {
		for _, r := range resources {
			out = append(out, struct {
				perm     PermissionType
				resource ResourceType
			}{p, r})
		}
	}
	return out
}()

func TestHasPermissionNoUser(t *testing.T) {
	authority := &fakeAuthority{allowed: true}
	r := newResolver(t, authority)
	if r.HasPermission(context.Background(), Identity{}, PermissionRead, ResourceProducts, "") {
		t.Fatal("unauthenticated identity was allowed")
	}
	if authority.calls != 0 {
		t.Fatalf("authority consulted %d times for no user", authority.calls)
	}
}

func TestHasPermissionDemoAllowsEverything(t *testing.T) {
	authority := &fakeAuthority{allowed: false}
	r := newResolver(t, authority, WithDemoUsers([]string{"demo-1", " demo-2 "}))
	ident := Identity{UserID: "demo-2", PracticeID: "prak-1"}

	for _, pair := range allPairs {
		if !r.HasPermission(context.Background(), ident, pair.perm, pair.resource, "") {
			t.Fatalf("demo denied %q on %q", pair.perm, pair.resource)
		}
	}
	if authority.calls != 0 {
		t.Fatalf("authority consulted %d times for demo user", authority.calls)
	}
}

func TestHasPermissionNoPracticeFallback(t *testing.T) {
	r := newResolver(t, &fakeAuthority{allowed: true})
	ident := Identity{UserID: "user-1"}

	for _, pair := range allPairs {
		want := pair.perm == PermissionRead &&
			(pair.resource == ResourceProducts || pair.resource == ResourceInventory)
		got := r.HasPermission(context.Background(), ident, pair.perm, pair.resource, "")
		if got != want {
			t.Fatalf("fallback for %q on %q = %v, want %v", pair.perm, pair.resource, got, want)
		}
	}
}

func TestHasPermissionDelegates(t *testing.T) {
	authority := &fakeAuthority{allowed: true}
	r := newResolver(t, authority)
	ident := Identity{UserID: "user-1", PracticeID: "prak-1"}

	if !r.HasPermission(context.Background(), ident, PermissionWrite, ResourceOrders, "ord-1") {
		t.Fatal("authority allow was not honored")
	}
	authority.allowed = false
	if r.HasPermission(context.Background(), ident, PermissionWrite, ResourceOrders, "ord-1") {
		t.Fatal("authority deny was not honored")
	}
}

func TestHasPermissionRemoteFailureFallsBack(t *testing.T) {
	authority := &fakeAuthority{err: errors.New("backend unreachable")}
	r := newResolver(t, authority)
	ident := Identity{UserID: "user-1", PracticeID: "prak-1"}

	if !r.HasPermission(context.Background(), ident, PermissionRead, ResourceInventory, "") {
		t.Fatal("degraded read on inventory denied")
	}
	if r.HasPermission(context.Background(), ident, PermissionWrite, ResourceInventory, "") {
		t.Fatal("degraded write allowed")
	}
	if r.HasPermission(context.Background(), ident, PermissionRead, ResourceUsers, "") {
		t.Fatal("degraded read on users allowed")
	}
}

func TestHasPermissionFailClosed(t *testing.T) {
	authority := &fakeAuthority{err: errors.New("backend unreachable")}
	r := newResolver(t, authority, WithFailClosed(true))
	ident := Identity{UserID: "user-1", PracticeID: "prak-1"}

	for _, pair := range allPairs {
		if r.HasPermission(context.Background(), ident, pair.perm, pair.resource, "") {
			t.Fatalf("fail-closed allowed %q on %q", pair.perm, pair.resource)
		}
	}
}

func TestRequire(t *testing.T) {
	r := newResolver(t, &fakeAuthority{allowed: false})
	ident := Identity{UserID: "user-1", PracticeID: "prak-1"}
	if err := r.Require(context.Background(), ident, PermissionWrite, ResourceProducts, ""); !errors.Is(err, ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}

	allow := newResolver(t, &fakeAuthority{allowed: true})
	if err := allow.Require(context.Background(), ident, PermissionWrite, ResourceProducts, ""); err != nil {
		t.Fatalf("Require on allowed action: %v", err)
	}
}

func TestUserRolePrecedence(t *testing.T) {
	cases := []struct {
		name      string
		ident     Identity
		authority *fakeAuthority
		opts      []Option
		want      Role
		wantOK    bool
	}{
		{"demo is owner", Identity{UserID: "demo-1", PracticeID: "prak-1"}, &fakeAuthority{role: "member"}, []Option{WithDemoUsers([]string{"demo-1"})}, RoleOwner, true},
		{"no practice is guest", Identity{UserID: "user-1"}, &fakeAuthority{role: "owner"}, nil, RoleGuest, true},
		{"no user", Identity{}, &fakeAuthority{}, nil, "", false},
		{"stored role", Identity{UserID: "user-1", PracticeID: "prak-1"}, &fakeAuthority{role: "logistics"}, nil, RoleLogistics, true},
		{"lookup failure degrades to guest", Identity{UserID: "user-1", PracticeID: "prak-1"}, &fakeAuthority{roleErr: errors.New("down")}, nil, RoleGuest, true},
		{"unknown stored role degrades to guest", Identity{UserID: "user-1", PracticeID: "prak-1"}, &fakeAuthority{role: "superuser"}, nil, RoleGuest, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newResolver(t, tc.authority, tc.opts...)
			role, ok := r.UserRole(context.Background(), tc.ident)
			if role != tc.want || ok != tc.wantOK {
				t.Fatalf("UserRole = (%q, %v), want (%q, %v)", role, ok, tc.want, tc.wantOK)
			}
		})
	}
}
