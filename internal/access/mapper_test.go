package access

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/driftsync/driftsync/internal/drivefeed"
	"github.com/driftsync/driftsync/internal/knowledge"
)

func testResolver() StaticResolver {
	return StaticResolver{
		Users: map[string]string{
			"alice@example.com": "user-alice",
			"bob@example.com":   "user-bob",
		},
		Groups: map[string]string{
			"eng@example.com": "group-eng",
		},
	}
}

func TestMapOwnerIsSoleWritePrincipal(t *testing.T) {
	acl := drivefeed.SourceACL{
		OwnerEmail: "alice@example.com",
		Entries: []drivefeed.Permission{
			{Email: "alice@example.com", Roles: []string{"owner"}},
			{Email: "bob@example.com", Roles: []string{"read"}},
		},
	}
	mapped, managed := Map(acl, testResolver(), "user-alice", knowledge.AccessControl{}, nil)

	wantRead := []string{"user-alice", "user-bob"}
	if diff := cmp.Diff(wantRead, mapped.Read.UserIDs); diff != "" {
		t.Fatalf("read users mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"user-alice"}, mapped.Write.UserIDs); diff != "" {
		t.Fatalf("write users mismatch (-want +got):\n%s", diff)
	}
	if len(mapped.Write.GroupIDs) != 0 {
		t.Fatalf("expected no write groups, got %v", mapped.Write.GroupIDs)
	}
	if len(managed) != 0 {
		t.Fatalf("expected no managed groups, got %v", managed)
	}
}

func TestMapPreservesManuallyGrantedGroups(t *testing.T) {
	acl := drivefeed.SourceACL{
		Entries: []drivefeed.Permission{
			{Email: "eng@example.com", Roles: []string{"read"}},
		},
	}
	prior := knowledge.AccessControl{
		Read: knowledge.AccessSet{
			UserIDs: []string{"user-alice"},
			// group-admins was granted by hand, group-eng by a prior mapper run.
			GroupIDs: []string{"group-admins", "group-eng"},
		},
	}

	mapped, managed := Map(acl, testResolver(), "user-alice", prior, []string{"group-eng"})
	wantGroups := []string{"group-admins", "group-eng"}
	if diff := cmp.Diff(wantGroups, mapped.Read.GroupIDs); diff != "" {
		t.Fatalf("read groups mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"group-eng"}, managed); diff != "" {
		t.Fatalf("managed set mismatch (-want +got):\n%s", diff)
	}

	// Repeated runs with an unchanged ACL must keep converging on the same
	// answer instead of eroding the manual grant.
	for i := 0; i < 3; i++ {
		mapped, managed = Map(acl, testResolver(), "user-alice", mapped, managed)
	}
	if diff := cmp.Diff(wantGroups, mapped.Read.GroupIDs); diff != "" {
		t.Fatalf("groups drifted across repeated runs (-want +got):\n%s", diff)
	}
}

func TestMapDropsManagedGroupRemovedUpstream(t *testing.T) {
	prior := knowledge.AccessControl{
		Read: knowledge.AccessSet{GroupIDs: []string{"group-eng"}},
	}
	// The source ACL no longer grants eng@, and group-eng was mapper managed.
	mapped, managed := Map(drivefeed.SourceACL{}, testResolver(), "user-alice", prior, []string{"group-eng"})
	if len(mapped.Read.GroupIDs) != 0 {
		t.Fatalf("expected managed group revoked with the source, got %v", mapped.Read.GroupIDs)
	}
	if len(managed) != 0 {
		t.Fatalf("expected empty managed set, got %v", managed)
	}
}

func TestMapSkipsUnresolvablePrincipals(t *testing.T) {
	acl := drivefeed.SourceACL{
		Entries: []drivefeed.Permission{
			{Email: "ghost@example.com", Roles: []string{"read"}},
		},
	}
	mapped, _ := Map(acl, testResolver(), "user-alice", knowledge.AccessControl{}, nil)
	if diff := cmp.Diff([]string{"user-alice"}, mapped.Read.UserIDs); diff != "" {
		t.Fatalf("expected only the owner, got (-want +got):\n%s", diff)
	}
}
