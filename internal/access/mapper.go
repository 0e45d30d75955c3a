// Package access translates source-system access lists into the knowledge
// store's access-control representation. Mapping is a pure function of the
// source ACL snapshot and the prior record; callers persist the result.
package access

import (
	"sort"

	"github.com/driftsync/driftsync/internal/drivefeed"
	"github.com/driftsync/driftsync/internal/knowledge"
)

// IdentityResolver maps source-system principals onto internal identities.
// Unresolvable principals are skipped: absence from the directory is not
// evidence of anything.
type IdentityResolver interface {
	UserIDByEmail(email string) (string, bool)
	GroupIDByEmail(email string) (string, bool)
}

// Map reconciles the source ACL into an access-control record.
//
// The owner is the sole write principal. The read set is the union of
// resolved source-permitted identities. Group ids present in the prior
// record that this mapper did not add itself (not in priorManaged) are
// manually granted and must survive the merge; overwriting them would
// silently revoke access on the next incremental pass.
//
// Returns the merged record and the new managed-group set to persist.
func Map(acl drivefeed.SourceACL, ids IdentityResolver, ownerID string, prior knowledge.AccessControl, priorManaged []string) (knowledge.AccessControl, []string) {
	readUsers := map[string]struct{}{}
	managed := map[string]struct{}{}

	if ownerID != "" {
		readUsers[ownerID] = struct{}{}
	}
	for _, entry := range acl.Entries {
		if userID, ok := ids.UserIDByEmail(entry.Email); ok {
			readUsers[userID] = struct{}{}
			continue
		}
		if groupID, ok := ids.GroupIDByEmail(entry.Email); ok {
			managed[groupID] = struct{}{}
		}
	}

	previouslyManaged := map[string]struct{}{}
	for _, groupID := range priorManaged {
		previouslyManaged[groupID] = struct{}{}
	}

	readGroups := map[string]struct{}{}
	for groupID := range managed {
		readGroups[groupID] = struct{}{}
	}
	for _, groupID := range prior.Read.GroupIDs {
		if _, wasManaged := previouslyManaged[groupID]; !wasManaged {
			readGroups[groupID] = struct{}{}
		}
	}

	out := knowledge.AccessControl{
		Read: knowledge.AccessSet{
			UserIDs:  sortedKeys(readUsers),
			GroupIDs: sortedKeys(readGroups),
		},
		Write: knowledge.AccessSet{
			UserIDs:  []string{},
			GroupIDs: []string{},
		},
	}
	if ownerID != "" {
		out.Write.UserIDs = []string{ownerID}
	}
	return out, sortedKeys(managed)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
