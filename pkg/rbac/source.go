package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/greenroom-ai/greenroom/pkg/kv"
	"github.com/greenroom-ai/greenroom/pkg/protocol"
)

// rolePermissions grants permission slugs per role. Grants are explicit
// per role, not cumulative by hierarchy level.
var rolePermissions = map[Role][]string{
	RoleSalesperson: {"deals:read"},
	RoleDirector:    {"deals:read"},
	RoleLeadership:  {"deals:read"},
}

// SlugsForRoles resolves a role list to the union of granted permission
// slugs, sorted. Unknown roles grant nothing.
func SlugsForRoles(roles []string) []string {
	seen := make(map[string]bool)
	for _, raw := range roles {
		for _, slug := range rolePermissions[ParseRole(raw)] {
			seen[slug] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	slugs := make([]string, 0, len(seen))
	for slug := range seen {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// KVRoleSource computes permission sets from the role list the identity
// layer maintains under roles:user:{id}. A user without a role record
// holds no slug-gated permissions; that is a valid set, not an error,
// so the gate caches it instead of failing closed.
type KVRoleSource struct {
	store kv.Store
}

func NewKVRoleSource(store kv.Store) *KVRoleSource {
	return &KVRoleSource{store: store}
}

func (s *KVRoleSource) Permissions(ctx context.Context, userID string) (PermissionSet, error) {
	raw, err := s.store.Get(ctx, kv.RolesKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return PermissionSet{}, nil
	}
	if err != nil {
		return PermissionSet{}, err
	}
	var roles []string
	if err := json.Unmarshal([]byte(raw), &roles); err != nil {
		return PermissionSet{}, protocol.Errorf(protocol.KindDataIntegrity, "rbac.source",
			"corrupt role record for user %s: %v", userID, err)
	}
	return PermissionSet{Roles: roles, Slugs: SlugsForRoles(roles)}, nil
}
