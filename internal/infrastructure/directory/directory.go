// Package directory resolves roles from static membership configuration
package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/garyjia/wfm-approvals/internal/application/port"
)

// RoleManager is resolved relative to the requester through Config.Managers
const RoleManager = "manager"

// Config lists role members and each user's manager
type Config struct {
	Roles    map[string][]string `mapstructure:"roles"`
	Managers map[string]string   `mapstructure:"managers"`
}

// Directory is an in-memory identity directory. Replace swaps the whole
// membership atomically, so it can be reloaded while requests run.
type Directory struct {
	mu       sync.RWMutex
	members  map[string][]string
	roles    map[string][]string
	managers map[string]string
}

var (
	_ port.IdentityResolver = (*Directory)(nil)
	_ port.RoleLookup       = (*Directory)(nil)
)

// New creates a Directory from cfg
func New(cfg Config) *Directory {
	d := &Directory{}
	d.Replace(cfg)
	return d
}

// Replace installs new membership
func (d *Directory) Replace(cfg Config) {
	members := make(map[string][]string, len(cfg.Roles))
	roles := make(map[string][]string)
	for role, users := range cfg.Roles {
		members[role] = dedupe(users)
		for _, u := range members[role] {
			roles[u] = append(roles[u], role)
		}
	}
	for u := range roles {
		sort.Strings(roles[u])
	}

	managers := make(map[string]string, len(cfg.Managers))
	for user, mgr := range cfg.Managers {
		managers[user] = mgr
	}

	d.mu.Lock()
	d.members, d.roles, d.managers = members, roles, managers
	d.mu.Unlock()
}

// ResolveRole returns the members of role. The manager role resolves to the
// requester's manager.
func (d *Directory) ResolveRole(_ context.Context, role string, rc port.RoleContext) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if role == RoleManager {
		if mgr, ok := d.managers[rc.Requester]; ok && mgr != "" {
			return []string{mgr}, nil
		}
	}
	return append([]string(nil), d.members[role]...), nil
}

// RolesOf returns the roles userID holds, sorted. Users managing someone
// also hold the manager role.
func (d *Directory) RolesOf(_ context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	roles := append([]string(nil), d.roles[userID]...)
	for _, mgr := range d.managers {
		if mgr == userID && !contains(roles, RoleManager) {
			roles = append(roles, RoleManager)
			sort.Strings(roles)
			break
		}
	}
	return roles, nil
}

func dedupe(users []string) []string {
	seen := make(map[string]bool, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
