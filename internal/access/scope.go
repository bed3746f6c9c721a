package access

// Scope is the set of tenants and deployments a caller may query.
// Every analytics query is constrained to its scope regardless of what
// the request's filter asks for; a caller cannot widen scope through
// filter parameters. An empty scope is a valid resolution result and
// means the caller sees nothing.
type Scope struct {
	TenantIDs     map[string]struct{}
	DeploymentIDs map[string]struct{}
	IsAdmin       bool
}

// NewScope builds a scope from id slices.
func NewScope(tenantIDs, deploymentIDs []string, isAdmin bool) Scope {
	s := Scope{
		TenantIDs:     make(map[string]struct{}, len(tenantIDs)),
		DeploymentIDs: make(map[string]struct{}, len(deploymentIDs)),
		IsAdmin:       isAdmin,
	}
	for _, id := range tenantIDs {
		if id != "" {
			s.TenantIDs[id] = struct{}{}
		}
	}
	for _, id := range deploymentIDs {
		if id != "" {
			s.DeploymentIDs[id] = struct{}{}
		}
	}
	return s
}

// AdminScope returns the unrestricted operator scope.
func AdminScope() Scope {
	return Scope{
		TenantIDs:     map[string]struct{}{},
		DeploymentIDs: map[string]struct{}{},
		IsAdmin:       true,
	}
}

// AllowsTenant reports whether the caller may see the tenant.
func (s Scope) AllowsTenant(tenantID string) bool {
	if s.IsAdmin {
		return true
	}
	_, ok := s.TenantIDs[tenantID]
	return ok
}

// AllowsDeployment reports whether the caller may see the deployment.
func (s Scope) AllowsDeployment(deploymentID string) bool {
	if s.IsAdmin {
		return true
	}
	_, ok := s.DeploymentIDs[deploymentID]
	return ok
}

// IsEmpty reports whether the scope grants no visibility at all.
func (s Scope) IsEmpty() bool {
	return !s.IsAdmin && len(s.TenantIDs) == 0
}

// TenantList returns the allowed tenant ids as a slice. Admin scopes
// return nil, meaning "no tenant restriction".
func (s Scope) TenantList() []string {
	if s.IsAdmin {
		return nil
	}
	out := make([]string, 0, len(s.TenantIDs))
	for id := range s.TenantIDs {
		out = append(out, id)
	}
	return out
}
