package access

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/voxlane/voxlane-platform/pkg/logging"
)

// Resolver answers "which tenants and deployments may this caller see".
// It is a pure read of authorization state: membership rows plus the
// deployments under each allowed tenant. Resolutions are cached in
// Redis for a short TTL so the dashboard's burst of queries per page
// load does not hammer the membership tables.
type Resolver struct {
	db     *sql.DB
	cache  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewResolver creates a resolver. cache may be nil to disable caching.
func NewResolver(db *sql.DB, cache *redis.Client, ttl time.Duration, logger *logging.Logger) *Resolver {
	if db == nil {
		panic("access: sql db required for resolver")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Resolver{db: db, cache: cache, ttl: ttl, logger: logger}
}

// cachedScope is the Redis serialization of a resolved scope.
type cachedScope struct {
	TenantIDs     []string `json:"tenant_ids"`
	DeploymentIDs []string `json:"deployment_ids"`
	IsAdmin       bool     `json:"is_admin"`
}

func scopeCacheKey(callerID string) string {
	return "voxlane:scope:" + callerID
}

// Resolve returns the caller's access scope. An unknown caller resolves
// to an empty scope, not an error.
func (r *Resolver) Resolve(ctx context.Context, callerID string) (Scope, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return Scope{}, fmt.Errorf("access: caller id required")
	}

	if cached, ok := r.fromCache(ctx, callerID); ok {
		return cached, nil
	}

	scope, err := r.resolveFromDB(ctx, callerID)
	if err != nil {
		return Scope{}, err
	}

	r.toCache(ctx, callerID, scope)
	return scope, nil
}

func (r *Resolver) resolveFromDB(ctx context.Context, callerID string) (Scope, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tenant_id, role FROM tenant_members WHERE caller_id = $1`, callerID,
	)
	if err != nil {
		return Scope{}, fmt.Errorf("access: query memberships: %w", err)
	}
	defer rows.Close()

	var tenantIDs []string
	isAdmin := false
	for rows.Next() {
		var tenantID, role string
		if err := rows.Scan(&tenantID, &role); err != nil {
			return Scope{}, fmt.Errorf("access: scan membership: %w", err)
		}
		if role == "operator_admin" {
			isAdmin = true
		}
		tenantIDs = append(tenantIDs, tenantID)
	}
	if err := rows.Err(); err != nil {
		return Scope{}, fmt.Errorf("access: iterate memberships: %w", err)
	}

	if isAdmin {
		return AdminScope(), nil
	}
	if len(tenantIDs) == 0 {
		return NewScope(nil, nil, false), nil
	}

	depRows, err := r.db.QueryContext(ctx,
		`SELECT id FROM deployments WHERE tenant_id = ANY($1)`, pq.Array(tenantIDs),
	)
	if err != nil {
		return Scope{}, fmt.Errorf("access: query deployments: %w", err)
	}
	defer depRows.Close()

	var deploymentIDs []string
	for depRows.Next() {
		var id string
		if err := depRows.Scan(&id); err != nil {
			return Scope{}, fmt.Errorf("access: scan deployment: %w", err)
		}
		deploymentIDs = append(deploymentIDs, id)
	}
	if err := depRows.Err(); err != nil {
		return Scope{}, fmt.Errorf("access: iterate deployments: %w", err)
	}

	return NewScope(tenantIDs, deploymentIDs, false), nil
}

func (r *Resolver) fromCache(ctx context.Context, callerID string) (Scope, bool) {
	if r.cache == nil {
		return Scope{}, false
	}
	raw, err := r.cache.Get(ctx, scopeCacheKey(callerID)).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("scope cache read failed", "caller_id", callerID, "error", err)
		}
		return Scope{}, false
	}
	var cs cachedScope
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		r.logger.Warn("scope cache entry corrupt", "caller_id", callerID, "error", err)
		return Scope{}, false
	}
	if cs.IsAdmin {
		return AdminScope(), true
	}
	return NewScope(cs.TenantIDs, cs.DeploymentIDs, false), true
}

func (r *Resolver) toCache(ctx context.Context, callerID string, scope Scope) {
	if r.cache == nil {
		return
	}
	cs := cachedScope{
		TenantIDs:     scope.TenantList(),
		DeploymentIDs: make([]string, 0, len(scope.DeploymentIDs)),
		IsAdmin:       scope.IsAdmin,
	}
	for id := range scope.DeploymentIDs {
		cs.DeploymentIDs = append(cs.DeploymentIDs, id)
	}
	sort.Strings(cs.TenantIDs)
	sort.Strings(cs.DeploymentIDs)

	raw, err := json.Marshal(cs)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, scopeCacheKey(callerID), raw, r.ttl).Err(); err != nil {
		r.logger.Warn("scope cache write failed", "caller_id", callerID, "error", err)
	}
}

// Invalidate drops a caller's cached scope, e.g. after membership edits.
func (r *Resolver) Invalidate(ctx context.Context, callerID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, scopeCacheKey(callerID)).Err(); err != nil {
		r.logger.Warn("scope cache invalidate failed", "caller_id", callerID, "error", err)
	}
}
