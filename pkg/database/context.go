package database

import (
	"context"
)

type contextKey string

const (
	// ScopeKey is the context key for storing the request-scoped database connection.
	ScopeKey contextKey = "dbScope"
)

// GetScope retrieves the scoped database connection from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// SetScope stores the scoped database connection in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// ScopeProvider opens a scoped context for one unit of work. Services and
// the watchdog acquire their connections through it.
type ScopeProvider interface {
	WithScopeContext(ctx context.Context) (context.Context, func(), error)
}

// PoolScopeProvider acquires scopes from a DB pool.
type PoolScopeProvider struct {
	db *DB
}

var _ ScopeProvider = (*PoolScopeProvider)(nil)

// NewScopeProvider creates a PoolScopeProvider for the given database.
func NewScopeProvider(db *DB) *PoolScopeProvider {
	return &PoolScopeProvider{db: db}
}

// WithScopeContext returns a context carrying a fresh scope. If ctx already
// carries one it is reused and the cleanup is a no-op.
func (p *PoolScopeProvider) WithScopeContext(ctx context.Context) (context.Context, func(), error) {
	if _, ok := GetScope(ctx); ok {
		return ctx, func() {}, nil
	}
	scope, err := p.db.WithScope(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetScope(ctx, scope), scope.Close, nil
}
