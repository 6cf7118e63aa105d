package sync

import (
	"context"

	"recordsync/internal/record"
)

// Resolver produces a resolution for a conflict. Resolvers are stateless or
// self-contained; the resolution manager owns the ordered chain.
type Resolver interface {
	// Name identifies the resolver in history entries and logs.
	Name() string

	// CanHandle reports whether this resolver applies to the conflict.
	CanHandle(conflict *record.SyncConflict) bool

	// Priority orders the chain; higher values are consulted first.
	Priority() int

	// Resolve produces the resolution, or an error when the input is
	// unresolvable (for example a payload that does not decode).
	Resolve(ctx context.Context, cc *record.ConflictContext) (record.ResolutionResult, error)
}

// Compile-time checks that the built-in resolvers satisfy Resolver.
var (
	_ Resolver = (*LastWriteWinsResolver)(nil)
	_ Resolver = (*ServerWinsResolver)(nil)
	_ Resolver = (*ClientWinsResolver)(nil)
	_ Resolver = (*PropertyMergeResolver)(nil)
	_ Resolver = (*FieldMergeResolver)(nil)
	_ Resolver = (*ThreeWayMergeResolver)(nil)
)

// LastWriteWinsResolver selects the side with the strictly later modification
// time. The local replica wins only if its local-modified time is strictly
// greater than the remote's server-modified time (absent server time counts
// as the distant past); ties resolve to remote.
type LastWriteWinsResolver struct {
	ChainPriority int
}

func (r *LastWriteWinsResolver) Name() string { return "last_write_wins" }

func (r *LastWriteWinsResolver) CanHandle(*record.SyncConflict) bool { return true }

func (r *LastWriteWinsResolver) Priority() int { return r.ChainPriority }

func (r *LastWriteWinsResolver) Resolve(_ context.Context, cc *record.ConflictContext) (record.ResolutionResult, error) {
	local := cc.Conflict.Local
	remote := cc.Conflict.Remote
	if local.LocalModified.After(remote.ServerModified) {
		return record.ResolveLocal(), nil
	}
	return record.ResolveRemote(), nil
}

// ServerWinsResolver unconditionally keeps the remote version.
type ServerWinsResolver struct {
	ChainPriority int
}

func (r *ServerWinsResolver) Name() string { return "server_wins" }

func (r *ServerWinsResolver) CanHandle(*record.SyncConflict) bool { return true }

func (r *ServerWinsResolver) Priority() int { return r.ChainPriority }

func (r *ServerWinsResolver) Resolve(context.Context, *record.ConflictContext) (record.ResolutionResult, error) {
	return record.ResolveRemote(), nil
}

// ClientWinsResolver unconditionally keeps the local version.
type ClientWinsResolver struct {
	ChainPriority int
}

func (r *ClientWinsResolver) Name() string { return "client_wins" }

func (r *ClientWinsResolver) CanHandle(*record.SyncConflict) bool { return true }

func (r *ClientWinsResolver) Priority() int { return r.ChainPriority }

func (r *ClientWinsResolver) Resolve(context.Context, *record.ConflictContext) (record.ResolutionResult, error) {
	return record.ResolveLocal(), nil
}

// FuncResolver adapts a plain function into a Resolver; useful for tests and
// for callers that want an inline catch-all or type-scoped policy.
type FuncResolver struct {
	ResolverName  string
	ChainPriority int
	Handles       func(*record.SyncConflict) bool
	Fn            func(ctx context.Context, cc *record.ConflictContext) (record.ResolutionResult, error)
}

func (r *FuncResolver) Name() string {
	if r.ResolverName == "" {
		return "func"
	}
	return r.ResolverName
}

func (r *FuncResolver) CanHandle(c *record.SyncConflict) bool {
	if r.Handles == nil {
		return true
	}
	return r.Handles(c)
}

func (r *FuncResolver) Priority() int { return r.ChainPriority }

func (r *FuncResolver) Resolve(ctx context.Context, cc *record.ConflictContext) (record.ResolutionResult, error) {
	return r.Fn(ctx, cc)
}
