package memfs

import (
	"context"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

type identityKey struct{}

// WithIdentity returns a context whose calls run as id.
func WithIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, if any.
func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	if ctx == nil {
		return types.Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(types.Identity)
	return id, ok
}

// identity resolves the identity of a call: the context's if present,
// otherwise the platform's.
func (f *FileSystem) identity(ctx context.Context) types.Identity {
	if id, ok := IdentityFrom(ctx); ok {
		return id
	}
	return f.platform.Identity()
}

// WithRootPrivileges runs fn with an elevated copy of the caller's identity.
// The caller's context is left untouched, so the previous privilege level
// is back in effect as soon as fn returns, fails or panics.
func (f *FileSystem) WithRootPrivileges(ctx context.Context, fn func(ctx context.Context) error) error {
	id := f.identity(ctx)
	prev := id.Elevated
	id.Elevated = true

	f.log.Debug("entering privileged scope",
		fieldUID(id.UID),
		fieldBool("was_elevated", prev),
	)
	err := fn(WithIdentity(ctx, id))
	f.log.Debug("leaving privileged scope",
		fieldUID(id.UID),
		fieldBool("restored_elevated", prev),
	)
	return err
}
