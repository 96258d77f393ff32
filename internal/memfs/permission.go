package memfs

import (
	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// Attr is the subset of inode metadata that access decisions depend on.
type Attr struct {
	Mode types.Mode
	UID  uint32
	GID  uint32
}

// Evaluator decides whether an identity may access an inode.
type Evaluator interface {
	// Authorize reports whether id holds every bit of access on attr.
	Authorize(attr Attr, access types.Access, id types.Identity) bool
}

// modeEvaluator implements classic owner/group/other permission bits.
type modeEvaluator struct{}

// NewEvaluator returns the default mode-bit evaluator.
func NewEvaluator() Evaluator {
	return modeEvaluator{}
}

// Authorize selects exactly one triplet: owner if the uid matches, else
// group if the gid matches, else other. Triplets are never combined.
func (modeEvaluator) Authorize(attr Attr, access types.Access, id types.Identity) bool {
	if id.Elevated {
		return true
	}

	var granted types.Access
	switch {
	case id.UID == attr.UID:
		granted = types.Access(attr.Mode>>6) & 7
	case id.GID == attr.GID:
		granted = types.Access(attr.Mode>>3) & 7
	default:
		granted = types.Access(attr.Mode) & 7
	}
	return granted&access == access
}

// check returns a PermissionDenied error for op on path unless id holds
// access on n. The caller must hold f.mu.
func (f *FileSystem) check(op, path string, n *inode, access types.Access, id types.Identity) error {
	if f.evaluator.Authorize(n.attr(), access, id) {
		return nil
	}
	f.log.Debug("access denied",
		fieldOp(op),
		fieldPath(path),
		fieldUID(id.UID),
		fieldString("required", access.String()),
		fieldString("mode", n.mode.String()),
	)
	return &types.PathError{Op: op, Path: path, Kind: types.KindPermissionDenied}
}
