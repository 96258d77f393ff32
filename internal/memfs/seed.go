package memfs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// SeedEntry describes a file or directory to pre-populate.
type SeedEntry struct {
	Path    string
	Kind    types.FileKind
	Mode    types.Mode
	UID     uint32
	GID     uint32
	Content []byte
}

// Seed creates entries in order with root privileges, then hands each one to
// its configured owner. Parents must come before their children. Existing
// directories are reused; existing files are overwritten.
func (f *FileSystem) Seed(ctx context.Context, entries []SeedEntry) error {
	return f.WithRootPrivileges(ctx, func(ctx context.Context) error {
		for _, e := range entries {
			if err := f.seedOne(ctx, e); err != nil {
				return fmt.Errorf("seed %s: %w", e.Path, err)
			}
		}
		f.log.Info("filesystem seeded", zap.Int("entries", len(entries)))
		return nil
	})
}

func (f *FileSystem) seedOne(ctx context.Context, e SeedEntry) error {
	switch e.Kind {
	case types.KindDirectory:
		err := f.Mkdir(ctx, e.Path, e.Mode)
		if err != nil && !errors.Is(err, types.ErrAlreadyExists) {
			return err
		}
	case types.KindRegular:
		fd, err := f.Open(ctx, e.Path, types.Create|types.WriteOnly|types.Truncate, e.Mode)
		if err != nil {
			return err
		}
		if _, err := f.Write(ctx, fd, e.Content); err != nil {
			_ = f.Close(ctx, fd)
			return err
		}
		if err := f.Close(ctx, fd); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown kind %v", e.Kind)
	}

	if err := f.Chmod(ctx, e.Path, e.Mode); err != nil {
		return err
	}
	return f.Chown(ctx, e.Path, e.UID, e.GID)
}
