// Package host provides a Platform backed by the running process.
package host

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// Platform reports the process credentials and the wall clock.
type Platform struct{}

// New creates a host platform.
func New() *Platform {
	return &Platform{}
}

// Name returns the name of this platform implementation.
func (p *Platform) Name() string {
	return "host"
}

// Identity returns the effective uid/gid of the process. A process running
// as uid 0 is treated as elevated.
func (p *Platform) Identity() types.Identity {
	uid := uint32(unix.Geteuid())
	return types.Identity{
		UID:      uid,
		GID:      uint32(unix.Getegid()),
		Elevated: uid == 0,
	}
}

// Now returns the wall clock time.
func (p *Platform) Now() time.Time {
	return time.Now()
}
