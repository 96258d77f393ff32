// Package platform defines the collaborator that supplies identity and time
// to the filesystem engine.
package platform

import (
	"time"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// Platform supplies the ambient identity and clock.
// Different implementations (host, mock) can be used interchangeably.
type Platform interface {
	// Name returns the name of this platform implementation.
	Name() string

	// Identity returns the identity of the current principal.
	// It is used when a call carries no identity of its own.
	Identity() types.Identity

	// Now returns the current time for inode timestamps.
	Now() time.Time
}
