// Package types defines error types for the in-memory filesystem.
package types

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrorKind is the category of a failed filesystem operation.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindAlreadyExists
	KindPermissionDenied
	KindNotADirectory
	KindIsADirectory
	KindNotEmpty
	KindBadDescriptor
	KindInvalidArgument
	KindFileTooLarge
)

// Common errors, one per kind. Returned errors unwrap to these.
var (
	ErrNotFound         = errors.New("no such file or directory")
	ErrAlreadyExists    = errors.New("file exists")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotADirectory    = errors.New("not a directory")
	ErrIsADirectory     = errors.New("is a directory")
	ErrNotEmpty         = errors.New("directory not empty")
	ErrBadDescriptor    = errors.New("bad file descriptor")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrFileTooLarge     = errors.New("file too large")
)

var sentinels = map[ErrorKind]error{
	KindNotFound:         ErrNotFound,
	KindAlreadyExists:    ErrAlreadyExists,
	KindPermissionDenied: ErrPermissionDenied,
	KindNotADirectory:    ErrNotADirectory,
	KindIsADirectory:     ErrIsADirectory,
	KindNotEmpty:         ErrNotEmpty,
	KindBadDescriptor:    ErrBadDescriptor,
	KindInvalidArgument:  ErrInvalidArgument,
	KindFileTooLarge:     ErrFileTooLarge,
}

// Err returns the sentinel error for the kind.
func (k ErrorKind) Err() error {
	if err, ok := sentinels[k]; ok {
		return err
	}
	return fmt.Errorf("unknown error kind %d", int(k))
}

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindNotADirectory:
		return "NotADirectory"
	case KindIsADirectory:
		return "IsADirectory"
	case KindNotEmpty:
		return "NotEmpty"
	case KindBadDescriptor:
		return "BadDescriptor"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindFileTooLarge:
		return "FileTooLarge"
	default:
		return "Unknown"
	}
}

// Errno maps the kind to the matching POSIX errno.
func (k ErrorKind) Errno() unix.Errno {
	switch k {
	case KindNotFound:
		return unix.ENOENT
	case KindAlreadyExists:
		return unix.EEXIST
	case KindPermissionDenied:
		return unix.EACCES
	case KindNotADirectory:
		return unix.ENOTDIR
	case KindIsADirectory:
		return unix.EISDIR
	case KindNotEmpty:
		return unix.ENOTEMPTY
	case KindBadDescriptor:
		return unix.EBADF
	case KindInvalidArgument:
		return unix.EINVAL
	case KindFileTooLarge:
		return unix.EFBIG
	default:
		return unix.EIO
	}
}

// PathError records a failed operation on a path.
type PathError struct {
	Op   string
	Path string
	Kind ErrorKind
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind.Err())
}

func (e *PathError) Unwrap() error {
	return e.Kind.Err()
}

// DescriptorError records a failed operation on an open descriptor.
type DescriptorError struct {
	Op   string
	FD   int
	Kind ErrorKind
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("%s fd %d: %v", e.Op, e.FD, e.Kind.Err())
}

func (e *DescriptorError) Unwrap() error {
	return e.Kind.Err()
}

// KindOf extracts the error kind from err, if it carries one.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PathError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	var de *DescriptorError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind, true
		}
	}
	return 0, false
}

// Errno maps any error to an errno, falling back to EIO.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	if kind, ok := KindOf(err); ok {
		return kind.Errno()
	}
	return unix.EIO
}
