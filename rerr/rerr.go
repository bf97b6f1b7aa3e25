// Package rerr defines the structured error taxonomy shared across the
// messenger, bsend, mstor, and ostor: a small set of conceptual error
// codes (modeled on POSIX errno) plus a structured Error
// type carrying the operation, an optional underlying syscall errno, and
// a human-readable message.
package rerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is a high-level error category: transient network, resource
// exhaustion, protocol, permission/existence, and control errors.
type Code string

const (
	Timedout       Code = "timedout"
	ConnReset      Code = "conn reset"
	NoMedium       Code = "no medium"
	NoMem          Code = "no memory"
	TooManyFiles   Code = "too many open files"
	NoSpace        Code = "no space left"
	Invalid        Code = "invalid argument"
	NotImplemented Code = "not implemented"
	Perm           Code = "permission denied"
	NotFound       Code = "not found"
	Exist          Code = "already exists"
	IsDir          Code = "is a directory"
	NotDir         Code = "not a directory"
	Canceled       Code = "canceled"
	Shutdown       Code = "shutting down"
	IOError        Code = "i/o error"
)

// Error is the structured error type returned by every package in this
// module. Op names the failing operation (e.g. "ostor.Write",
// "msgr.Connect"); Errno, when nonzero, is the underlying syscall errno
// that produced Code.
type Error struct {
	Op    string
	Code  Code
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		if e.Errno != 0 {
			return fmt.Sprintf("%s: %s (errno=%d)", e.Op, msg, e.Errno)
		}
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// New constructs an Error with no underlying cause.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// Newf is like New but with a printf-formatted message.
func Newf(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// FromErrno wraps a syscall errno, classifying it per mapErrnoToCode.
func FromErrno(op string, errno syscall.Errno) *Error {
	return &Error{
		Op:    op,
		Code:  mapErrnoToCode(errno),
		Errno: errno,
		Msg:   errno.Error(),
	}
}

// Wrap adapts any error to an *Error, preserving an existing *Error's
// code and only updating Op, or classifying a syscall.Errno, or
// otherwise wrapping it as a generic IOError.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if re, ok := inner.(*Error); ok {
		return &Error{
			Op:    op,
			Code:  re.Code,
			Errno: re.Errno,
			Msg:   re.Msg,
			Inner: re.Inner,
		}
	}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}
	return &Error{Op: op, Code: IOError, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.ETIMEDOUT:
		return Timedout
	case syscall.ECONNRESET, syscall.EPIPE:
		return ConnReset
	case syscall.ENOMEM:
		return NoMem
	case syscall.EMFILE, syscall.ENFILE:
		return TooManyFiles
	case syscall.ENOSPC:
		return NoSpace
	case syscall.EINVAL, syscall.E2BIG:
		return Invalid
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return NotImplemented
	case syscall.EPERM, syscall.EACCES:
		return Perm
	case syscall.ENOENT:
		return NotFound
	case syscall.EEXIST:
		return Exist
	case syscall.EISDIR:
		return IsDir
	case syscall.ENOTDIR:
		return NotDir
	case syscall.ECANCELED:
		return Canceled
	case syscall.ESHUTDOWN:
		return Shutdown
	default:
		return IOError
	}
}

// Is reports whether err is (or wraps) an *Error with the given code.
func Is(err error, code Code) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
