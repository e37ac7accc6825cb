// SPDX-License-Identifier: GPL-3.0-or-later

package raphnet

import (
	"fmt"

	"github.com/bassosimone/raphnet/errclass"
)

// Kind is one of the semantic (not type-based) error kinds from spec §7.
type Kind = errclass.Kind

// Re-exported error kinds, see spec §7.
const (
	KindAddrInUse         = errclass.AddrInUse
	KindAddrNotAvailable  = errclass.AddrNotAvailable
	KindConnectionRefused = errclass.ConnectionRefused
	KindConnectionAborted = errclass.ConnectionAborted
	KindBrokenPipe        = errclass.BrokenPipe
	KindNotConnected      = errclass.NotConnected
	KindTimedOut          = errclass.TimedOut
	KindWouldBlock        = errclass.WouldBlock
	KindAbortedByUser     = errclass.AbortedByUser
	KindOther             = errclass.Other
)

// NetError is the error type surfaced by every Net operation, listener, and
// stream. It carries a [Kind] plus an optional free-form message, matching
// spec §7's "other(message)" kind for anything that does not fit the closed
// taxonomy.
type NetError struct {
	Kind    Kind
	Message string
	Err     error
}

// NewNetError builds a [*NetError] with the given kind and message.
func NewNetError(kind Kind, message string) *NetError {
	return &NetError{Kind: kind, Message: message}
}

// ClassifyError wraps an arbitrary error into a [*NetError], classifying it
// via [ClassifyKind] when it is not already one.
func ClassifyError(err error) *NetError {
	if err == nil {
		return nil
	}
	var ne *NetError
	if asNetError(err, &ne) {
		return ne
	}
	return &NetError{Kind: ClassifyKind(err), Message: err.Error(), Err: err}
}

func asNetError(err error, target **NetError) bool {
	for err != nil {
		if ne, ok := err.(*NetError); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ClassifyKind maps an arbitrary error onto a [Kind] using [errclass.Of].
func ClassifyKind(err error) Kind {
	if k := errclass.Of(err); k != "" {
		return k
	}
	return KindOther
}

// Error implements the error interface.
func (e *NetError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error, if any, so errors.Is/errors.As see
// through a [*NetError] to the originating syscall/stdlib error.
func (e *NetError) Unwrap() error {
	return e.Err
}
