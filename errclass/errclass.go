// SPDX-License-Identifier: GPL-3.0-or-later

// Package errclass classifies network errors into the small, platform-independent
// set of kinds used throughout raphnet (see the Kind type in the root package).
//
// The per-OS syscall numbers are defined in unix.go and windows.go; this file
// maps them (and the handful of context/net sentinel errors that are not
// syscall-shaped) onto those kinds.
package errclass

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

// Kind is a coarse, platform-independent network error classification.
//
// Values mirror the error kinds enumerated in the core spec: addr-in-use,
// addr-not-available, connection-refused, connection-aborted, broken-pipe,
// not-connected, timed-out, would-block, aborted-by-user, other.
type Kind string

const (
	AddrInUse         Kind = "addr-in-use"
	AddrNotAvailable  Kind = "addr-not-available"
	ConnectionRefused Kind = "connection-refused"
	ConnectionAborted Kind = "connection-aborted"
	BrokenPipe        Kind = "broken-pipe"
	NotConnected      Kind = "not-connected"
	TimedOut          Kind = "timed-out"
	WouldBlock        Kind = "would-block"
	AbortedByUser     Kind = "aborted-by-user"
	Other             Kind = "other"
)

// Classify returns a short descriptive label for err, following the historical
// convention of this package (e.g. "ETIMEDOUT", "ECONNRESET"). Returns the
// empty string for a nil error and "EGENERIC" for an error this package does
// not recognize.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	switch Of(err) {
	case AddrInUse:
		return "EADDRINUSE"
	case AddrNotAvailable:
		return "EADDRNOTAVAIL"
	case ConnectionRefused:
		return "ECONNREFUSED"
	case ConnectionAborted:
		return "ECONNABORTED"
	case BrokenPipe:
		return "EPIPE"
	case NotConnected:
		return "ENOTCONN"
	case TimedOut:
		return "ETIMEDOUT"
	case WouldBlock:
		return "EWOULDBLOCK"
	case AbortedByUser:
		return "ECANCELED"
	default:
		return "EGENERIC"
	}
}

// Of classifies err into a [Kind], walking through the standard sentinel
// errors first (context cancellation, net.ErrClosed, io.EOF-adjacent cases
// handled by callers) and falling back to the platform syscall errno table.
func Of(err error) Kind {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return AbortedByUser
	case errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	case errors.Is(err, os.ErrDeadlineExceeded):
		return TimedOut
	case errors.Is(err, net.ErrClosed):
		return BrokenPipe
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case errEADDRINUSE:
			return AddrInUse
		case errEADDRNOTAVAIL:
			return AddrNotAvailable
		case errECONNREFUSED:
			return ConnectionRefused
		case errECONNABORTED:
			return ConnectionAborted
		case errECONNRESET:
			return BrokenPipe
		case errENOTCONN:
			return NotConnected
		case errETIMEDOUT:
			return TimedOut
		case errEINTR:
			return WouldBlock
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimedOut
	}

	return Other
}
