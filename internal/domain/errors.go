package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Model errors
	ErrModelNotFound       = errors.New("model not found")
	ErrModelExists         = errors.New("model already exists")
	ErrInvalidModelName    = errors.New("invalid model name")
	ErrInsufficientStorage = errors.New("insufficient storage for model")

	// Blob errors
	ErrInvalidDigest  = errors.New("invalid digest")
	ErrBlobNotFound   = errors.New("blob not found")
	ErrDigestMismatch = errors.New("blob content does not match its digest")

	// Definition errors
	ErrNoBlobsFound = errors.New("no blobs referenced by model definition")

	// Transfer errors
	ErrProbeFailed         = errors.New("existence probe failed")
	ErrSourceUnreachable   = errors.New("blob source unreachable")
	ErrDestinationRejected = errors.New("destination rejected blob")
	ErrIncompatibleServer  = errors.New("incompatible server versions")
	ErrNotInRegistry       = errors.New("not available in public registry")
	ErrUnsupportedTopology = errors.New("unsupported transfer topology")
	ErrInvalidTransition   = errors.New("invalid transfer task state transition")
	ErrCreateFailed        = errors.New("model creation did not report success")
)

// ProbeError is returned when an existence check could not give a definite
// answer. Transient means the request never got a response.
type ProbeError struct {
	Digest     Digest
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s: %v", e.Digest, e.Err)
	}
	return fmt.Sprintf("probe %s: unexpected status %d", e.Digest, e.StatusCode)
}

func (e *ProbeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProbeFailed}
	}
	return []error{ErrProbeFailed, e.Err}
}

// TransferErrorKind distinguishes why a blob could not be moved.
type TransferErrorKind int

const (
	SourceUnreachable TransferErrorKind = iota
	DestinationRejected
	IncompatibleVersion
	NotInRegistry
)

func (k TransferErrorKind) sentinel() error {
	switch k {
	case DestinationRejected:
		return ErrDestinationRejected
	case IncompatibleVersion:
		return ErrIncompatibleServer
	case NotInRegistry:
		return ErrNotInRegistry
	default:
		return ErrSourceUnreachable
	}
}

// TransferError reports a failed blob transfer.
type TransferError struct {
	Digest     Digest
	Kind       TransferErrorKind
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("blob %s: %v", e.Digest, e.Kind.sentinel())
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransferError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// ParseError reports a model definition that could not be turned into a
// list of blobs.
type ParseError struct {
	Model string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse definition of %s: %v", e.Model, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CreationError reports a destination that never confirmed model creation.
type CreationError struct {
	Model      string
	LastStatus string
	StatusCode int
	Message    string
}

func (e *CreationError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("create %s: status %d: %s", e.Model, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("create %s: %s", e.Model, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("create %s: status %d", e.Model, e.StatusCode)
	case e.LastStatus == "":
		return fmt.Sprintf("create %s: stream ended without a status", e.Model)
	default:
		return fmt.Sprintf("create %s: last status %q, want \"success\"", e.Model, e.LastStatus)
	}
}

func (e *CreationError) Unwrap() error { return ErrCreateFailed }
