package module

import (
	"errors"

	"github.com/MrWong99/tessera/pkg/worldgen"
)

var (
	// ErrParam reports a malformed or unparsable request document.
	ErrParam = worldgen.ErrParam

	// ErrAlloc reports that a result document could not be materialised.
	ErrAlloc = worldgen.ErrAlloc

	// ErrComponentSet reports that a capability call made during Init failed.
	ErrComponentSet = errors.New("module: component could not be set")

	// ErrNotInitialized is returned by [Instance] for calls made before a
	// successful Init.
	ErrNotInitialized = errors.New("module: not initialized")

	// ErrShutDown is returned by [Instance] for calls made after Shutdown.
	ErrShutDown = errors.New("module: already shut down")

	// ErrAlreadyInitialized is returned by [Instance.Init] on a second call.
	ErrAlreadyInitialized = errors.New("module: already initialized")

	// ErrInitFailed is returned by [Instance] for calls to a module whose
	// Init failed.
	ErrInitFailed = errors.New("module: initialization failed")

	// ErrNotGenerator is returned when world generation is requested from a
	// module that does not implement [Generator].
	ErrNotGenerator = errors.New("module: not a world generator")

	// ErrABIMismatch is returned when a module reports an ABI revision other
	// than [ABIVersion].
	ErrABIMismatch = errors.New("module: ABI version mismatch")

	// ErrDocumentTaken is returned by a [Document] that was already consumed.
	ErrDocumentTaken = errors.New("module: document already taken")

	// ErrWorldClosed is returned by a [World] after its lifetime has ended.
	ErrWorldClosed = errors.New("module: world handle closed")
)

// Status is the integer outcome code reported at the module boundary.
type Status int

const (
	StatusOK                Status = 0
	StatusParamError        Status = 1
	StatusAllocError        Status = 2
	StatusFailure           Status = 3
	StatusComponentSetError Status = -1
)

// String returns the lower-case label used in logs and metric attributes.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusParamError:
		return "param_error"
	case StatusAllocError:
		return "alloc_error"
	case StatusComponentSetError:
		return "component_set_error"
	default:
		return "failure"
	}
}

// StatusOf maps err onto its boundary status code.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrParam):
		return StatusParamError
	case errors.Is(err, ErrAlloc):
		return StatusAllocError
	case errors.Is(err, ErrComponentSet):
		return StatusComponentSetError
	default:
		return StatusFailure
	}
}
