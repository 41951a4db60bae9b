package cli

import (
	"errors"
	"fmt"

	"github.com/erikmagkekse/nfs-exports-registry/registry"
)

const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitInvalid     = 2
	ExitNotFound    = 3
	ExitExists      = 4
	ExitUnavailable = 5
	ExitIO          = 6
	ExitReload      = 7
	ExitPartial     = 8
)

// ErrPartial is returned by list when records were printed but some had to
// be skipped.
var ErrPartial = errors.New("listing is incomplete, some records were skipped")

var codeExit = map[string]int{
	registry.ErrInvalid:         ExitInvalid,
	registry.ErrMalformedRecord: ExitInvalid,
	registry.ErrNotFound:        ExitNotFound,
	registry.ErrClientNotFound:  ExitNotFound,
	registry.ErrAlreadyExists:   ExitExists,
	registry.ErrUnavailable:     ExitUnavailable,
	registry.ErrMissingHeader:   ExitUnavailable,
	registry.ErrIOFailure:       ExitIO,
	registry.ErrReloadFailed:    ExitReload,
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &exitError{code: ExitUsage, msg: fmt.Sprintf(format, args...)}
}

func invalidf(format string, args ...any) error {
	return &exitError{code: ExitInvalid, msg: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error returned by a command to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, ErrPartial) {
		return ExitPartial
	}
	if code, ok := codeExit[registry.CodeOf(err)]; ok {
		return code
	}
	return ExitUsage
}
