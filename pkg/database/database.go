// Package database produces and restores datastore dumps through the
// external PostgreSQL client utilities.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Ext is the extension of dump artifacts.
const Ext = ".dump"

// ErrSubprocess is matched by every *ExecError.
var ErrSubprocess = errors.New("database: subprocess failed")

// ErrMissingParams is returned when connection parameters are incomplete.
var ErrMissingParams = errors.New("database: missing connection parameters")

// ConnParams are the datastore connection parameters.
type ConnParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// Validate checks that the parameters needed to reach the datastore are set.
func (c ConnParams) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.User == "" {
		missing = append(missing, "user")
	}
	if c.Name == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParams, strings.Join(missing, ", "))
	}
	return nil
}

func (c ConnParams) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.Name)
}

// Dumper materializes a datastore into a single file and feeds it back.
type Dumper interface {
	Dump(ctx context.Context, conn ConnParams, outPath string) error
	Restore(ctx context.Context, conn ConnParams, inPath string) error
}

// ExecError describes a dump or restore utility that exited non-zero.
// Output holds what the utility printed, verbatim.
type ExecError struct {
	Op       string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Op, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSubprocess) hold for every ExecError.
func (e *ExecError) Is(target error) bool { return target == ErrSubprocess }
