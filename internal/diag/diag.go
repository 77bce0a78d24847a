// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package diag implements the three-class error model of the Jasmine
// toolchain: input-validation and I/O errors are one-shot fatal
// diagnostics reported with an [ERROR] prefix, while internal invariant
// violations panic with a source-location prefix, since they indicate a
// compiler bug rather than malformed input.
package diag

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Class partitions errors per spec §7.
type Class int

const (
	// Validation covers malformed input: unknown opcodes, bad text IR,
	// unknown typenames, out-of-range immediates, ambiguous sizes.
	Validation Class = iota
	// IO covers file-not-found, shebang/version mismatches, truncated
	// reads.
	IO
	// Internal covers compiler-bug conditions: liveness unification
	// failure, propagation into an undefined register, a second frame
	// before ret, an allocator unable to satisfy a hint.
	Internal
)

func (c Class) String() string {
	switch c {
	case Validation:
		return "validation"
	case IO:
		return "io"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the carrier for class Validation and IO diagnostics. It is an
// ordinary error value below the CLI boundary so library callers are not
// forced through os.Exit; only cmd/jasmine prints it with the [ERROR]
// prefix and exits 1.
type Error struct {
	Class   Class
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Validationf builds a class-1 diagnostic quoting the offending token,
// opcode, or symbol verbatim in format/args.
func Validationf(format string, args ...interface{}) error {
	return &Error{Class: Validation, Message: fmt.Sprintf(format, args...)}
}

// IOf builds a class-3 diagnostic, wrapping cause with file/offset
// context via github.com/pkg/errors so the original stack is preserved.
func IOf(cause error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Class: IO, Message: msg, cause: errors.Wrap(cause, msg)}
}

// Panicf reports a class-2 internal-invariant violation: these are never
// expected on well-formed input and indicate a bug in this compiler, so
// they panic rather than return an error.
func Panicf(format string, args ...interface{}) {
	_, file, line, ok := runtime.Caller(1)
	msg := fmt.Sprintf(format, args...)
	if ok {
		panic(fmt.Sprintf("%s:%d: %s", file, line, msg))
	}
	panic(msg)
}

// Assert panics with a source-location prefix if cond is false. Mirrors
// the teacher's utils.Assert, generalized to the Internal error class.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		_, file, line, ok := runtime.Caller(1)
		msg := fmt.Sprintf(format, args...)
		if ok {
			panic(fmt.Sprintf("%s:%d: assertion failed: %s", file, line, msg))
		}
		panic("assertion failed: " + msg)
	}
}

// Unreachable reports that control flow reached a point the compiler
// believes is impossible to reach on well-formed input.
func Unreachable(format string, args ...interface{}) {
	Panicf("should not reach here: "+format, args...)
}

// Log is the package-wide structured logger used by the ambient stack for
// -v/--verbose tracing; cmd/jasmine wires its level from the CLI flag.
var Log = logrus.New()

func init() {
	Log.SetLevel(logrus.WarnLevel)
	Log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
}
