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

// Package config holds cmd/jasmine's ambient run-time settings: the
// handful of flags every subcommand shares (output path, verbosity) plus
// the native target, gathered here so the cobra command tree configures
// one struct instead of threading loose parameters through every verb's
// RunE.
package config

import (
	"jasmine/internal/diag"
	"jasmine/internal/target"

	"github.com/sirupsen/logrus"
)

// Config is the resolved set of flags a jasmine invocation runs with,
// built by each cmd/jasmine command's RunE from cobra's persistent flags
// at the start of that RunE.
type Config struct {
	// Output redirects a subcommand's primary artifact; empty means the
	// subcommand picks its own default (stdout for disassemble, an
	// extension-derived sibling path otherwise).
	Output string

	// Verbose raises internal/diag's logrus logger to debug level,
	// spec §6's `-v`/`--verbose`.
	Verbose bool

	// Target is the machine this invocation compiles for. Always
	// target.Host() today; a field of its own so a future `--target`
	// cross-compilation flag has somewhere to land without touching
	// every call site.
	Target target.Target
}

// New returns a Config for the current host. Logging stays at
// internal/diag's default Warn level unless Verbose is set, which
// raises it to Debug.
func New(output string, verbose bool) Config {
	if verbose {
		diag.Log.SetLevel(logrus.DebugLevel)
	}
	return Config{Output: output, Verbose: verbose, Target: target.Host()}
}
