// Copyright (C) 2020 Markus L. Noga
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
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Command skystack wires the FrameLoader, CalibrationLibrary, Calibrator,
// Aligner and Stacker stages spec.md describes into a single batch run over
// a directory of raw exposures. Grounded in the teacher's cmd/nightlight
// "stack" subcommand for the overall load -> preprocess -> align -> stack
// shape, and in observerly-skysolve's cmd/root.go for the cobra command
// structure itself.
package main

import (
	"fmt"
	"os"

	"github.com/skystack/core/cmd/skystack/reduce"
)

func main() {
	if err := reduce.RootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
