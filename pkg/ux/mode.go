// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode controls how much styling a Printer applies.
type Mode string

const (
	// ModeRich enables colors, icons, and boxes.
	ModeRich Mode = "rich"

	// ModePlain prints icons and aligned text without colors.
	ModePlain Mode = "plain"

	// ModeMachine prints tab-separated lines for scripting.
	ModeMachine Mode = "machine"
)

// EnvMode overrides mode detection when set.
const EnvMode = "CODEGRAPH_OUTPUT"

// ParseMode converts a string to a Mode. Unknown values are ModePlain.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "color", "full":
		return ModeRich
	case "machine", "quiet", "q":
		return ModeMachine
	default:
		return ModePlain
	}
}

// DetectMode picks a Mode for w: EnvMode wins, then NO_COLOR forces
// ModePlain, then a terminal gets ModeRich and anything else ModePlain.
func DetectMode(w io.Writer) Mode {
	if env := os.Getenv(EnvMode); env != "" {
		return ParseMode(env)
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return ModePlain
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ModeRich
	}
	return ModePlain
}
