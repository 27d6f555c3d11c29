package capture

import (
	"github.com/tuzig/vt10x"
)

// StripANSI feeds raw tmux capture-pane output (escape codes intact) through
// a vt10x virtual terminal and reads back the rendered plain-text lines.
// This replaces a hand-rolled CSI-stripping regex with a real terminal state
// machine: vt10x correctly resolves cursor movement, line wraps and
// overwrites the way an actual terminal would, which a regex-only strip of
// `ESC [ ... m` residues cannot (spec §4.1: "ANSI stripping is mandatory on
// all capture paths... Classifier and rule authors must never see escape
// codes").
//
// cols/rows should match the pane size used when capturing (spec §4.7 uses
// 80x40 for dev-server sessions and a configured agent size otherwise).
func StripANSI(raw []byte, cols, rows int) []string {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 40
	}

	term := vt10x.New(vt10x.WithSize(cols, rows))
	_, _ = term.Write(raw)

	lines := make([]string, rows)
	for row := 0; row < rows; row++ {
		var chars []rune
		for col := 0; col < cols; col++ {
			g := term.Cell(col, row)
			if g.Char == 0 {
				chars = append(chars, ' ')
			} else {
				chars = append(chars, g.Char)
			}
		}
		lines[row] = trimTrailingSpace(string(chars))
	}
	return lines
}

func trimTrailingSpace(s string) string {
	end := len(s)
	for end > 0 && s[end-1] == ' ' {
		end--
	}
	return s[:end]
}
