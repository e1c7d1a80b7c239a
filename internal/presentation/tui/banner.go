package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the idem banner with the version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"  _     _", "#818cf8"},
		{" (_) __| | ___ _ __ ___", "#a78bfa"},
		{" | |/ _` |/ _ \\ '_ ` _ \\", "#c084fc"},
		{" | | (_| |  __/ | | | | |", "#e879f9"},
		{" |_|\\__,_|\\___|_| |_| |_|", "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  run once, per key, everywhere  v"+version).Faint())
	fmt.Fprintln(w)
}
