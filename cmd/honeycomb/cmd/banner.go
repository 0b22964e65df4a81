package cmd

import (
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
)

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[33m%s\x1b[0m\n", figure.NewFigure("Honeycomb", "cybermedium", true).String())
	fmt.Fprintf(w, "\x1b[32m  Assistant Backend Client - Version %s\x1b[0m\n\n", Version)
}
