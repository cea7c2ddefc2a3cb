// Package buildinfo exposes release metadata injected at link time:
//
//	go build -ldflags "-X github.com/dmitrijs2005/bugtracker/internal/buildinfo.Version=1.4.0"
//
// Version is also the release tag stamped on every bug record a client creates.
package buildinfo

import (
	"fmt"
	"io"
)

var (
	Version   = "dev"
	BuildDate = "N/A"
	Commit    = "N/A"
)

// PrintBuildData writes the three build fields, one per line.
func PrintBuildData(w io.Writer) {
	fmt.Fprintf(w, "Build version: %s\n", Version)
	fmt.Fprintf(w, "Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "Build commit: %s\n", Commit)
}
