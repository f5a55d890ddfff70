package cmd

import (
	"fmt"
	"io"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

const banner = `
  _                                  _
 (_)_ __ ___  _ __  ___  ___  ___ __(_) ___  _ __
 | | '__/ _ \| '_ \/ __|/ _ \/ __/ __| |/ _ \| '_ \
 | | | | (_) | | | \__ \  __/\__ \__ \ | (_) | | | |
 |_|_|  \___/|_| |_|___/\___||___/___/_|\___/|_| |_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Encrypted Session Store - Version %s\x1b[0m\n\n", Version)
}
