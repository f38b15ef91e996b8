package cmd

import (
	"fmt"
	"io"
)

const banner = `
                  _
   ___ ___ _ __| |_ _ __ ___  __ _
  / __/ _ \ '__| __| '__/ _ \/ _` + "`" + ` |
 | (_|  __/ |  | |_| | |  __/ (_| |
  \___\___|_|   \__|_|  \___|\__, |
                                |_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Certificate Requester - Version %s\x1b[0m\n\n", Version)
}
