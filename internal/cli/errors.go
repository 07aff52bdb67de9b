package cli

import (
	"fmt"
	"os"

	bosunerr "github.com/openfleet/bosun/internal/errors"
)

// PrintError writes an error to stderr. Typed errors use the what/why/fix
// format; verbose mode adds the code and cause.
func PrintError(err error) {
	if be := bosunerr.AsBosunError(err); be != nil {
		fmt.Fprintln(os.Stderr, be.UserMessage())
		if verbose {
			fmt.Fprintf(os.Stderr, "\nCode: %s\n", be.Code)
			if be.Cause != nil {
				fmt.Fprintf(os.Stderr, "Cause: %v\n", be.Cause)
			}
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
