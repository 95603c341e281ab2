package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/clglinterop/internal/errs"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints err with its category.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "[ ERROR ] %s: %v\n", errs.Classify(err), err)
}
