package main

import (
	"os"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
)

const (
	exitFailure = 1
	exitBusy    = 3
)

func main() {
	os.Exit(exitCode(rootCmd.Execute()))
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsBusy(err):
		return exitBusy
	}
	return exitFailure
}
