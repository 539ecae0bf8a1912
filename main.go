package main

import (
	"errors"
	"fmt"
	"os"

	"library-lending/library"
)

// Exit codes by error kind.
const (
	exitStorage    = 1
	exitValidation = 2
	exitNotFound   = 3
	exitNoCopies   = 4
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", userMessage(err))
		os.Exit(exitCode(err))
	}
}

// userMessage turns library error kinds into text for the terminal.
func userMessage(err error) string {
	switch {
	case errors.Is(err, library.ErrNoOpenLoan):
		return "this member has no open loan for that book"
	case errors.Is(err, library.ErrNoCopiesAvailable):
		return "no copies of that book are available"
	case errors.Is(err, library.ErrNotFound):
		return fmt.Sprintf("not found (%v)", err)
	case errors.Is(err, library.ErrValidation):
		return fmt.Sprintf("invalid input (%v)", err)
	default:
		return err.Error()
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, library.ErrValidation):
		return exitValidation
	case errors.Is(err, library.ErrNotFound):
		return exitNotFound
	case errors.Is(err, library.ErrNoCopiesAvailable):
		return exitNoCopies
	default:
		return exitStorage
	}
}
