package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/phillip-england/badgephoto/internal/badgecli"
	"github.com/phillip-england/badgephoto/internal/logging"
)

func main() {
	if err := badgecli.Execute(os.Args[1:]); err != nil {
		if errors.Is(err, badgecli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			badgecli.PrintUsage(os.Stderr)
			os.Exit(2)
		}
		logging.FromEnv().WithError(err).Fatal("badgephoto failed")
	}
}
