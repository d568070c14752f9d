package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"tonearm/internal/services"
)

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}
	// Interrupted runs have already logged their shutdown; the non-zero
	// exit is signal enough.
	if errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "tonearm:", err)
	if services.IsFatal(err) {
		os.Exit(2)
	}
	os.Exit(1)
}
