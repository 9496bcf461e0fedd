package main

import (
	"fmt"
	"os"

	"github.com/Brownie44l1/snapclass/internal/apperr"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		info := apperr.Classify(err)
		fmt.Fprintf(os.Stderr, "error: %s\n", info.Message)
		if info.Category == apperr.CategoryGeneric || info.Fatal {
			fmt.Fprintf(os.Stderr, "  %v\n", err)
		}
		os.Exit(1)
	}
}
