// Package main is the entry point for the flowgate SDN controller.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/flowgate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
