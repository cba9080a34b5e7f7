package main

import (
	"os"

	"github.com/conneroisu/framecast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
