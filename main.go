package main

import (
	"os"

	"github.com/narvik-labs/therasched/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
