package main

import (
	"os"

	"github.com/ceradon/sam-digest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
