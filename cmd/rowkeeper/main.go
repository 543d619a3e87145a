package main

import (
	"os"

	"github.com/solatis/rowkeeper/cmd/rowkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
