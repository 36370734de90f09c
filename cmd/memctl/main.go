package main

import (
	"os"

	"github.com/memctl/memctl/cmd/memctl/cmds"
)

func main() {
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
