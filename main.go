package main

import (
	"fmt"
	"os"

	"github.com/rbxmon/rbxmon/cmd"
)

func main() {
	root := cmd.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
