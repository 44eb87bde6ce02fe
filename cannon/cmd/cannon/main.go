package main

import (
	"fmt"
	"os"

	"github.com/anton-rs/cannon/cannon/cmd"
)

func main() {
	if err := cmd.App().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
