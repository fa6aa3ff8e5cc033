package main

import (
	"fmt"
	"os"

	"github.com/rocketbitz/fabric-errd/cmd/errd-sim/command"
)

func main() {
	app := command.App()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "errd-sim: %s\n", err)
		os.Exit(1)
	}
}
