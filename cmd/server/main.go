// Command server is the fetchmux daemon entry point. All wiring lives in
// internal/server (the composition root) and internal/cli (the command
// surface over it); main only hands off to the CLI.
package main

import "github.com/corvidae/fetchmux/internal/cli"

func main() {
	cli.Run()
}
