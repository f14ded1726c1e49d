// Command blue runs the Blue voice assistant session engine.
package main

import "github.com/teslashibe/go-blue/internal/cli"

func main() {
	cli.Execute()
}
