// Package main is the single-binary entrypoint for modelctl.
package main

import "github.com/tutu-network/modelctl/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
