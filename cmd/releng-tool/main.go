// releng-tool drives a multi-package project through its release
// engineering stages
package main

import (
	"os"

	"github.com/releng-tool/releng-tool-sub001/pkg/cli"
)

// version is replaced at link time (-ldflags "-X main.version=...")
var version = "0.18.0"

func main() {
	os.Exit(cli.Main(version, os.Args[1:]))
}
