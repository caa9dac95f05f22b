package main

import "github.com/arcdeck/pixflow/go/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
