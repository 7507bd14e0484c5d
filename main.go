package main

import (
	"github.com/teemow/sitekit/cmd"
)

// version will be set by goreleaser during build
var version = "dev"

func main() {
	cmd.Execute(version)
}
