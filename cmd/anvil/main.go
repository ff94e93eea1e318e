package main

import (
	"github.com/anvilbuild/anvil/internal/cli"
	"github.com/anvilbuild/anvil/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
