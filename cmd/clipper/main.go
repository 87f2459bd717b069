package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/forPelevin/clipper/internal/cli"
)

func main() {
	cli.Main()
}
