package main

import (
	"os"

	"instance-reaper/src/cli"
)

func main() {
	os.Exit(cli.Execute())
}
