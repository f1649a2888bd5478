package main

import (
	"os"

	"github.com/usagedeck/usagedeck/internal/cli"
)

func main() {
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
