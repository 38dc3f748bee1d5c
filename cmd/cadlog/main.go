// Command cadlog edits and publishes a job's operation log.
package main

import (
	"os"

	"github.com/roach88/cadlog/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
