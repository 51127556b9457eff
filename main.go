// Command kvault manages versioned knowledge namespaces from the shell.
package main

import (
	"os"

	"github.com/stevemurr/knowledge-vault/cli"
)

func main() {
	os.Exit(cli.Execute())
}
