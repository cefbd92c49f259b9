// Command docstate inspects and updates persisted docstate stores.
package main

import (
	"github.com/awnumar/memguard"

	"github.com/roach88/docstate/internal/cli"
)

func main() {
	// Commands handle SIGINT themselves so watch can flush before exiting;
	// key material is wiped on both exit paths below.
	defer memguard.Purge()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		cli.ReportError(cmd, err)
		memguard.SafeExit(cli.GetExitCode(err))
	}
}
