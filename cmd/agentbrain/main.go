// Command agentbrain is the per-project retrieval service CLI: it
// starts and stops instances, submits indexing jobs, and runs queries
// against the running daemon.
package main

import (
	"os"

	"github.com/agentbrain/agentbrain/cmd/agentbrain/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
