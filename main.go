// Command mcs is the multi-agent coordination server: it plans task
// graphs from natural-language requests, hands READY tasks to polling
// worker clients, and drives each workflow through audit and synthesis
// once its tasks complete.
package main

import (
	"log"

	"github.com/agentmesh/mcs/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
