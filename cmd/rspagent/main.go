package main

import (
	"os"

	"github.com/patmos-dbg/rspagent/cmd/rspagent/cmds"
	"github.com/patmos-dbg/rspagent/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.RSPAgentVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
