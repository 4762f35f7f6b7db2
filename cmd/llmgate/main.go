package main

import (
	"github.com/hwendt/llmgate/internal/buildinfo"
	"github.com/hwendt/llmgate/internal/cli"
	"github.com/hwendt/llmgate/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	cli.Execute()
}
