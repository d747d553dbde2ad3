// Command greenroom runs the AI orchestration layer.
//
// Usage:
//
//	greenroom serve --config greenroom.yaml
//	greenroom validate greenroom.yaml
//	greenroom schema > config-schema.json
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/greenroom-ai/greenroom/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the orchestration server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the configuration JSON schema."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)."`
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("greenroom"),
		kong.Description("AI orchestration layer for the greenroom intelligence hub."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
