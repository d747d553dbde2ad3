package main

import (
	"fmt"
	"os"

	"github.com/greenroom-ai/greenroom/pkg/logger"
)

// Environment variables consulted when the matching flag is absent.
const (
	logLevelEnvVar  = "LOG_LEVEL"
	logFileEnvVar   = "LOG_FILE"
	logFormatEnvVar = "LOG_FORMAT"
)

// initLogger installs the process logger. Priority per setting: CLI
// flag, then environment, then default. The returned cleanup closes
// the log file when one was opened.
func initLogger(cli *CLI) (func(), error) {
	level := cli.LogLevel
	if level == "" {
		level = os.Getenv(logLevelEnvVar)
	}

	format := cli.LogFormat
	if format == "" {
		format = os.Getenv(logFormatEnvVar)
	}
	if format == "" {
		format = "simple"
	}

	path := cli.LogFile
	if path == "" {
		path = os.Getenv(logFileEnvVar)
	}

	output := os.Stderr
	var cleanup func()
	if path != "" {
		file, closeFile, err := logger.OpenLogFile(path)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		output, cleanup = file, closeFile
	}

	logger.Init(logger.ParseLevel(level), output, format)
	return cleanup, nil
}

// levelOverridden reports whether the log level came from the flag or
// the environment, in which case the config file must not change it.
func levelOverridden(cli *CLI) bool {
	return cli.LogLevel != "" || os.Getenv(logLevelEnvVar) != ""
}
