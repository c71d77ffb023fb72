// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// govcore is the operator tool of the anonymous governance core.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shadowvote/govcore/internal/config"
)

// Git SHA1 commit hash of the release (set via linker flags)
var gitCommit = ""

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "TOML configuration file",
		EnvVars: []string{"GOVCORE_CONFIG"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "log level (trace, debug, info, warn, error, crit)",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log.format",
		Usage: "log format (terminal, json)",
	}
)

var app = &cli.App{
	Name:    "govcore",
	Usage:   "anonymous governance core operator tool",
	Version: version(),
	Flags:   []cli.Flag{configFlag, logLevelFlag, logFormatFlag},
	Commands: []*cli.Command{
		commandDumpConfig,
		commandCheckConfig,
		commandInspect,
		commandSignRequest,
	},
	After: func(*cli.Context) error {
		return closeLog()
	},
}

func version() string {
	if gitCommit == "" {
		return "dev"
	}
	if len(gitCommit) > 8 {
		return gitCommit[:8]
	}
	return gitCommit
}

func main() {
	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Debug(fmt.Sprintf(format, args...))
	}))
	if err == nil {
		defer undo()
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration named by the global flags and installs
// the configured logger.
func loadConfig(ctx *cli.Context) (*config.File, error) {
	f, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet(logLevelFlag.Name) {
		f.Log.Level = ctx.String(logLevelFlag.Name)
	}
	if ctx.IsSet(logFormatFlag.Name) {
		f.Log.Format = ctx.String(logFormatFlag.Name)
	}
	if err := setupLogging(f); err != nil {
		return nil, err
	}
	return f, nil
}

var logCloser io.Closer

func setupLogging(f *config.File) error {
	cfg := f.Log
	level, err := f.LogLevel()
	if err != nil {
		return err
	}
	var (
		out      io.Writer = os.Stderr
		useColor           = isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb"
	)
	if useColor {
		out = colorable.NewColorableStderr()
	}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out, useColor, logCloser = rotating, false, rotating
	}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = log.JSONHandlerWithLevel(out, level)
	case "terminal", "":
		handler = log.NewTerminalHandlerWithLevel(out, level, useColor)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	log.SetDefault(log.NewLogger(handler))
	return nil
}

func closeLog() error {
	if logCloser == nil {
		return nil
	}
	return logCloser.Close()
}
