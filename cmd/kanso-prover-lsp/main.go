// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"
	cli "github.com/urfave/cli/v2"

	"kanso-prover/internal/config"
	"kanso-prover/internal/lsp"
)

const lsName = "kanso-prover"

var (
	version = "0.1.0"
	handler protocol.Handler
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML configuration file",
	}
	verbosityFlag = &cli.IntFlag{
		Name:    "verbosity",
		Aliases: []string{"v"},
		Value:   1,
		Usage:   "log verbosity (0 quiet, 1 info, 2 debug)",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "write logs to this file instead of stderr",
	}
)

func main() {
	app := &cli.App{
		Name:    lsName + "-lsp",
		Usage:   "language server for Kanso stackless bytecode (.kbc), speaking LSP over stdio",
		Version: version,
		Flags:   []cli.Flag{configFlag, verbosityFlag, logFileFlag},
		Action:  serve,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// stdout carries the protocol, so logs go to stderr or a file
	verbosity := c.Int(verbosityFlag.Name)
	if !c.IsSet(verbosityFlag.Name) && cfg.Log.Verbosity > verbosity {
		verbosity = cfg.Log.Verbosity
	}
	logFile := cfg.Log.File
	if c.IsSet(logFileFlag.Name) {
		logFile = c.String(logFileFlag.Name)
	}
	var path *string
	if logFile != "" {
		path = &logFile
	}
	commonlog.Configure(verbosity, path)
	log := commonlog.GetLogger("kanso-prover.lsp")

	proverHandler := lsp.NewProverHandler(cfg)
	handler = protocol.Handler{
		Initialize:                     proverHandler.Initialize,
		Initialized:                    proverHandler.Initialized,
		Shutdown:                       proverHandler.Shutdown,
		SetTrace:                       proverHandler.SetTrace,
		TextDocumentDidOpen:            proverHandler.TextDocumentDidOpen,
		TextDocumentDidClose:           proverHandler.TextDocumentDidClose,
		TextDocumentDidChange:          proverHandler.TextDocumentDidChange,
		TextDocumentSemanticTokensFull: proverHandler.TextDocumentSemanticTokensFull,
	}

	s := server.NewServer(&handler, lsName, false)

	log.Infof("starting %s %s", lsName, version)
	if err := s.RunStdio(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
