// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	cli "github.com/urfave/cli/v2"

	"kanso-prover/internal/config"
)

var version = "0.1.0"

var log = commonlog.GetLogger("kanso-prover.cmd")

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML configuration file",
	}
	verbosityFlag = &cli.IntFlag{
		Name:    "verbosity",
		Aliases: []string{"v"},
		Usage:   "log verbosity (0 quiet, 1 info, 2 debug)",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "write logs to this file instead of stderr",
	}
	passesFlag = &cli.StringSliceFlag{
		Name:  "passes",
		Usage: "comma separated pass list, overrides the configuration",
	}
	functionFlag = &cli.StringFlag{
		Name:    "function",
		Aliases: []string{"f"},
		Usage:   "only handle the function with this qualified name (Module::name)",
	}
	eachPassFlag = &cli.BoolFlag{
		Name:  "each-pass",
		Usage: "dump every variant after each pass",
	}
	chainFlag = &cli.BoolFlag{
		Name:  "chain",
		Usage: "collapse nested conditionals into if-else chains",
	}
	watchFlag = &cli.BoolFlag{
		Name:  "watch",
		Usage: "keep running and re-check files when they change",
	}
	diffFlag = &cli.BoolFlag{
		Name:  "diff",
		Usage: "print the changes formatting would make instead of the formatted file",
	}
	backwardFlag = &cli.BoolFlag{
		Name:  "backward",
		Usage: "render the backward graph",
	}
)

func main() {
	app := &cli.App{
		Name:    "kanso-prover",
		Usage:   "verification condition pipeline for Kanso stackless bytecode",
		Version: version,
		Flags:   []cli.Flag{configFlag, verbosityFlag, logFileFlag, passesFlag},
		Before:  setup,
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Load .kbc files, run the pipeline and report diagnostics",
				ArgsUsage: "<file.kbc>...",
				Flags:     []cli.Flag{watchFlag},
				Action:    checkCommand,
			},
			{
				Name:      "dump",
				Usage:     "Print the bytecode of every function variant after the pipeline",
				ArgsUsage: "<file.kbc>",
				Flags:     []cli.Flag{functionFlag, eachPassFlag},
				Action:    dumpCommand,
			},
			{
				Name:      "structure",
				Usage:     "Print the reconstructed control flow of each function",
				ArgsUsage: "<file.kbc>",
				Flags:     []cli.Flag{functionFlag, chainFlag},
				Action:    structureCommand,
			},
			{
				Name:      "cfg",
				Usage:     "Render the control flow graph of a function as DOT",
				ArgsUsage: "<file.kbc>",
				Flags:     []cli.Flag{functionFlag, backwardFlag},
				Action:    cfgCommand,
			},
			{
				Name:      "stats",
				Usage:     "Print per-function statistics after the pipeline",
				ArgsUsage: "<file.kbc>",
				Action:    statsCommand,
			},
			{
				Name:      "fmt",
				Usage:     "Print a .kbc file in canonical layout",
				ArgsUsage: "<file.kbc>",
				Flags:     []cli.Flag{diffFlag},
				Action:    fmtCommand,
			},
			{
				Name:      "explain",
				Usage:     "Describe a diagnostic code",
				ArgsUsage: "<code>",
				Action:    explainCommand,
			},
			{
				Name:   "passes",
				Usage:  "List the available pipeline passes",
				Action: passesCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
}

// setup loads the configuration and configures logging
func setup(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if passes := c.StringSlice(passesFlag.Name); len(passes) > 0 {
		cfg.Pipeline.Passes = passes
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if c.IsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = c.Int(verbosityFlag.Name)
	}
	if c.IsSet(logFileFlag.Name) {
		cfg.Log.File = c.String(logFileFlag.Name)
	}

	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	c.App.Metadata = map[string]any{"config": cfg}
	return nil
}

func configOf(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata["config"].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

func fileArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("usage: kanso-prover %s %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return c.Args().First(), nil
}
