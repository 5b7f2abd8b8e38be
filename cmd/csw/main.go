package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the YAML configuration (default $CSW_CONFIG or ./csw.yaml)",
	}
	driverFlag = &cli.StringFlag{
		Name:  "store",
		Usage: "store driver override: memory, sqlite or postgres",
	}
	dsnFlag = &cli.StringFlag{
		Name:  "dsn",
		Usage: "store DSN override",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "log level override: debug, info, warn or error",
	}
	formatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "output format override: xml or json",
	}
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "csw",
		Usage:     "Query and populate a CSW catalogue",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     []cli.Flag{configFlag, driverFlag, dsnFlag, logLevelFlag, formatFlag},
		Commands: []*cli.Command{
			newGetRecordsCommand(),
			newGetRecordByIDCommand(),
			newAdhocCommand(),
			newHarvestCommand(),
			newImportCommand(),
		},
	}
}
