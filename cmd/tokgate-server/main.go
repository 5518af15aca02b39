package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokgate/internal/infra/buildinfo"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "tokgate-server",
		Usage:   "session-authenticated connection server",
		Version: buildinfo.String(),
		Commands: []*cli.Command{
			serveCommand(),
			hashPasswordCommand(),
			versionCommand(),
		},
		DefaultCommand: "serve",
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print build information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintln(c.App.Writer, "tokgate-server "+buildinfo.String())
			return err
		},
	}
}
