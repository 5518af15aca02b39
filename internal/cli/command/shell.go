package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokgate/internal/cli/repl"
	"github.com/yndnr/tokgate/internal/client"
)

// ShellCommand starts the interactive shell.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Start an interactive session",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "do not read or write the history file",
			},
		},
		Action: shellAction,
	}
}

func shellAction(c *cli.Context) error {
	s := Settings(c)
	cl, err := client.Dial(c.Context, s.Server, client.WithTimeout(s.Timeout))
	if err != nil {
		return err
	}
	defer cl.Close()

	file := s.HistoryFile
	if c.Bool("no-history") {
		file = ""
	}
	history := repl.NewHistory(file)
	if err := history.Load(); err != nil {
		PrintError("load history: %v", err)
	}

	fmt.Fprintf(c.App.Writer, "connected to %s, type help for commands\n", s.Server)
	runErr := repl.New(c.App.Reader, c.App.Writer, cl, history).Run(c.Context)
	if err := history.Save(); err != nil {
		PrintError("save history: %v", err)
	}
	return runErr
}
