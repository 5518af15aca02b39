package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokgate/internal/cli/connection"
)

func adminClient(c *cli.Context) *connection.AdminClient {
	s := Settings(c)
	return connection.NewAdminClient(s.Admin, s.Timeout)
}

// AdminCommand returns the admin endpoint subcommand group.
func AdminCommand() *cli.Command {
	return &cli.Command{
		Name:    "admin",
		Aliases: []string{"system"},
		Usage:   "Query the admin endpoint",
		Subcommands: []*cli.Command{
			{
				Name:  "health",
				Usage: "Show liveness and version",
				Action: func(c *cli.Context) error {
					h, err := adminClient(c).Health(c.Context)
					if err != nil {
						return err
					}
					return render(c, h)
				},
			},
			{
				Name:  "ready",
				Usage: "Check that the server can serve requests",
				Action: func(c *cli.Context) error {
					if err := adminClient(c).Ready(c.Context); err != nil {
						return err
					}
					return render(c, "ready")
				},
			},
			{
				Name:  "stats",
				Usage: "Show live session and connection counts",
				Action: func(c *cli.Context) error {
					st, err := adminClient(c).Stats(c.Context)
					if err != nil {
						return err
					}
					return render(c, st)
				},
			},
			{
				Name:  "metrics",
				Usage: "Dump Prometheus metrics",
				Action: func(c *cli.Context) error {
					return adminClient(c).Metrics(c.Context, c.App.Writer)
				},
			},
		},
	}
}
