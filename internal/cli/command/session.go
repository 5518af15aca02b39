package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokgate/internal/client"
)

// loginResult is printed by login.
type loginResult struct {
	Identity string `json:"identity"`
	Token    string `json:"token"`
}

type ttlResult struct {
	TTL int64 `json:"ttl_seconds"`
}

// withClient dials the server, runs fn and closes the connection.
func withClient(c *cli.Context, fn func(ctx context.Context, cl *client.Client) error) error {
	ctx := c.Context
	cl, err := client.Dial(ctx, Settings(c).Server, client.WithTimeout(timeout(c)))
	if err != nil {
		return err
	}
	defer cl.Close()
	return fn(ctx, cl)
}

func requireArgs(c *cli.Context, lo, hi int) error {
	if n := c.NArg(); n < lo || n > hi {
		return fmt.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}

// PingCommand checks the server.
func PingCommand() *cli.Command {
	return &cli.Command{
		Name:      "ping",
		Usage:     "Check the server connection",
		ArgsUsage: "[MESSAGE]",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 0, 1); err != nil {
				return err
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				args := append([]string{"PING"}, c.Args().Slice()...)
				r, err := cl.Do(ctx, args...)
				if err != nil {
					return err
				}
				return render(c, r.Str)
			})
		},
	}
}

// LoginCommand creates a session and prints its token.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Create a session and print its token",
		ArgsUsage: "IDENTITY",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "password; read from stdin when omitted",
				EnvVars: []string{"TOKGATE_PASSWORD"},
			},
			&cli.DurationFlag{
				Name:    "ttl",
				Aliases: []string{"t"},
				Usage:   "session lifetime (server default when omitted)",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "print the token only",
			},
		},
		Action: loginAction,
	}
}

func loginAction(c *cli.Context) error {
	if err := requireArgs(c, 1, 1); err != nil {
		return err
	}
	password := c.String("password")
	if !c.IsSet("password") {
		p, err := readLine(c)
		if err != nil {
			return err
		}
		password = p
	}

	identity := c.Args().First()
	return withClient(c, func(ctx context.Context, cl *client.Client) error {
		token, err := cl.Login(ctx, identity, password, c.Duration("ttl"))
		if err != nil {
			return err
		}
		if c.Bool("quiet") {
			_, err = fmt.Fprintln(c.App.Writer, token)
			return err
		}
		return render(c, loginResult{Identity: identity, Token: token})
	})
}

// readLine reads the first line of the app's stdin.
func readLine(c *cli.Context) (string, error) {
	sc := bufio.NewScanner(c.App.Reader)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no password given")
	}
	return strings.TrimRight(sc.Text(), "\r"), nil
}

// WhoamiCommand prints the identity a token belongs to.
func WhoamiCommand() *cli.Command {
	return &cli.Command{
		Name:      "whoami",
		Usage:     "Print the identity of a session",
		ArgsUsage: "TOKEN",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, 1); err != nil {
				return err
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				if err := cl.Auth(ctx, c.Args().First()); err != nil {
					return err
				}
				identity, err := cl.Whoami(ctx)
				if err != nil {
					return err
				}
				return render(c, identity)
			})
		},
	}
}

// DataCommand sends an authenticated request.
func DataCommand() *cli.Command {
	return &cli.Command{
		Name:      "data",
		Usage:     "Send an authenticated request",
		ArgsUsage: "TOKEN [PAYLOAD]",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, 2); err != nil {
				return err
			}
			var payload []byte
			if c.NArg() == 2 {
				payload = []byte(c.Args().Get(1))
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				out, err := cl.Data(ctx, c.Args().First(), payload)
				if err != nil {
					return err
				}
				if out == nil {
					return render(c, "OK")
				}
				return render(c, string(out))
			})
		},
	}
}

// TTLCommand prints the remaining lifetime of a token.
func TTLCommand() *cli.Command {
	return &cli.Command{
		Name:      "ttl",
		Usage:     "Print the remaining session lifetime in seconds (-2 when unknown)",
		ArgsUsage: "TOKEN",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, 1); err != nil {
				return err
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				ttl, err := cl.TTL(ctx, c.Args().First())
				if err != nil {
					return err
				}
				return render(c, ttlResult{TTL: ttl})
			})
		},
	}
}

// RenewCommand extends a session.
func RenewCommand() *cli.Command {
	return &cli.Command{
		Name:      "renew",
		Aliases:   []string{"extend"},
		Usage:     "Extend a session",
		ArgsUsage: "TOKEN",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "ttl",
				Aliases: []string{"t"},
				Usage:   "new lifetime (server default when omitted)",
			},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, 1); err != nil {
				return err
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				ttl, err := cl.Renew(ctx, c.Args().First(), c.Duration("ttl"))
				if err != nil {
					return err
				}
				return render(c, ttlResult{TTL: ttl})
			})
		},
	}
}

// LogoutCommand revokes a session.
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:      "logout",
		Usage:     "Revoke a session",
		ArgsUsage: "TOKEN",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, 1); err != nil {
				return err
			}
			return withClient(c, func(ctx context.Context, cl *client.Client) error {
				if err := cl.Logout(ctx, c.Args().First()); err != nil {
					return err
				}
				return render(c, "OK")
			})
		},
	}
}
