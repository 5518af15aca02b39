package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokgate/internal/core/service"
)

func hashPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash-password",
		Usage:     "print an argon2id hash for auth.users",
		ArgsUsage: "[password]",
		Description: "Reads the password from the first argument or, when absent, " +
			"from the first line of standard input.",
		Action: func(c *cli.Context) error {
			password := c.Args().First()
			if password == "" {
				line, err := bufio.NewReader(c.App.Reader).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no password given")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password is empty")
			}
			hash, err := service.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			_, err = fmt.Fprintln(c.App.Writer, hash)
			return err
		},
	}
}
