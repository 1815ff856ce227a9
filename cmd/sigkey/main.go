// Package main provides the sigkey command line.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "sigkey",
		Usage: "Wallet-signature derived key identities",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "Start the HTTP server",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runServer(ctx)
				},
			},
			{
				Name:  "migrate",
				Usage: "Run database migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "path",
						Value: "file://migrations/postgresql",
						Usage: "Migration source URL",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runMigrations(cmd.String("path"))
				},
			},
			{
				Name:  "identity",
				Usage: "Derive the identity of a local key wallet, using the key cache when possible",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "private-key",
						Aliases:  []string{"k"},
						Usage:    "Hex secp256k1 private key of the wallet",
						Sources:  cli.EnvVars("SIGKEY_PRIVATE_KEY"),
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runIdentity(ctx, cmd.String("private-key"), cmd.Root().Writer)
				},
			},
			{
				Name:  "clear-cache",
				Usage: "Remove the encrypted key cache",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runClearCache(ctx)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}
