package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/notebook-playground/internal/auth"
	"github.com/sakif/notebook-playground/internal/service"
)

func (c *cli) resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset SESSION",
		Short: "Drop the interpreter bound to a notebook session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			if err := client.ResetSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, green("session "+args[0]+" reset"))
			return nil
		},
	}
}

func (c *cli) uploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a dataset (.csv, .json, .xlsx, up to 10MB)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			client, err := c.client()
			if err != nil {
				return err
			}
			svc := service.NewDatasetService(client, c.logger())
			up, err := svc.Upload(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "%s %s (%d bytes)\n", green("uploaded"), up.Filename, up.Size)
			fmt.Fprintln(c.stdout, gray("readable from code as "+up.Filename))
			return nil
		},
	}
}

func (c *cli) rmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm NAME",
		Short: "Delete an uploaded dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			svc := service.NewDatasetService(client, c.logger())
			if err := svc.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, green("deleted "+args[0]))
			return nil
		},
	}
}

func (c *cli) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the execution service answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := client.Health(ctx); err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, green("healthy")+" "+gray(c.url))
			return nil
		},
	}
}

func (c *cli) tokenCommand() *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Mint an API token for the server",
		Long: `Mint a bearer token for the playground server. The secret must match the
server's JWT secret; it defaults to $JWT_SECRET.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			tokens, err := auth.NewTokenService(secret)
			if err != nil {
				return err
			}
			token, err := tokens.Generate(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "JWT secret (default $JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}
