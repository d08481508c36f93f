// Command pgctl drives the execution service from a terminal. It goes through
// the same runner pipeline as the server: input detection, session binding,
// output demultiplexing.
//
//	pgctl run script.py                    # one file, fresh interpreter
//	pgctl run ask.py --stdin "Ada"         # answer input() up front
//	pgctl notebook analysis.yaml --out .   # every code cell in one session, plots as PNG
//	pgctl upload data.csv                  # make a dataset readable by user code
//	pgctl token alice --secret $JWT_SECRET # mint an API token for the server
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sakif/notebook-playground/internal/executor/remote"
	"github.com/sakif/notebook-playground/internal/runner"
)

var (
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// errFailed marks a run that finished with a failure already printed.
var errFailed = errors.New("execution failed")

// cli holds the flags shared by every command.
type cli struct {
	url     string
	timeout time.Duration
	out     string
	verbose bool

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
}

func main() {
	c := &cli{stdout: os.Stdout, stderr: os.Stderr, stdin: os.Stdin}

	// Ctrl+C stops a notebook between cells; a run already sent is left to finish.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := c.rootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(c.stderr, red("Error: "+err.Error()))
		}
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pgctl",
		Short:         "Run code and notebooks against the execution service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := os.Getenv("PLAYGROUND_EXECUTOR_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8000"
	}
	root.PersistentFlags().StringVarP(&c.url, "url", "u", defaultURL, "execution service URL")
	root.PersistentFlags().DurationVarP(&c.timeout, "timeout", "t", runner.DefaultTimeout, "per-run timeout")
	root.PersistentFlags().StringVarP(&c.out, "out", "o", "", "directory for plot artifacts (PNG); empty skips them")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(
		c.runCommand(),
		c.notebookCommand(),
		c.resetCommand(),
		c.uploadCommand(),
		c.rmCommand(),
		c.healthCommand(),
		c.tokenCommand(),
	)
	return root
}

func (c *cli) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
}

func (c *cli) client() (*remote.Client, error) {
	return remote.New(remote.Config{BaseURL: c.url}, c.logger())
}

func (c *cli) dispatcher() (*runner.Dispatcher, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	return runner.NewDispatcher(client, c.timeout, nil, c.logger()), nil
}
