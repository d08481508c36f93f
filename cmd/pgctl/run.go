package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sakif/notebook-playground/internal/document"
	"github.com/sakif/notebook-playground/internal/model"
	"github.com/sakif/notebook-playground/internal/runner"
)

func (c *cli) runCommand() *cobra.Command {
	var stdin string
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a file in a fresh interpreter",
		Long: `Run a file the way the editor does: no session, nothing kept between runs.

If the code calls input() and --stdin is not given, pgctl asks for the values
on a terminal, or fails when stdin is not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			d, err := c.dispatcher()
			if err != nil {
				return err
			}

			name := filepath.Base(args[0])
			surface := runner.NewSurface(name, runner.FileKind)
			if cmd.Flags().Changed("stdin") {
				if err := d.SupplyInput(surface, stdin); err != nil {
					return err
				}
			}

			unit := runner.FileUnit(name, string(source))
			rep, err := d.Run(cmd.Context(), surface, unit)
			if err != nil {
				return err
			}
			if rep.State == runner.StateWaitingForInput {
				required := 1
				if p := surface.Snapshot().Pending; p != nil {
					required = p.Required
				}
				answer, err := c.prompt(rep.Display.Notice, required)
				if err != nil {
					return err
				}
				if err := d.SupplyInput(surface, answer); err != nil {
					return err
				}
				if rep, err = d.Run(cmd.Context(), surface, unit); err != nil {
					return err
				}
			}

			if err := c.printReport(name, rep); err != nil {
				return err
			}
			if rep.State != runner.StateSucceeded {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stdin, "stdin", "", "input for the program, one value per line")
	return cmd
}

// prompt reads the values a waiting run asked for, one line each. It only
// works on a terminal; piping a script into pgctl should use --stdin instead.
func (c *cli) prompt(notice string, required int) (string, error) {
	f, ok := c.stdin.(*os.File)
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return "", fmt.Errorf("%s (use --stdin)", notice)
	}

	fmt.Fprintln(c.stderr, yellow(notice))
	lines := make([]string, 0, required)
	scanner := bufio.NewScanner(f)
	for len(lines) < required {
		fmt.Fprint(c.stderr, gray("> "))
		if !scanner.Scan() {
			break
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func (c *cli) notebookCommand() *cobra.Command {
	var delay = runner.DefaultSettleDelay
	var keep bool
	cmd := &cobra.Command{
		Use:   "notebook FILE.yaml",
		Short: "Run every code cell of a notebook file in one session",
		Long: `Run a notebook document: every code cell, in order, in a fresh session.
A failing cell is reported and the next one still runs.

Cells that call input() need a stdin entry in the document.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := document.Load(args[0])
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			d := runner.NewDispatcher(client, c.timeout, nil, c.logger())
			seq := runner.NewSequencer(d, delay, c.logger())

			nb := doc.Notebook("local", runner.NewSessionID())
			surfaces := make(map[string]*runner.Surface, len(nb.Cells))
			for _, cell := range nb.Cells {
				s := runner.NewSurface(cell.ID, runner.CellKind)
				if stdin, ok := doc.Stdin(cell.ID); ok {
					if err := d.SupplyInput(s, stdin); err != nil {
						return err
					}
				}
				surfaces[cell.ID] = s
			}

			fmt.Fprintln(c.stderr, gray("session "+nb.SessionID))
			reports := seq.RunAll(cmd.Context(), nb, func(cell *model.Cell) *runner.Surface {
				return surfaces[cell.ID]
			})

			failed := 0
			for _, cr := range reports {
				fmt.Fprintln(c.stdout, bold("── "+cr.CellID))
				if err := c.printReport(strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))+"_"+cr.CellID, cr.Report); err != nil {
					return err
				}
				if cr.Report.State != runner.StateSucceeded {
					failed++
				}
			}

			if !keep {
				ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
				defer cancel()
				if err := client.ResetSession(ctx, nb.SessionID); err != nil {
					fmt.Fprintln(c.stderr, yellow("could not reset session: "+err.Error()))
				}
			}

			summary := fmt.Sprintf("%d of %d cells succeeded", len(reports)-failed, len(reports))
			if failed > 0 {
				fmt.Fprintln(c.stderr, red(summary))
				return errFailed
			}
			fmt.Fprintln(c.stderr, green(summary))
			return nil
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", delay, "pause between cells")
	cmd.Flags().BoolVar(&keep, "keep-session", false, "leave the interpreter session alive afterwards")
	return cmd
}
