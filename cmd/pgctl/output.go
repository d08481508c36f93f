package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/notebook-playground/internal/runner"
)

// printReport writes the display of rep: text to stdout, errors emphasised on
// stderr, artifacts as PNG files under --out named <prefix>_<n>.png.
func (c *cli) printReport(prefix string, rep runner.Report) error {
	disp := rep.Display
	switch rep.State {
	case runner.StateWaitingForInput:
		fmt.Fprintln(c.stderr, yellow(disp.Notice))
		return nil
	case runner.StateFailed:
		if disp.Text != "" {
			fmt.Fprintln(c.stdout, disp.Text)
		}
		label := "Error"
		switch disp.Failure {
		case runner.FailureTimeout:
			label = "Timeout"
		case runner.FailureTransport:
			label = "Connection error"
		}
		fmt.Fprintln(c.stderr, red(label+":"))
		fmt.Fprintln(c.stderr, red(strings.TrimRight(disp.Error, "\n")))
	default:
		if disp.Text != "" {
			fmt.Fprintln(c.stdout, disp.Text)
		}
	}

	paths, err := c.writeArtifacts(prefix, disp.Artifacts)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(c.stderr, gray("wrote "+p))
	}
	if len(disp.Artifacts) > 0 && c.out == "" {
		fmt.Fprintln(c.stderr, gray(fmt.Sprintf("%d plot(s) not saved, use --out DIR", len(disp.Artifacts))))
	}
	if rep.Dispatched() {
		fmt.Fprintln(c.stderr, gray(fmt.Sprintf("%.2fs", rep.Elapsed.Seconds())))
	}
	return nil
}

// writeArtifacts decodes each artifact into out. Files are numbered by
// encounter order, not by the ordinal the service printed.
func (c *cli) writeArtifacts(prefix string, artifacts []runner.Artifact) ([]string, error) {
	if c.out == "" || len(artifacts) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(c.out, 0o755); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(prefix, filepath.Ext(prefix))
	paths := make([]string, 0, len(artifacts))
	for i, a := range artifacts {
		data, err := a.Decode()
		if err != nil {
			fmt.Fprintln(c.stderr, yellow(fmt.Sprintf("skipping artifact %d: %v", i+1, err)))
			continue
		}
		path := filepath.Join(c.out, fmt.Sprintf("%s_%d.png", base, i+1))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
