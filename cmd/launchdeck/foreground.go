package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/nerrad567/launchdeck/internal/infrastructure/logging"
	"github.com/nerrad567/launchdeck/internal/output"
	"github.com/nerrad567/launchdeck/internal/supervisor"
)

const (
	// foregroundQueue is sized for bursty tools; every line is an event.
	foregroundQueue = 16384

	// exitCheckInterval backs up the removed event in case it was dropped.
	exitCheckInterval = time.Second
)

type runOptions struct {
	errorsOnly   bool
	warningsOnly bool
	search       string
	pattern      string
	exportPath   string
	exportFormat string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <type>",
		Short: "Start one instance and tail its output until it exits or Ctrl-C",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground(cmd.Context(), args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&opts.errorsOnly, "errors-only", false, "Show only error lines")
	cmd.Flags().BoolVar(&opts.warningsOnly, "warnings-only", false, "Show only warning lines")
	cmd.Flags().StringVar(&opts.search, "grep", "", "Show only lines containing this text (case-insensitive)")
	cmd.Flags().StringVar(&opts.pattern, "regex", "", "Show only lines matching this regular expression")
	cmd.Flags().StringVar(&opts.exportPath, "export", "", "Write the captured output to this file on exit")
	cmd.Flags().StringVar(&opts.exportFormat, "format", string(output.FormatText), "Export format: text, json, csv or tsv")
	cmd.MarkFlagsMutuallyExclusive("errors-only", "warnings-only")

	return cmd
}

func (o runOptions) filter() (*output.Filter, error) {
	f := &output.Filter{}
	f.SetErrorsOnly(o.errorsOnly)
	f.SetWarningsOnly(o.warningsOnly)
	f.SetSearch(o.search)
	if err := f.SetPattern(o.pattern); err != nil {
		return nil, err
	}
	return f, nil
}

// runForeground starts one instance of typeName, prints its filtered
// output and stops it when ctx is cancelled.
func runForeground(ctx context.Context, typeName string, opts runOptions, stdout, stderr io.Writer) error {
	filter, err := opts.filter()
	if err != nil {
		return err
	}
	var format output.Format
	if opts.exportPath != "" {
		if format, err = output.ParseFormat(opts.exportFormat); err != nil {
			return err
		}
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	// Tool output owns stdout.
	logCfg := cfg.Logging
	if logCfg.Output == "" || logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	log := logging.New(logCfg, version)

	db, historyRepo, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-only after the run

	events := supervisor.NewDispatcher(foregroundQueue)
	events.SetLogger(log.Component("events"))

	svCfg := supervisorConfig(cfg)
	svCfg.PublishLines = true
	controller := newController(cfg, svCfg, log)
	controller.SetEvents(events)
	controller.SetHistory(historyRepo)

	tail := newTail(typeName, filter, stdout, stderr, svCfg.Buffer)
	events.Subscribe(tail)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var background conc.WaitGroup
	background.Go(func() { events.Run(bgCtx) })

	id, err := controller.StartInstance(ctx, typeName)
	if err != nil {
		stopBackground()
		background.Wait()
		return err
	}

	ticker := time.NewTicker(exitCheckInterval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			if err := controller.Stop(typeName, id); err != nil && !errors.Is(err, supervisor.ErrNotFound) {
				log.Error("stopping instance", "error", err)
			}
			break wait
		case <-tail.done:
			break wait
		case <-ticker.C:
			if controller.Count(typeName) == 0 {
				break wait
			}
		}
	}

	// Deliver everything still queued, including the removed event.
	stopBackground()
	background.Wait()

	if opts.exportPath != "" {
		if err := tail.export(opts.exportPath, format); err != nil {
			return err
		}
	}
	if dropped := events.Dropped(); dropped > 0 {
		fmt.Fprintf(stderr, "launchdeck: %d output lines were dropped\n", dropped)
	}

	if removed, ok := tail.result(); ok && removed.Reason == supervisor.ReasonExited && removed.Instance.ExitCode > 0 {
		return fmt.Errorf("%s exited with code %d", typeName, removed.Instance.ExitCode)
	}
	return nil
}

// tail prints line events of one process type and keeps a copy of them
// for export, since the instance's own buffer is released on removal.
type tail struct {
	typeName string
	filter   *output.Filter
	stdout   io.Writer
	stderr   io.Writer
	mirror   *output.Buffer

	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	removed *supervisor.Event
}

func newTail(typeName string, filter *output.Filter, stdout, stderr io.Writer, bufCfg output.BufferConfig) *tail {
	return &tail{
		typeName: typeName,
		filter:   filter,
		stdout:   stdout,
		stderr:   stderr,
		mirror:   output.NewBuffer(bufCfg),
		done:     make(chan struct{}),
	}
}

// HandleEvent implements supervisor.Sink. The dispatcher calls it from a
// single goroutine.
func (t *tail) HandleEvent(ev supervisor.Event) {
	if ev.Instance == nil || ev.Instance.Type != t.typeName {
		return
	}

	switch ev.Kind {
	case supervisor.EventLineAppended:
		if ev.Line == nil {
			return
		}
		t.mirror.Append(ev.Line.Stream, ev.Line.Text)
		if !t.filter.Match(*ev.Line) {
			return
		}
		w := t.stdout
		if ev.Line.Stream == output.Stderr {
			w = t.stderr
		}
		fmt.Fprintln(w, ev.Line.Text)

	case supervisor.EventInstanceRemoved:
		t.mu.Lock()
		t.removed = &ev
		t.mu.Unlock()
		t.doneOnce.Do(func() { close(t.done) })
	}
}

func (t *tail) result() (supervisor.Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removed == nil {
		return supervisor.Event{}, false
	}
	return *t.removed, true
}

func (t *tail) export(path string, format output.Format) error {
	f, err := os.Create(path) //nolint:gosec // path is given by the operator
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := t.mirror.Export(f, format); err != nil {
		f.Close() //nolint:errcheck // already failing
		return fmt.Errorf("exporting output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}
	return nil
}
