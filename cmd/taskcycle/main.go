package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"taskcycle/internal/config"
	"taskcycle/internal/export"
	"taskcycle/internal/lifecycle"
	"taskcycle/internal/logging"
	"taskcycle/internal/notifications"
	"taskcycle/internal/recurrence"
	"taskcycle/internal/storage"
	"taskcycle/internal/task"
)

const usage = `taskcycle - recurring task scheduler

Usage:
  taskcycle                                   Start the daemon
  taskcycle init                              Create default configuration and templates
  taskcycle next <rrule> <from> [include]     Print the next occurrence after from
  taskcycle preview <rrule> <from> [n]        Print the first n occurrences (default 5)
  taskcycle validate <rrule>                  Check a rule strictly
  taskcycle add <title> <due> [rrule] [mode]  Create a task
  taskcycle complete <id>                     Complete a task and create its successor
  taskcycle list                              List open tasks by effective due date
  taskcycle export <file|->                   Write open tasks as an iCalendar VTODO file
  taskcycle help                              Show this help

Dates are YYYY-MM-DD, YYYY-MM-DDTHH:MM or RFC 3339, in local time.
Modes are dueDate, completedAt and autoRollover.
Sending SIGHUP to the daemon reloads notification templates.
`

func main() {
	if len(os.Args) < 2 {
		if err := runDaemon(); err != nil {
			fmt.Fprintf(os.Stderr, "taskcycle: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "init":
		err = runInit(os.Stdout)
	case "next":
		err = runNext(os.Stdout, args)
	case "preview":
		err = runPreview(os.Stdout, args)
	case "validate":
		err = runValidate(os.Stdout, args)
	case "add", "complete", "list", "export":
		err = withService(func(ctx context.Context, svc *lifecycle.Service, store storage.TaskStore) error {
			switch cmd {
			case "add":
				return runAdd(ctx, os.Stdout, svc, args)
			case "complete":
				return runComplete(ctx, os.Stdout, svc, args)
			case "list":
				return runList(ctx, os.Stdout, svc, store)
			default:
				return runExport(ctx, svc, store, args)
			}
		})
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintf(os.Stderr, "Use 'taskcycle help' for usage information\n")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskcycle %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := storage.Open(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer store.Close()

	d, err := NewDaemon(cfg, store, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	if open, upcoming, err := d.Status(ctx, time.Now()); err == nil {
		log.Info().Int("open", open).Int("due_24h", len(upcoming)).Msg("status")
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			d.ReloadTemplates()
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return d.Stop()
		}
	}
}

func runInit(w io.Writer) error {
	path, err := config.WriteDefaultConfig()
	if err != nil {
		return fmt.Errorf("failed to create default config: %w", err)
	}
	fmt.Fprintf(w, "Created default configuration at: %s\n", path)

	dir, err := notifications.CreateDefaultTemplates("")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Created default notification templates in: %s\n", dir)
	return nil
}

func runNext(w io.Writer, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: next <rrule> <from> [include]")
	}
	from, err := parseTime(args[1])
	if err != nil {
		return err
	}
	include := false
	if len(args) > 2 {
		if include, err = strconv.ParseBool(args[2]); err != nil {
			return fmt.Errorf("invalid include flag %q", args[2])
		}
	}
	next, ok := recurrence.NextOccurrence(args[0], from, include).Get()
	if !ok {
		return errors.New("no occurrence")
	}
	fmt.Fprintln(w, next.Format(time.RFC3339))
	return nil
}

func runPreview(w io.Writer, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: preview <rrule> <from> [n]")
	}
	rule, err := recurrence.Validate(args[0])
	if err != nil {
		return err
	}
	from, err := parseTime(args[1])
	if err != nil {
		return err
	}
	n := 5
	if len(args) > 2 {
		if n, err = strconv.Atoi(args[2]); err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", args[2])
		}
	}
	fmt.Fprintf(w, "%s (%s)\n", rule, rule.Describe())
	for _, at := range rule.Occurrences(from, true, n) {
		fmt.Fprintf(w, "  %s\n", at.Format("Mon 2006-01-02 15:04"))
	}
	return nil
}

func runValidate(w io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: validate <rrule>")
	}
	rule, err := recurrence.Validate(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n%s\n", rule, rule.Describe())
	return nil
}

// withService opens the configured store for a one-shot command
func withService(fn func(context.Context, *lifecycle.Service, storage.TaskStore) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Storage.Driver == "memory" {
		return errors.New("task commands need persistent storage, set storage.driver to sqlite")
	}
	log, closer, err := logging.New(config.LoggingConfig{Level: "warn"})
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := storage.Open(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := lifecycle.NewService(store, log, lifecycle.WithResolver(task.NewResolver(cfg.Rollover.MaxYears)))
	return fn(context.Background(), svc, store)
}

func runAdd(ctx context.Context, w io.Writer, svc *lifecycle.Service, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: add <title> <due> [rrule] [mode]")
	}
	due, err := parseTime(args[1])
	if err != nil {
		return err
	}
	t := task.Task{Title: args[0], DueDate: &due}
	if len(args) > 2 {
		t.Recurring = args[2]
	}
	if len(args) > 3 {
		t.RecurringMode = task.Mode(args[3])
	}
	created, err := svc.Create(ctx, t, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(w, created.ID)
	return nil
}

func runComplete(ctx context.Context, w io.Writer, svc *lifecycle.Service, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: complete <id>")
	}
	res, err := svc.Complete(ctx, args[0], time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "completed %s\n", res.Completed.ID)
	if next, ok := res.Next.Get(); ok {
		fmt.Fprintf(w, "next %s due %s\n", next.ID, next.DueDate.Format(time.RFC3339))
	}
	return nil
}

func runList(ctx context.Context, w io.Writer, svc *lifecycle.Service, store storage.TaskStore) error {
	now := time.Now()
	tasks, err := store.List(ctx, storage.Filter{OpenOnly: true})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDUE\tTITLE\tREPEATS")
	for _, t := range tasks {
		due := "-"
		if at, ok := svc.Resolver().EffectiveDueDate(t, now).Get(); ok {
			due = at.Local().Format("2006-01-02 15:04")
		}
		repeats := ""
		if rule, ok := recurrence.Parse(t.Recurring).Get(); ok {
			repeats = rule.Describe()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, due, t.Title, repeats)
	}
	return tw.Flush()
}

func runExport(ctx context.Context, svc *lifecycle.Service, store storage.TaskStore, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: export <file|->")
	}
	tasks, err := store.List(ctx, storage.Filter{OpenOnly: true})
	if err != nil {
		return err
	}
	var out io.Writer = os.Stdout
	if args[0] != "-" {
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return export.NewExporter(svc.Resolver()).Encode(out, tasks, time.Now())
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
