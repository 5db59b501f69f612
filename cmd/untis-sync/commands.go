package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tartampluch/go-untis-sync/internal/atomicfile"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
	"github.com/tartampluch/go-untis-sync/internal/locale"
	"github.com/tartampluch/go-untis-sync/internal/provider"
	"github.com/tartampluch/go-untis-sync/internal/scheduler"
	"github.com/tartampluch/go-untis-sync/internal/secrets"
	"github.com/tartampluch/go-untis-sync/internal/server"
	"github.com/tartampluch/go-untis-sync/internal/state"
)

var errUsage = errors.New(config.ErrUsage)

// app wires the settings snapshot to the sync engine and its collaborators.
type app struct {
	settings config.Settings
	syncer   *engine.Syncer
	store    *state.Store
	clock    engine.Clock

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newApp(s config.Settings) (*app, error) {
	catalog, err := locale.NewCatalog()
	if err != nil {
		return nil, err
	}
	clock := engine.RealClock{}
	return &app{
		settings: s,
		syncer: &engine.Syncer{
			Clock:     clock,
			Fetcher:   engine.NewUntisFetcher(),
			Providers: provider.New,
			Phrases:   catalog.Phrasebook(s.Language),
		},
		store:  state.NewStore(s.StateFile),
		clock:  clock,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}, nil
}

// run dispatches the subcommand in args.
func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	if cmd != config.CmdSecret {
		a.settings = secrets.Resolve(a.settings)
	}

	switch cmd {
	case config.CmdSync:
		return a.sync(ctx, rest)
	case config.CmdShow:
		return a.show(ctx, rest)
	case config.CmdExport:
		return a.export(ctx, rest)
	case config.CmdDaemon:
		return a.daemon(ctx)
	case config.CmdSecret:
		return a.secret(rest)
	default:
		return fmt.Errorf("%w: "+config.MsgUsageCommand, errUsage, cmd)
	}
}

func (a *app) parse(name string, args []string, fs *flag.FlagSet) error {
	fs.SetOutput(a.stderr)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %w", errUsage, name, err)
	}
	return nil
}

// sync runs one synchronization and prints its counters.
func (a *app) sync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(config.CmdSync, flag.ContinueOnError)
	noPush := fs.Bool(config.FlagNoPush, false, config.FlagDescNoPush)
	if err := a.parse(config.CmdSync, args, fs); err != nil {
		return err
	}

	push := !*noPush
	res, runErr := a.syncer.Run(ctx, a.settings, push)
	if push {
		if err := a.store.Record(a.clock.Now(), res.Pushed, runErr, false); err != nil {
			slog.Warn(config.MsgStateFailed, config.LogKeyComponent, config.CompMain, config.LogKeyError, err)
		}
	}
	fmt.Fprintf(a.stdout, config.MsgSyncSummary, len(res.Lessons), res.Pushed, len(res.Events), res.Failed, res.Pruned)
	return runErr
}

// show prints the view model of the current sync window without pushing.
func (a *app) show(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(config.CmdShow, flag.ContinueOnError)
	asJSON := fs.Bool(config.FlagJSON, false, config.FlagDescJSON)
	if err := a.parse(config.CmdShow, args, fs); err != nil {
		return err
	}

	res, err := a.syncer.Run(ctx, a.settings, false)
	if err != nil {
		return err
	}
	entries := engine.BuildViewModel(res.Lessons, engine.ViewOptions{
		Mode:             a.settings.Mode,
		GapMinutes:       a.settings.GapMinutes,
		IncludeCancelled: a.settings.IncludeCancelled,
		IncludeBreaks:    a.settings.IncludeBreaks,
	})

	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	loc, err := a.settings.Location()
	if err != nil {
		return err
	}
	printView(a.stdout, entries, loc, a.syncer.Phrases)
	return nil
}

// printView writes one line per view entry.
func printView(w io.Writer, entries []engine.ViewEntry, loc *time.Location, phrases engine.Phrasebook) {
	if phrases == nil {
		phrases = engine.FallbackPhrasebook{}
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, config.MsgShowEmpty)
		return
	}
	for _, e := range entries {
		start, end := e.Start().In(loc), e.End().In(loc)
		fmt.Fprintf(w, config.MsgShowLine,
			start.Format(config.DateKeyLayout),
			start.Format(config.ClockLayout),
			end.Format(config.ClockLayout),
			e.Kind,
			describe(e, phrases),
		)
	}
}

func describe(e engine.ViewEntry, phrases engine.Phrasebook) string {
	switch e.Kind {
	case engine.KindLesson:
		l := e.Lesson
		text := l.Subject
		if details := strings.Join(append(append([]string{}, l.Rooms...), l.Teachers...), config.LabelJoin); details != "" {
			text += " (" + details + ")"
		}
		if l.Cancelled {
			text += " [" + config.UntisCodeCancelled + "]"
		}
		return text
	case engine.KindBlock:
		b := e.Block
		text := strings.Join(b.Subjects, config.SubjectJoin)
		if len(b.Rooms) > 0 {
			text += " (" + strings.Join(b.Rooms, config.LabelJoin) + ")"
		}
		return text
	case engine.KindSummary:
		return strings.ReplaceAll(phrases.DayDescription(e.Summary.LessonCount, e.Summary.BreakMinutes), "\n", config.LabelJoin)
	case engine.KindBreak:
		return fmt.Sprintf(config.MsgShowBreak, e.Break.Minutes)
	}
	return ""
}

// export writes the calendar events of the sync window to an .ics file.
func (a *app) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(config.CmdExport, flag.ContinueOnError)
	out := fs.String(config.FlagOutput, "", config.FlagDescOutput)
	if err := a.parse(config.CmdExport, args, fs); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("%w: "+config.MsgUsageArgs, errUsage, config.CmdExport, "-"+config.FlagOutput+" file.ics")
	}

	res, err := a.syncer.Run(ctx, a.settings, false)
	if err != nil {
		return err
	}
	data, err := engine.EncodeICS(res.Events, a.settings.Local.Name, a.clock.Now())
	if err != nil {
		return err
	}
	if err := atomicfile.Write(*out, data, config.FilePermUserRW, config.DirPermUserRWX); err != nil {
		return fmt.Errorf("%s: %w", config.ErrCalendarSave, err)
	}
	fmt.Fprintf(a.stdout, config.MsgExportSummary, len(res.Events), *out)
	return nil
}

// daemon serves the feed and runs the daily scheduler until ctx is cancelled.
func (a *app) daemon(ctx context.Context) error {
	srv := server.NewFeedServer(a.settings.ServerPort, a.settings.Local.Name)
	srv.Clock = a.clock
	srv.Status = a.store.Load

	publish := func(res engine.Result, err error) {
		// Fetch and configuration failures carry no events; keep serving the previous feed.
		if errors.Is(err, engine.ErrSourceFetch) || errors.Is(err, engine.ErrConfiguration) {
			return
		}
		if err := srv.Publish(res.Events); err != nil {
			slog.Error(config.ErrICalEncode, config.LogKeyComponent, config.CompMain, config.LogKeyError, err)
		}
	}

	// Fill the feed right away; the push itself waits for the schedule.
	publish(a.syncer.Run(ctx, a.settings, false))

	sched := &scheduler.Scheduler{
		Settings: a.settings,
		Clock:    a.clock,
		Store:    a.store,
		Run: func(ctx context.Context) (engine.Result, error) {
			return a.syncer.Run(ctx, a.settings, true)
		},
		OnResult: publish,
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	srvErr := srv.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.ShutdownTimeout)
	defer cancel()
	sched.Stop(stopCtx)
	return srvErr
}

// secret stores or removes a credential in the system keyring.
func (a *app) secret(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: "+config.MsgUsageArgs, errUsage, config.CmdSecret, "set|delete untis|google")
	}
	action, kind := args[0], args[1]
	if kind != config.SecretUntis && kind != config.SecretGoogle {
		return fmt.Errorf("%w: %s: %q", errUsage, config.ErrSecretKind, kind)
	}

	switch action {
	case config.SecretActionSet:
		fmt.Fprintf(a.stderr, config.MsgSecretPrompt, kind)
		scanner := bufio.NewScanner(a.stdin)
		value := ""
		if scanner.Scan() {
			value = strings.TrimSpace(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("%s: %w", config.ErrSecretWrite, err)
		}
		if err := secrets.Set(kind, a.settings, value); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, config.MsgSecretStored)
	case config.SecretActionDelete:
		if err := secrets.Delete(kind, a.settings); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, config.MsgSecretDeleted)
	default:
		return fmt.Errorf("%w: "+config.MsgUsageArgs, errUsage, config.CmdSecret, "set|delete untis|google")
	}
	return nil
}
