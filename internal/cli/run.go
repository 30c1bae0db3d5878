package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mrz1836/replisync/internal/binding"
	"github.com/mrz1836/replisync/internal/credentials"
	"github.com/mrz1836/replisync/internal/eventstream"
	"github.com/mrz1836/replisync/internal/journal"
	"github.com/mrz1836/replisync/internal/metrics"
	"github.com/mrz1836/replisync/internal/network"
	"github.com/mrz1836/replisync/internal/output"
	"github.com/mrz1836/replisync/internal/retry"
	"github.com/mrz1836/replisync/internal/session"
	"github.com/mrz1836/replisync/internal/watch"
	syncerr "github.com/mrz1836/replisync/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	runUntilBound bool
	runReplica    string
)

// runCmd runs a synchronization session in the foreground.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synchronization session",
	Long: `Start a session for the configured replica and keep it bound until
interrupted.

Credentials come from credentials.file when set, otherwise from the secret
stored by 'replisync login'. Every event is printed as it happens, recorded
in the journal and, when configured, streamed on events.addr and exported on
metrics.addr.

With --until-bound the command exits once the replica is bound, or fails if
the credentials are rejected.`,
	Example: `  replisync run
  replisync run --until-bound -o json
  replisync run --replica /var/lib/app/replica.db`,
	Annotations: map[string]string{annotationStates: ""},
	Args:        cobra.NoArgs,
	RunE:        runRun,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	runCmd.GroupID = groupSession
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runUntilBound, "until-bound", false, "exit once the replica is bound")
	runCmd.Flags().StringVar(&runReplica, "replica", "", "replica path (default: replica.path from config)")
}

// daemon owns a running session and everything wired around it.
type daemon struct {
	sess    *session.Session
	closers []func() error
	log     session.Logger
}

func (d *daemon) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// shutdown stops the session, waits for its background work and releases
// the collaborators in reverse order of acquisition.
func (d *daemon) shutdown() {
	if d.sess != nil {
		if err := d.sess.Stop(); err != nil && !syncerr.Is(err, syncerr.ErrSessionStopped) {
			d.log.Error("run: stopping session: %v", err)
		}
		d.sess.Wait()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.Error("run: shutdown: %v", err)
		}
	}
}

// outcome reports how an --until-bound run ended.
type outcome struct {
	bound bool
	err   error
}

func runRun(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)

	creds, err := loadCredentials(cc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan outcome, 1)
	d, err := newDaemon(ctx, cmd, cc, creds, done)
	if err != nil {
		return err
	}
	defer d.shutdown()

	if err := d.sess.Start(); err != nil {
		return err
	}
	if err := d.sess.Bind(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		cc.Log.Debug("run: interrupted")
		return nil
	case o := <-done:
		if !o.bound {
			return o.err
		}
		if h, ok := d.sess.Handle(); ok && !cc.Fmt.IsJSON() {
			out(cmd.OutOrStdout(), "Replica bound as handle %d\n", h)
		}
		return nil
	}
}

// newDaemon builds the session and its collaborators. Whatever was acquired
// is released again when construction fails.
func newDaemon(ctx context.Context, cmd *cobra.Command, cc *CommandContext, creds credentials.Credentials, done chan<- outcome) (*daemon, error) {
	d := &daemon{log: cc.Log}
	if err := d.build(ctx, cmd, cc, creds, done); err != nil {
		d.shutdown()
		return nil, err
	}
	return d, nil
}

func (d *daemon) build(ctx context.Context, cmd *cobra.Command, cc *CommandContext, creds credentials.Credentials, done chan<- outcome) error {
	client, err := newAuthClient(ctx, cc)
	if err != nil {
		return err
	}
	client = metrics.Global.InstrumentAuth(client)

	binder, err := runBinder(cc)
	if err != nil {
		return err
	}
	if c, ok := binder.(io.Closer); ok && cc.Binder == nil {
		d.onClose(c.Close)
	}

	j, err := journal.Open(cc.Cfg.ResolvePath(cc.Cfg.Journal.Path), cc.Log.Named("journal"))
	if err != nil {
		return err
	}
	d.onClose(j.Close)

	listeners := []session.Listener{metrics.Global, j, eventPrinter(cmd, cc)}
	if runUntilBound {
		listeners = append(listeners, untilBound(done))
	}

	if addr := cc.Cfg.Events.Addr; addr != "" {
		hub := eventstream.NewHub(cc.Log.Named("events"))
		bound, err := hub.Start(addr)
		if err != nil {
			return syncerr.Wrap(err, "starting event stream on %s", addr)
		}
		d.onClose(hub.Close)
		listeners = append(listeners, hub)
		cc.Log.Debug("run: event stream on ws://%s/ws", bound)
	}

	if addr := cc.Cfg.Metrics.Addr; addr != "" {
		srv, err := metrics.Serve(metrics.Global, addr)
		if err != nil {
			return syncerr.Wrap(err, "serving metrics on %s", addr)
		}
		d.onClose(srv.Close)
		cc.Log.Debug("run: metrics on %s", srv.URL())
	}

	watcher := runNetwork(ctx, cc, d)

	path := runReplica
	if path == "" {
		path = cc.Cfg.Replica.Path
	}

	d.sess, err = session.New(&session.Options{
		Path:          cc.Cfg.ResolvePath(path),
		Auth:          client,
		Binder:        binder,
		Network:       watcher,
		Store:         credentials.NewStore(creds, cc.TokenCache()),
		Pool:          retry.NewPool(cc.Cfg.Retry.Workers),
		MaxDelay:      cc.Cfg.MaxDelay(),
		Scale:         cc.Cfg.Retry.Scale,
		RefreshMargin: cc.Cfg.RefreshMargin(),
		Logger:        cc.Log.Named("session"),
		Listeners:     listeners,
	})
	if err != nil {
		return syncerr.Wrap(err, "creating session")
	}

	if file := cc.Cfg.Credentials.File; file != "" {
		w, err := watch.New(cc.Cfg.ResolvePath(file), d.sess, watch.Options{Logger: cc.Log.Named("watch")})
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		d.onClose(w.Stop)
	}

	if !cc.Fmt.IsJSON() {
		out(cmd.OutOrStdout(), "Session %s for %s (replica %s)\n", d.sess.ID(), creds.Identity, cc.Cfg.ResolvePath(path))
	}
	return nil
}

// runBinder returns the injected binder or a libsql binder for server.url.
func runBinder(cc *CommandContext) (binding.Binder, error) {
	if cc.Binder != nil {
		return cc.Binder, nil
	}
	if cc.Cfg.Server.URL == "" {
		return nil, syncerr.WithSuggestion(
			syncerr.WithDetails(syncerr.ErrConfigInvalid, map[string]string{"missing": "server.url"}),
			"Run 'replisync config set server.url <url>'",
		)
	}
	return binding.NewLibSQLBinder(cc.Cfg.Server.URL, &binding.LibSQLOptions{
		SyncInterval: cc.Cfg.SyncInterval(),
		Logger:       cc.Log.Named("binding"),
	}), nil
}

// runNetwork returns the injected watcher or starts a TCP probe. Without a
// probe address the session treats the network as always online.
func runNetwork(ctx context.Context, cc *CommandContext, d *daemon) network.Watcher {
	if cc.Network != nil {
		return cc.Network
	}

	addr := cc.Cfg.Network.ProbeAddress
	if addr == "" {
		var err error
		if addr, err = network.ProbeAddress(cc.Cfg.Server.URL); err != nil {
			cc.Log.Debug("run: connectivity probe disabled: %v", err)
			return nil
		}
	}

	probe := network.NewProbeWatcher(addr,
		network.WithInterval(cc.Cfg.ProbeInterval()),
		network.WithTimeout(cc.Cfg.ProbeTimeout()),
	)
	probe.Start(ctx)
	d.onClose(func() error {
		probe.Stop()
		return nil
	})
	return probe
}

// eventPrinter echoes session events to the command output.
func eventPrinter(cmd *cobra.Command, cc *CommandContext) session.Listener {
	w := cmd.OutOrStdout()
	if cc.Fmt.IsJSON() {
		f := output.NewFormatter(output.FormatJSON, w)
		return session.ListenerFunc(func(e session.Event) {
			if err := f.PrintLine(eventstream.FromEvent(e)); err != nil {
				cc.Log.Error("run: writing event: %v", err)
			}
		})
	}

	color := output.UseColor(w, output.ParseColorMode(cc.Cfg.Output.Color))
	return session.ListenerFunc(func(e session.Event) {
		if e.Type == session.EventStateExited && !cc.Cfg.Output.Verbose {
			return
		}
		out(w, "%s %s\n", e.At.Local().Format("15:04:05.000"), describeEvent(e, color))
	})
}

func describeEvent(e session.Event, color bool) string {
	switch e.Type {
	case session.EventStateEntered:
		return fmt.Sprintf("%s -> %s", e.From, output.StateColor(e.To.String(), color))
	case session.EventStateExited:
		return fmt.Sprintf("leaving %s", e.From)
	}

	s := output.StateColor(string(e.Type), color)
	if e.Type == session.EventAuthFailed || e.Type == session.EventBindFailed {
		s += fmt.Sprintf(" (attempt %d, next in %s)", e.Attempt, e.Next)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// untilBound reports the first terminal outcome of a bind: the replica
// bound, or the session parked waiting for new credentials.
func untilBound(done chan<- outcome) session.Listener {
	var lastErr error
	return session.ListenerFunc(func(e session.Event) {
		switch {
		case e.Type == session.EventAuthRejected || e.Type == session.EventAuthFailed || e.Type == session.EventBindFailed:
			lastErr = e.Err
		case e.Type != session.EventStateEntered:
		case e.To == session.StateBound:
			report(done, outcome{bound: true})
		case e.To == session.StateAuthenticationRequired:
			if errors.Is(lastErr, syncerr.ErrTokenExpired) {
				// The replica refused the token; the session re-authenticates
				return
			}
			report(done, outcome{err: causedBy(syncerr.ErrInvalidCredentials, lastErr)})
		case e.From == session.StateBinding && e.To == session.StateUnbound:
			report(done, outcome{err: causedBy(syncerr.ErrBindFailed, lastErr)})
		}
	})
}

func causedBy(base, cause error) error {
	if cause == nil {
		return base
	}
	return syncerr.WithCause(base, cause)
}

func report(done chan<- outcome, o outcome) {
	select {
	case done <- o:
	default:
	}
}
