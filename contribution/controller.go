// Package contribution ties a language server connection to the client-side
// features that consume its notifications.
//
// A Controller waits for a connection handle, registers the feature handlers
// once, attaches the notification dispatcher to the session and keeps the
// highlight CodeLens provider in step with the user's preferences. Every
// registration it makes is undone by Dispose.
package contribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/codelens"
	"github.com/springtools/stsclient/command"
	"github.com/springtools/stsclient/dispatch"
	"github.com/springtools/stsclient/disposable"
	"github.com/springtools/stsclient/highlight"
	"github.com/springtools/stsclient/logger"
	"github.com/springtools/stsclient/lsclient"
	"github.com/springtools/stsclient/opener"
	"github.com/springtools/stsclient/progress"
	"github.com/springtools/stsclient/rpc"
	"github.com/springtools/stsclient/selector"
	"github.com/springtools/stsclient/settings"
)

var (
	ErrDisposed      = errors.New("contribution disposed")
	ErrMissingOption = errors.New("missing required option")
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAttached
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAttached:
		return "attached"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Preferences is the source of the settings that gate highlights.
type Preferences interface {
	Get() settings.Settings
	OnChange(fn func(settings.Change)) disposable.Disposable
}

type CodeLensRegistrar interface {
	Register(languageID string, p codelens.Provider) disposable.Disposable
}

type CommandRegistrar interface {
	Register(id string, h command.Handler) (disposable.Disposable, error)
}

type Options struct {
	Dispatcher  *dispatch.Dispatcher
	Preferences Preferences

	Progress          *progress.Service
	Highlights        *highlight.Service
	HighlightCodeLens *highlight.CodeLensService

	CodeLenses CodeLensRegistrar
	Commands   CommandRegistrar
	Openers    *opener.Service

	// OnAttach, if set, is called with every session the controller attaches
	// to, and with nil when it lets go of one. It runs under the controller's
	// lock and must not call back into the controller.
	OnAttach func(*lsclient.Session)

	Log *slog.Logger
}

func (o Options) validate() error {
	switch {
	case o.Dispatcher == nil:
		return fmt.Errorf("%w: Dispatcher", ErrMissingOption)
	case o.Preferences == nil:
		return fmt.Errorf("%w: Preferences", ErrMissingOption)
	case o.Progress == nil:
		return fmt.Errorf("%w: Progress", ErrMissingOption)
	case o.Highlights == nil:
		return fmt.Errorf("%w: Highlights", ErrMissingOption)
	case o.HighlightCodeLens == nil:
		return fmt.Errorf("%w: HighlightCodeLens", ErrMissingOption)
	case o.CodeLenses == nil:
		return fmt.Errorf("%w: CodeLenses", ErrMissingOption)
	case o.Commands == nil:
		return fmt.Errorf("%w: Commands", ErrMissingOption)
	case o.Openers == nil:
		return fmt.Errorf("%w: Openers", ErrMissingOption)
	}
	return nil
}

// HighlightCodeLensEnabled reports whether highlight CodeLenses should be
// provided. Both preferences must be on.
func HighlightCodeLensEnabled(s settings.Settings) bool {
	return s.Highlights && s.HighlightCodeLens
}

type Controller struct {
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	// generation identifies the handle currently awaited; a waiter whose
	// generation is outdated must not attach.
	generation    uint64
	session       *lsclient.Session
	registrations []*dispatch.Registration
	attachment    *dispatch.Attachment
	prefSub       disposable.Disposable
	codeLensReg   disposable.Disposable
	commandReg    disposable.Disposable
}

// New registers the client commands and starts waiting for h. It does not
// block on the connection.
func New(h *lsclient.Handle, opts Options) (*Controller, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:   opts,
		log:    log.With("component", "contribution"),
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}

	reg, err := opts.Commands.Register(command.OpenURL, command.OpenURLHandler(opts.Openers))
	if err != nil {
		cancel()
		return nil, err
	}
	c.commandReg = reg

	c.mu.Lock()
	c.awaitLocked(h)
	c.mu.Unlock()
	return c, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the attached session, or nil.
func (c *Controller) Session() *lsclient.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAttached {
		return nil
	}
	return c.session
}

// CodeLensProviderRegistered reports whether the highlight CodeLens provider
// is currently registered.
func (c *Controller) CodeLensProviderRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codeLensReg != nil
}

// Reconnect lets go of the current session and waits for h instead.
// Notifications from the previous session are ignored from now on.
func (c *Controller) Reconnect(h *lsclient.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisposed {
		return ErrDisposed
	}

	if c.attachment != nil {
		c.attachment.Dispose()
		c.attachment = nil
		c.session = nil
		// A restarted server numbers document versions from scratch.
		c.opts.Progress.Reset()
		c.opts.Highlights.Reset()
		c.opts.HighlightCodeLens.Reset()
		c.notifyAttach(nil)
	}
	c.awaitLocked(h)
	return nil
}

// awaitLocked moves to Connecting and waits for h in the background.
func (c *Controller) awaitLocked(h *lsclient.Handle) {
	c.generation++
	gen := c.generation
	c.state = StateConnecting
	c.log.Debug("waiting for connection", "server", h.Name(), "generation", gen)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.LogPanic(r, "contribution waiter crashed", "server", h.Name())
			}
		}()

		select {
		case <-h.Done():
		case <-c.ctx.Done():
			return
		}
		session, err := h.Result()
		c.onResolved(gen, session, err)
	}()
}

func (c *Controller) onResolved(gen uint64, session *lsclient.Session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisposed || gen != c.generation {
		c.log.Debug("ignoring late connection", "generation", gen)
		return
	}
	if err != nil {
		c.log.Warn("connection failed", "error", err)
		return
	}

	if err := c.registerHandlersLocked(); err != nil {
		c.log.Error("failed to register handlers", "error", err)
		return
	}

	att, err := c.opts.Dispatcher.Attach(session)
	if err != nil {
		c.log.Error("failed to attach", "sessionId", session.ID(), "error", err)
		return
	}
	c.attachment = att
	c.session = session
	c.state = StateAttached

	if c.prefSub == nil {
		c.prefSub = c.opts.Preferences.OnChange(c.onPreferenceChange)
	}
	c.toggleCodeLensLocked(c.opts.Preferences.Get())
	c.notifyAttach(session)

	c.log.Info("contribution attached", "sessionId", session.ID())
}

// registerHandlersLocked registers the feature handlers. It runs once per
// controller; the registrations survive reconnects.
func (c *Controller) registerHandlersLocked() error {
	if c.registrations != nil {
		return nil
	}
	d := c.opts.Dispatcher
	var regs []*dispatch.Registration
	add := func(r *dispatch.Registration, err error) error {
		if err != nil {
			return err
		}
		regs = append(regs, r)
		return nil
	}
	err := errors.Join(
		add(dispatch.Register(d, rpc.ProgressNotification, c.opts.Progress.Handle)),
		add(dispatch.Register(d, rpc.HighlightNotification, c.handleHighlight)),
		add(dispatch.Register(d, rpc.LogMessageNotification, c.handleLogMessage)),
		add(dispatch.Register(d, rpc.ShowMessageNotification, c.handleShowMessage)),
	)
	if err != nil {
		for _, r := range regs {
			r.Dispose()
		}
		return err
	}
	c.registrations = regs
	return nil
}

func (c *Controller) handleHighlight(ctx context.Context, p rpc.HighlightParams) error {
	if err := c.opts.Highlights.Handle(ctx, p); err != nil {
		return err
	}
	if c.opts.Preferences.Get().HighlightCodeLens {
		return c.opts.HighlightCodeLens.Handle(ctx, p)
	}
	return nil
}

func (c *Controller) handleLogMessage(ctx context.Context, p protocol.LogMessageParams) error {
	c.log.Log(ctx, messageLevel(p.Type), p.Message, "source", "server")
	return nil
}

func (c *Controller) handleShowMessage(ctx context.Context, p protocol.ShowMessageParams) error {
	c.log.Log(ctx, messageLevel(p.Type), p.Message, "source", "server", "show", true)
	return nil
}

func messageLevel(t protocol.MessageType) slog.Level {
	switch t {
	case protocol.MessageTypeError:
		return slog.LevelError
	case protocol.MessageTypeWarning:
		return slog.LevelWarn
	case protocol.MessageTypeInfo:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func (c *Controller) onPreferenceChange(ch settings.Change) {
	if !ch.Has(settings.KeyHighlights, settings.KeyHighlightCodeLens) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisposed {
		return
	}
	c.toggleCodeLensLocked(ch.Settings)
}

// toggleCodeLensLocked registers or removes the provider so that it is
// registered exactly when the predicate holds.
func (c *Controller) toggleCodeLensLocked(s settings.Settings) {
	enabled := HighlightCodeLensEnabled(s)
	switch {
	case enabled && c.codeLensReg == nil:
		c.codeLensReg = c.opts.CodeLenses.Register(selector.LanguageJava, c.opts.HighlightCodeLens)
		c.log.Debug("highlight codelens provider registered")
	case !enabled && c.codeLensReg != nil:
		c.codeLensReg.Dispose()
		c.codeLensReg = nil
		c.log.Debug("highlight codelens provider removed")
	}
}

func (c *Controller) notifyAttach(s *lsclient.Session) {
	if c.opts.OnAttach != nil {
		c.opts.OnAttach(s)
	}
}

// Dispose undoes every registration the controller made. A connection that
// resolves afterwards is ignored. Calling Dispose again does nothing.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = StateDisposed
	c.generation++
	c.cancel()

	var g disposable.Group
	for _, r := range c.registrations {
		g.Add(r)
	}
	if c.attachment != nil {
		g.Add(c.attachment)
	}
	if c.prefSub != nil {
		g.Add(c.prefSub)
	}
	if c.codeLensReg != nil {
		g.Add(c.codeLensReg)
	}
	if c.commandReg != nil {
		g.Add(c.commandReg)
	}
	hadSession := c.session != nil
	c.registrations = nil
	c.attachment = nil
	c.session = nil
	c.prefSub = nil
	c.codeLensReg = nil
	c.commandReg = nil
	if hadSession {
		c.notifyAttach(nil)
	}
	c.mu.Unlock()

	g.Dispose()
	c.log.Info("contribution disposed", "from", prev.String())
}
