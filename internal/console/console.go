// Package console implements the operator REPL in front of the server.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/CZERTAINLY/srvmgr/internal/log"
	"github.com/CZERTAINLY/srvmgr/internal/serverpath"
	"github.com/CZERTAINLY/srvmgr/internal/service"
)

const (
	cmdHelp    = "help"
	cmdExit    = "exit"
	cmdRestart = "restart"
	cmdSetPath = "setpath"
)

// Classify maps a line typed by the operator to an intent. The line is
// trimmed first. help and setpath are handled by the console itself and
// report false.
func Classify(line string) (service.Intent, bool) {
	switch cmd := strings.TrimSpace(line); cmd {
	case cmdHelp, cmdSetPath:
		return service.Intent{}, false
	case cmdExit:
		return service.Exit(), true
	case cmdRestart:
		return service.RestartServer(), true
	default:
		return service.SendCommand(cmd), true
	}
}

// Console reads operator lines from in and writes prompts to out.
type Console struct {
	out        io.Writer
	styles     log.Styles
	store      serverpath.Store
	serverName string
	logger     *slog.Logger

	lines chan string
	err   error // read error, valid once lines is closed
	done  chan struct{}
	once  sync.Once
}

type Option func(*Console)

// WithStore sets where setpath remembers the new path.
func WithStore(store serverpath.Store) Option {
	return func(c *Console) {
		c.store = store
	}
}

// WithServerName sets the executable name used in prompts.
func WithServerName(name string) Option {
	return func(c *Console) {
		c.serverName = name
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Console) {
		c.logger = logger
	}
}

func WithStyles(styles log.Styles) Option {
	return func(c *Console) {
		c.styles = styles
	}
}

// New returns a Console and starts reading in. Close stops the reader.
func New(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		out:        out,
		styles:     log.NewStyles(out),
		store:      serverpath.NewStore("SPTSMconfig.txt"),
		serverName: "SPT.Server.exe",
		logger:     slog.Default(),
		lines:      make(chan string),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.read(in)
	return c
}

func (c *Console) read(in io.Reader) {
	defer close(c.lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case c.lines <- scanner.Text():
		case <-c.done:
			return
		}
	}
	c.err = scanner.Err()
}

// Close stops delivering lines. A reader blocked on in stays blocked until in
// returns.
func (c *Console) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// ReadLine returns the next line without its terminator. It returns io.EOF at
// the end of the input and the context error when ctx is done first.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			if c.err != nil {
				return "", c.err
			}
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run reads operator lines until exit, the end of input or ctx is done, and
// turns them into intents. It never closes intents.
func (c *Console) Run(ctx context.Context, intents chan<- service.Intent) error {
	c.printf("Type '%s' to see available commands.\n\n", c.styles.Command.Render(cmdHelp))
	for {
		line, err := c.ReadLine(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			c.logger.DebugContext(ctx, "console input closed")
			send(ctx, intents, service.Exit())
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			send(ctx, intents, service.Exit())
			return fmt.Errorf("reading console: %w", err)
		}

		switch cmd := strings.TrimSpace(line); cmd {
		case cmdHelp:
			c.Help()
		case cmdSetPath:
			path, err := c.setPath(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.ErrorContext(ctx, "failed to read new path", "error", err)
				continue
			}
			if !send(ctx, intents, service.UpdatePath(path)) {
				return nil
			}
		default:
			intent, _ := Classify(cmd)
			if intent.Kind() == service.IntentRestart {
				c.printf("%s%s Restarting server...\n", c.styles.Tag(slog.LevelInfo), c.styles.Restart.Render(" ↻ "))
			}
			if !send(ctx, intents, intent) {
				return nil
			}
			if intent.Kind() == service.IntentExit {
				return nil
			}
		}
	}
}

// Help prints the command summary.
func (c *Console) Help() {
	cmd := func(name string, style lipgloss.Style) string {
		return style.Render(fmt.Sprintf("%-10s", name))
	}
	c.printf("\n%s Available commands:\n", c.styles.Help.Render("[HELP]"))
	c.printf("    %s - Display this help message\n", cmd(cmdHelp, c.styles.Command))
	c.printf("    %s - Stop the server and exit the program\n", cmd(cmdExit, c.styles.Exit))
	c.printf("    %s - Restart the server\n", cmd(cmdRestart, c.styles.Command))
	c.printf("    %s - Change the server executable path\n", cmd(cmdSetPath, c.styles.Accent))
	c.printf("    %s - Any other input will be sent to the server as a command\n\n", cmd("[command]", lipgloss.NewStyle()))
}

// PromptPath asks for the server path and whether to remember it.
func (c *Console) PromptPath(ctx context.Context) (string, bool, error) {
	c.printf("%s Please enter the path to %s: ", c.styles.Input.Render(" > "), c.serverName)
	path, err := c.ReadLine(ctx)
	if err != nil {
		return "", false, err
	}
	remember, err := c.confirm(ctx)
	if err != nil {
		return "", false, err
	}
	return path, remember, nil
}

// Acknowledge waits until the operator presses Enter or the input ends.
func (c *Console) Acknowledge(ctx context.Context) {
	c.printf("Press Enter to close this window...\n")
	_, _ = c.ReadLine(ctx)
}

func (c *Console) setPath(ctx context.Context) (string, error) {
	c.printf("- Please enter the new path to %s:\n", c.serverName)
	line, err := c.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	path := serverpath.Clean(line)
	remember, err := c.confirm(ctx)
	if err != nil {
		return "", err
	}
	if remember {
		if err := c.store.Save(path); err != nil {
			c.logger.ErrorContext(ctx, "failed to save path to config file", "path_file", c.store.Name, "error", err)
		}
	}
	return path, nil
}

func (c *Console) confirm(ctx context.Context) (bool, error) {
	c.printf("- Do you want to remember this path for future executions? (%s/%s):\n%s ",
		c.styles.Yes.Render("Y"),
		c.styles.No.Render("N"),
		c.styles.Input.Render(" > "),
	)
	answer, err := c.ReadLine(ctx)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(answer), "y"), nil
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// send enqueues intent unless ctx is done first.
func send(ctx context.Context, intents chan<- service.Intent, intent service.Intent) bool {
	select {
	case intents <- intent:
		return true
	case <-ctx.Done():
		return false
	}
}
