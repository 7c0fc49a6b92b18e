package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"personad/internal/persona"
	"personad/internal/resolver"
)

const replHelp = `Type a task description to activate personas.
  /force <name> <task>   activate a persona directly
  /max <n>               limit personas per activation (0 = default)
  /list                  list registered personas
  /show <name>           show a persona definition
  /reload                reload definitions from disk
  /stats                 watcher statistics
  /quit                  exit`

// replSession executes REPL lines against a container.
type replSession struct {
	container   *Container
	watcher     *persona.Watcher
	out         io.Writer
	asJSON      bool
	maxPersonas int
}

var errQuit = errors.New("quit")

// RunInteractive runs a readline loop (arrow keys, history) until EOF or /quit.
func RunInteractive(ctx context.Context, container *Container, asJSON bool) error {
	session := &replSession{container: container, out: os.Stdout, asJSON: asJSON}

	if container.Config.Personas.Watch {
		w, err := container.StartWatcher(ctx)
		if err != nil {
			container.Logger.Warn("persona watcher disabled: %v", err)
		} else {
			session.watcher = w
		}
	}

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("persona> "),
		HistoryFile:       filepath.Join(homeDir, ".personad-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		UniqueEditLine:    true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(os.Stdout, "%s (%d personas loaded)\n%s\n\n", bold("personad "+Version),
		container.Registry.Snapshot().Len(), gray(replHelp))

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := session.handle(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(session.out, "%s %v\n", red("Error:"), err)
		}
	}
}

func (s *replSession) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.activate(ctx, resolver.Query{Task: line, MaxPersonas: s.maxPersonas})
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "/quit", "/exit", "/q":
		return errQuit
	case "/help":
		_, err := fmt.Fprintln(s.out, replHelp)
		return err
	case "/force":
		name, task, _ := strings.Cut(rest, " ")
		if name == "" {
			return fmt.Errorf("usage: /force <name> <task>")
		}
		return s.activate(ctx, resolver.Query{Task: strings.TrimSpace(task), ForcedPersona: name})
	case "/max":
		var n int
		if _, err := fmt.Sscanf(rest, "%d", &n); err != nil || n < 0 {
			return fmt.Errorf("usage: /max <n>")
		}
		s.maxPersonas = n
		_, err := fmt.Fprintf(s.out, "max personas: %d\n", n)
		return err
	case "/list":
		return renderList(s.out, s.container.Registry.All(), s.asJSON)
	case "/show":
		def, err := s.container.Registry.Get(rest)
		if err != nil {
			return err
		}
		return renderDefinition(s.out, def, s.asJSON)
	case "/reload":
		if err := s.container.Registry.LoadDir(s.container.Config.Personas.Dir); err != nil {
			return err
		}
		snapshot := s.container.Registry.Snapshot()
		_, err := fmt.Fprintf(s.out, "reloaded %d personas (generation %d)\n", snapshot.Len(), snapshot.Generation())
		return err
	case "/stats":
		if s.watcher == nil {
			_, err := fmt.Fprintln(s.out, gray("watcher not running"))
			return err
		}
		stats := s.watcher.Stats()
		_, err := fmt.Fprintf(s.out, "events=%d reloads=%d failed=%d last_error=%q\n",
			stats.Events, stats.Reloads, stats.FailedReloads, stats.LastError)
		return err
	default:
		return fmt.Errorf("unknown command %s (try /help)", command)
	}
}

func (s *replSession) activate(ctx context.Context, query resolver.Query) error {
	result, err := s.container.Resolver.Activate(ctx, query)
	if err != nil {
		return err
	}
	return renderResult(s.out, result, s.asJSON)
}
