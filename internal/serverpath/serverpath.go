// Package serverpath finds the executable of the supervised server.
package serverpath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

var (
	ErrNoPath = errors.New("no server path")
	ErrEmpty  = errors.New("path file is empty")
)

// Clean normalizes a path typed by the operator or read from the path file:
// surrounding whitespace and double quotes are removed and backslashes become
// forward slashes.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, `"`)
	s = strings.TrimRight(s, `"`)
	return strings.ReplaceAll(s, `\`, "/")
}

// Store persists the server path in a plain text file.
type Store struct {
	Fs   afero.Fs
	Name string
}

// NewStore returns a Store backed by the operating system filesystem.
func NewStore(name string) Store {
	return Store{Fs: afero.NewOsFs(), Name: name}
}

// Load returns the cleaned content of the path file. A missing file returns an
// error matching os.ErrNotExist, a blank one ErrEmpty.
func (s Store) Load() (string, error) {
	b, err := afero.ReadFile(s.Fs, s.Name)
	if err != nil {
		return "", err
	}
	path := Clean(string(b))
	if path == "" {
		return "", fmt.Errorf("%s: %w", s.Name, ErrEmpty)
	}
	return path, nil
}

// Save overwrites the path file with path.
func (s Store) Save(path string) error {
	if err := afero.WriteFile(s.Fs, s.Name, []byte(path), 0o644); err != nil {
		return fmt.Errorf("saving server path: %w", err)
	}
	return nil
}

// Prompter asks the operator for the server path and whether to remember it.
type Prompter interface {
	PromptPath(ctx context.Context) (path string, remember bool, err error)
}

type Source string

const (
	SourceOverride Source = "override"
	SourcePathFile Source = "path_file"
	SourceDefault  Source = "default"
	SourcePrompt   Source = "prompt"
)

// Resolved is a server path and where it came from.
type Resolved struct {
	Path   string
	Source Source
}

// Resolver looks the server path up in order: Override, the path file, the
// default executable next to the running binary and finally the Prompter.
type Resolver struct {
	Override    string
	Store       Store
	DefaultName string
	// Executable returns the path of the running binary, os.Executable when nil.
	Executable func() (string, error)
	Prompter   Prompter
}

func (r Resolver) Resolve(ctx context.Context) (Resolved, error) {
	if p := Clean(r.Override); p != "" {
		return Resolved{Path: p, Source: SourceOverride}, nil
	}

	p, err := r.Store.Load()
	switch {
	case err == nil:
		return Resolved{Path: p, Source: SourcePathFile}, nil
	case errors.Is(err, os.ErrNotExist):
	default:
		slog.WarnContext(ctx, "ignoring path file", "path_file", r.Store.Name, "error", err)
	}

	def, err := r.defaultPath()
	if err != nil {
		slog.DebugContext(ctx, "locating default server", "error", err)
	} else if ok, _ := afero.Exists(r.Store.Fs, def); ok {
		return Resolved{Path: def, Source: SourceDefault}, nil
	} else {
		slog.WarnContext(ctx, "server executable not found next to the manager", "path", def)
	}

	if r.Prompter == nil {
		return Resolved{}, ErrNoPath
	}
	input, remember, err := r.Prompter.PromptPath(ctx)
	if err != nil {
		return Resolved{}, fmt.Errorf("reading server path: %w", err)
	}
	p = Clean(input)
	if p == "" {
		return Resolved{}, ErrNoPath
	}
	if remember {
		if err := r.Store.Save(p); err != nil {
			slog.ErrorContext(ctx, "failed to save path to config file", "path_file", r.Store.Name, "error", err)
		}
	}
	return Resolved{Path: p, Source: SourcePrompt}, nil
}

func (r Resolver) defaultPath() (string, error) {
	if r.DefaultName == "" {
		return "", errors.New("no default server name")
	}
	executable := r.Executable
	if executable == nil {
		executable = os.Executable
	}
	exe, err := executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), r.DefaultName), nil
}
