package model

import (
	"errors"
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogFormatAuto    = "auto"
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
	LogFormatText    = "text"

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultPathFile    = "SPTSMconfig.txt"
	DefaultServerName  = "SPT.Server.exe"
	DefaultExitCommand = "exit"
	DefaultGracePeriod = "2s"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int    `json:"version" yaml:"version"` // fixed 0 for now
	Server  Server `json:"server" yaml:"server"`
	Log     Log    `json:"log" yaml:"log"`
}

// Server describes the supervised executable and how it is shut down.
type Server struct {
	Path        string   `json:"path,omitempty" yaml:"path,omitempty"`       // overrides the path file
	PathFile    string   `json:"path_file" yaml:"path_file"`                 // remembered server path
	DefaultName string   `json:"default_name" yaml:"default_name"`           // looked up next to the binary
	Args        []string `json:"args,omitempty" yaml:"args,omitempty"`       // extra command line arguments
	ExitCommand string   `json:"exit_command" yaml:"exit_command"`           // line written to stdin on stop
	GracePeriod string   `json:"grace_period" yaml:"grace_period"`           // e.g. 2s, 1m30s
	Restart     *Restart `json:"restart,omitempty" yaml:"restart,omitempty"` // optional scheduled restart
}

// Grace returns the parsed grace period.
func (s Server) Grace() (time.Duration, error) {
	return ParseCueDuration(s.GracePeriod)
}

// Restart schedules periodic restarts. At most one of Cron and Every is set.
type Restart struct {
	Cron  string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Every string `json:"every,omitempty" yaml:"every,omitempty"`
}

func (r *Restart) Enabled() bool {
	return r != nil && (r.Cron != "" || r.Every != "")
}

type Log struct {
	Verbose bool   `json:"verbose" yaml:"verbose"`
	Format  string `json:"format" yaml:"format"` // auto|console|json|text
	Output  string `json:"output" yaml:"output"` // stderr|stdout|discard|path
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() Config {
	return Config{
		Version: 0,
		Server: Server{
			PathFile:    DefaultPathFile,
			DefaultName: DefaultServerName,
			ExitCommand: DefaultExitCommand,
			GracePeriod: DefaultGracePeriod,
		},
		Log: Log{
			Format: LogFormatAuto,
			Output: LogStderr,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c Config) validate() error {
	if r := c.Server.Restart; r != nil {
		if r.Cron != "" && r.Every != "" {
			return errors.New("server.restart: cron and every are mutually exclusive")
		}
		if r.Cron != "" {
			if _, err := ParseCron(r.Cron); err != nil {
				return fmt.Errorf("server.restart.cron: %w", err)
			}
		}
	}
	return nil
}
