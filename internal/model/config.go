package model

import (
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultPoolSize    = 4
	DefaultQpdfPath    = "qpdf"
	DefaultQpdfTimeout = "2m"
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
	Version   int        `json:"version" yaml:"version"` // fixed 0 for now
	Scheduler *Scheduler `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Qpdf      *Qpdf      `json:"qpdf,omitempty" yaml:"qpdf,omitempty"`
	Autosave  *Autosave  `json:"autosave,omitempty" yaml:"autosave,omitempty"`
	Service   Service    `json:"service" yaml:"service"`
}

// Scheduler sizes the background pool shared by all controllers.
type Scheduler struct {
	PoolSize *int `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
}

// Qpdf gates the structural toolkit. Disabled unless enabled is set.
type Qpdf struct {
	Enabled *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path    *string `json:"path,omitempty" yaml:"path,omitempty"`
	Timeout *string `json:"timeout,omitempty" yaml:"timeout,omitempty"` // 1d2h3m4s
}

// Autosave saves a dirty document either on a cron expression or every ISO 8601 duration.
type Autosave struct {
	Enabled  *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Cron     *string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration *string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Path     *string `json:"path,omitempty" yaml:"path,omitempty"`
}

type Service struct {
	Verbose *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log     *string `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
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
		cue.All(),
		cue.Concrete(true),
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

func DefaultConfig() Config {
	return Config{
		Version: 0,
		Scheduler: &Scheduler{
			PoolSize: ptr(DefaultPoolSize),
		},
		Qpdf: &Qpdf{
			Enabled: ptr(false),
			Path:    ptr(DefaultQpdfPath),
			Timeout: ptr(DefaultQpdfTimeout),
		},
		Service: Service{
			Verbose: ptr(false),
			Log:     ptr(LogStderr),
		},
	}
}

// cross field rules CUE does not express well
func (c Config) validate() error {
	if c.Autosave != nil && Get(c.Autosave.Enabled) {
		if c.Autosave.Cron != nil && c.Autosave.Duration != nil {
			return fmt.Errorf("autosave: cron and duration are mutually exclusive: %w", ErrInvalidInput)
		}
		if c.Autosave.Cron == nil && c.Autosave.Duration == nil {
			return fmt.Errorf("autosave: cron or duration is required: %w", ErrInvalidInput)
		}
	}
	return nil
}

func (c Config) PoolSize() int {
	if c.Scheduler == nil || c.Scheduler.PoolSize == nil {
		return DefaultPoolSize
	}
	return *c.Scheduler.PoolSize
}

func (c Config) QpdfEnabled() bool {
	return c.Qpdf != nil && Get(c.Qpdf.Enabled)
}

func (c Config) QpdfPath() string {
	if c.Qpdf == nil || c.Qpdf.Path == nil {
		return DefaultQpdfPath
	}
	return *c.Qpdf.Path
}

func (c Config) QpdfTimeout() (time.Duration, error) {
	s := DefaultQpdfTimeout
	if c.Qpdf != nil && c.Qpdf.Timeout != nil {
		s = *c.Qpdf.Timeout
	}
	return ParseCueDuration(s)
}

func (c Config) Verbose() bool {
	return Get(c.Service.Verbose)
}

func (c Config) LogOutput() string {
	if c.Service.Log == nil {
		return LogStderr
	}
	return *c.Service.Log
}

// Get dereferences pt or returns the zero value.
func Get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}

func ptr[T any](v T) *T {
	return &v
}
