// Package manifest handles blockvm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/blockvm/engine"
)

// FileName is the name of the manifest file
const FileName = "blockvm.toml"

var logger = commonlog.GetLogger("blockvm.manifest")

// Manifest represents a blockvm.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project" json:"project"`
	Runtime RuntimeConfig `toml:"runtime" json:"runtime"`
	Log     LogConfig     `toml:"log" json:"log"`

	// Dir is the directory containing the blockvm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Project contains project metadata.
type Project struct {
	Name     string `toml:"name" json:"name"`
	Document string `toml:"document" json:"document"`
}

// RuntimeConfig tunes the scheduler.
type RuntimeConfig struct {
	Compatibility bool    `toml:"compatibility" json:"compatibility"`
	WorkFraction  float64 `toml:"work-fraction" json:"work-fraction"`
	WarpTimeMS    int     `toml:"warp-time-ms" json:"warp-time-ms"`
	Strict        bool    `toml:"strict" json:"strict"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Default returns the manifest used when a project has no blockvm.toml.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults(nil)
	return m
}

// Parse decodes manifest contents. dir is recorded as the project directory.
func Parse(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	for _, key := range md.Undecoded() {
		logger.Warningf("unknown manifest key %s", key)
	}
	m.Dir = dir
	m.applyDefaults(&md)
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load parses a blockvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m, err := Parse(data, abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a blockvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// applyDefaults fills in keys the file left out. Booleans default to false
// so only the keys with non-zero defaults need the metadata.
func (m *Manifest) applyDefaults(md *toml.MetaData) {
	defined := func(key ...string) bool {
		return md != nil && md.IsDefined(key...)
	}
	if m.Project.Name == "" && m.Dir != "" {
		m.Project.Name = filepath.Base(m.Dir)
	}
	if m.Project.Document == "" {
		m.Project.Document = "workspace.xml"
	}
	if !defined("runtime", "work-fraction") {
		m.Runtime.WorkFraction = engine.DefaultWorkFraction
	}
	if !defined("runtime", "warp-time-ms") {
		m.Runtime.WarpTimeMS = int(engine.DefaultWarpTime / time.Millisecond)
	}
	if !defined("log", "verbosity") {
		m.Log.Verbosity = 1
	}
}

// DocumentPath returns the absolute path of the workspace document.
func (m *Manifest) DocumentPath() string {
	if filepath.IsAbs(m.Project.Document) {
		return m.Project.Document
	}
	return filepath.Join(m.Dir, m.Project.Document)
}

// LogFile returns the log file path, or nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Log.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.Dir, path)
	}
	return &path
}

// EngineOptions maps the runtime table onto engine options. Packages,
// callbacks and the workspace source are left for the caller.
func (m *Manifest) EngineOptions() engine.Options {
	return engine.Options{
		Compatibility: m.Runtime.Compatibility,
		WorkFraction:  m.Runtime.WorkFraction,
		WarpTime:      time.Duration(m.Runtime.WarpTimeMS) * time.Millisecond,
		Strict:        m.Runtime.Strict,
	}
}
