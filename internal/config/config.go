// Package config reads the repeatfs configuration file format: line-based,
// "#" comments, global "key=value" pairs, "[entry]" blocks defining VDF
// rules, and "plugin_name.field=value" namespaced keys. This mirrors
// original_source/repeatfs/configuration.py's grammar, though the Python
// implementation's per-field cast/validation table is simplified here to
// the fields this package actually uses.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/repeatfs/repeatfs/internal/logging"
)

var cfgLogger = logging.GetLogger().WithPrefix("config")

// Entry is one "[entry]" block: a VDF rule.
type Entry struct {
	Match string // regular expression matched against candidate filenames
	Ext   string // extension appended to form the VDF leaf name
	Cmd   string // command template with {input}/{output} placeholders
	Env   map[string]string
}

// PluginSetting is one "plugin_name.field=value" line.
type PluginSetting struct {
	Plugin string
	Field  string
	Value  string
}

// Config is the parsed configuration file.
type Config struct {
	Plugins []string

	// Global values with documented defaults.
	Suffix      string
	Hidden      bool
	Invisible   bool
	BlockSize   int
	StoreSize   int64
	ReadTimeout float64
	CachePath   string
	IOEpsilon   float64
	APIFile     string

	Entries        []Entry
	PluginSettings []PluginSetting
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Suffix:      "+",
		Hidden:      false,
		Invisible:   true,
		BlockSize:   1048576,
		StoreSize:   1073741824,
		ReadTimeout: 1.0,
		CachePath:   "/tmp/repeatfs.cache",
		IOEpsilon:   7.0,
		APIFile:     ".repeatfs-api",
	}
}

var (
	commentOrBlankRe = regexp.MustCompile(`^[ \t]*(#.*)?$`)
	entryHeaderRe    = regexp.MustCompile(`^[ \t]*\[entry\][ \t]*(#.*)?$`)
	keyValueRe       = regexp.MustCompile(`^[ \t]*([^= \t]+)[ \t]*=[ \t]*([^#]*?)[ \t]*(#.*)?$`)
	pluginKeyRe      = regexp.MustCompile(`^([^.]+)\.([^.]+)$`)
)

// Load reads and parses a configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("configuration file not found at %q: %w", path, err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads configuration from r, following the package's grammar.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()

	scanner := bufio.NewScanner(r)
	lineNum := 0
	inEntry := false
	var current Entry
	haveEntry := false

	flushEntry := func() error {
		if !haveEntry {
			return nil
		}
		if current.Match == "" || current.Ext == "" || current.Cmd == "" {
			return fmt.Errorf("entry missing required field (match/ext/cmd) near line %d", lineNum)
		}
		cfg.Entries = append(cfg.Entries, current)
		current = Entry{}
		haveEntry = false
		return nil
	}

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if commentOrBlankRe.MatchString(line) {
			continue
		}

		if entryHeaderRe.MatchString(line) {
			if err := flushEntry(); err != nil {
				return nil, err
			}
			inEntry = true
			haveEntry = true
			current = Entry{Env: make(map[string]string)}
			continue
		}

		m := keyValueRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("invalid configuration line %d: %q", lineNum, line)
		}
		key, value := m[1], strings.TrimSpace(m[2])

		if inEntry {
			switch key {
			case "match":
				current.Match = value
			case "ext":
				current.Ext = value
			case "cmd":
				current.Cmd = value
			default:
				if strings.HasPrefix(key, "env.") {
					current.Env[strings.TrimPrefix(key, "env.")] = value
				} else if pm := pluginKeyRe.FindStringSubmatch(key); pm != nil && isKnownPlugin(cfg.Plugins, pm[1]) {
					cfg.PluginSettings = append(cfg.PluginSettings, PluginSetting{Plugin: pm[1], Field: pm[2], Value: value})
				} else {
					return nil, fmt.Errorf("unknown entry field %q at line %d", key, lineNum)
				}
			}
			continue
		}

		if key == "plugins" {
			for _, p := range strings.Split(value, ",") {
				p = strings.TrimSpace(p)
				if p != "" {
					cfg.Plugins = append(cfg.Plugins, p)
				}
			}
			continue
		}

		if pm := pluginKeyRe.FindStringSubmatch(key); pm != nil && isKnownPlugin(cfg.Plugins, pm[1]) {
			cfg.PluginSettings = append(cfg.PluginSettings, PluginSetting{Plugin: pm[1], Field: pm[2], Value: value})
			continue
		}

		if err := assignGlobal(cfg, key, value); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}

	if err := flushEntry(); err != nil {
		return nil, err
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	cfgLogger.Debug("parsed configuration: %d entries, %d plugins", len(cfg.Entries), len(cfg.Plugins))
	return cfg, nil
}

func isKnownPlugin(plugins []string, name string) bool {
	for _, p := range plugins {
		if p == name {
			return true
		}
	}
	return false
}

func assignGlobal(cfg *Config, key, value string) error {
	switch key {
	case "suffix":
		cfg.Suffix = value
	case "hidden":
		cfg.Hidden = value == "True" || value == "true"
	case "invisible":
		cfg.Invisible = value == "True" || value == "true"
	case "block_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid block_size %q: %w", value, err)
		}
		cfg.BlockSize = n
	case "store_size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid store_size %q: %w", value, err)
		}
		cfg.StoreSize = n
	case "read_timeout":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid read_timeout %q: %w", value, err)
		}
		cfg.ReadTimeout = f
	case "cache_path":
		cfg.CachePath = os.ExpandEnv(value)
	case "io_epsilon":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid io_epsilon %q: %w", value, err)
		}
		cfg.IOEpsilon = f
	case "api":
		cfg.APIFile = value
	default:
		return fmt.Errorf("unknown configuration key %q", key)
	}
	return nil
}

// WriteTemplate writes a default configuration file with a worked VDF rule
// example, matching original_source's TEMPLATE_EXAMPLES.
func WriteTemplate(path string) error {
	const template = `# repeatfs configuration

#plugins=

## filesystem block size
#block_size=1048576

## total filestore size
#store_size=1073741824

# FASTQ -> FASTA
[entry]
match=\.fastq$
ext=.fasta
cmd=seqtk seq -A {input}
`
	return os.WriteFile(path, []byte(template), 0644)
}
