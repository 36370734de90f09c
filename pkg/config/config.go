package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = ".memctl"
	configDirXdg    string = "memctl"
	configFile      string = "config.yml"
	defaultBytesCol int    = 16
)

// SavedPointer is a pointer path stored under a name, usable as @name
// wherever a location is expected.
type SavedPointer struct {
	// Module the path starts at, "mainModule" if empty.
	Module string `yaml:"module,omitempty"`
	// Comma separated offsets, for example "0x10,0x1f4,0x8".
	Path string `yaml:"path"`
	// Value type used by read, write and freeze when none is given.
	Kind string `yaml:"kind,omitempty"`
	// Encoding for strings.
	Encoding string `yaml:"encoding,omitempty"`
	// Length in characters for strings, in bytes for raw buffers.
	Length int `yaml:"length,omitempty"`
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// FreezeInterval is the delay between two writes of a frozen value.
	FreezeInterval time.Duration `yaml:"freeze-interval,omitempty"`
	// FreezeFailureThreshold is the number of consecutive failed writes
	// after which a value is unfrozen automatically.
	FreezeFailureThreshold int `yaml:"freeze-failure-threshold,omitempty"`

	// DefaultEncoding is used for strings when no encoding is given.
	DefaultEncoding string `yaml:"default-encoding,omitempty"`
	// DefaultModule is used for pointer paths written without a module.
	DefaultModule string `yaml:"default-module,omitempty"`

	// Pointers are the saved pointer paths.
	Pointers map[string]SavedPointer `yaml:"pointers,omitempty"`

	// MaxBytesPerLine is the number of bytes printed per line by read
	// when dumping raw memory.
	MaxBytesPerLine int `yaml:"max-bytes-per-line,omitempty"`
}

// Encoding returns the configured default encoding or "utf-8".
func (c *Config) Encoding() string {
	if c == nil || c.DefaultEncoding == "" {
		return "utf-8"
	}
	return c.DefaultEncoding
}

// Module returns the configured default module or "mainModule".
func (c *Config) Module() string {
	if c == nil || c.DefaultModule == "" {
		return "mainModule"
	}
	return c.DefaultModule
}

// BytesPerLine returns MaxBytesPerLine or its default.
func (c *Config) BytesPerLine() int {
	if c == nil || c.MaxBytesPerLine <= 0 {
		return defaultBytesCol
	}
	return c.MaxBytesPerLine
}

// PointerNames returns the names of the saved pointers in order.
func (c *Config) PointerNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Pointers))
	for name := range c.Pointers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// A commented default file is created if none exists.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	if err := createConfigPath(); err != nil {
		return err
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for memctl.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Delay between two writes of a frozen value.
# freeze-interval: 35ms

# Number of consecutive failed writes after which a value is unfrozen.
# freeze-failure-threshold: 5

# Encoding used for strings when none is given (utf-8, utf-16le, latin1, ...).
# default-encoding: utf-8

# Module used by pointer paths written without one.
# default-module: mainModule

# Number of bytes per line when dumping raw memory.
# max-bytes-per-line: 16

# Saved pointer paths, usable as @name.
# pointers:
#   health: {module: game.exe, path: "0x10,0x1f4", kind: int32}
#   player: {path: "0x20,0x8", kind: string, encoding: utf-16le, length: 16}
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// $XDG_CONFIG_HOME/memctl is used when XDG_CONFIG_HOME is set, ~/.memctl
// otherwise.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirXdg, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, configDir, file), nil
}
