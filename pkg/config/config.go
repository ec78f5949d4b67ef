package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".rspagent"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Listen is the default TCP address the serve command accepts the
	// host debugger on.
	Listen string `yaml:"listen,omitempty"`
	// SerialBaud is the default baud rate of serial links.
	SerialBaud int `yaml:"serial-baud,omitempty"`
	// ImageBase is the address images are loaded at.
	ImageBase uint32 `yaml:"image-base,omitempty"`

	// BreakpointCapacity is the number of breakpoints the agent remembers.
	BreakpointCapacity int `yaml:"breakpoint-capacity,omitempty"`
	// StrictBreakpoints makes the agent refuse new breakpoints when the
	// table is full instead of forgetting the oldest one.
	StrictBreakpoints bool `yaml:"strict-breakpoints"`

	// MaxAttempts bounds how many times a reply is transmitted when the
	// host keeps rejecting it, 0 means no bound.
	MaxAttempts int `yaml:"max-attempts,omitempty"`

	// LogOutput is used when --log-output is not given.
	LogOutput string `yaml:"log-output,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		if err := createDefaultConfig(fullConfigFile); err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}

	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads a config file at path.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %w", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return SaveConfigTo(fullConfigFile, conf)
}

// SaveConfigTo writes conf to path, replacing the file.
func SaveConfigTo(path string, conf *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Encode(f, conf)
}

// Encode writes conf as YAML.
func Encode(w io.Writer, conf *Config) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func createDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	err = writeDefaultConfig(f)
	if err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

func writeDefaultConfig(w io.Writer) error {
	_, err := io.WriteString(w,
		`# Configuration file for rspagent.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Address the serve command listens on for the host debugger.
# listen: "127.0.0.1:3333"

# Baud rate used by the serial command.
# serial-baud: 115200

# Load address of target images.
# image-base: 0x20000

# Number of breakpoints remembered by the agent. When the table is full the
# oldest breakpoint is forgotten and clearing it later leaves its trap in
# memory, unless strict-breakpoints is set.
# breakpoint-capacity: 50

# Refuse new breakpoints with an error reply when the table is full.
# strict-breakpoints: true

# Give up on a reply after the host rejected it this many times (0: never).
# max-attempts: 0

# Components that log when --log is given without --log-output.
# log-output: agent,breakpoints
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
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
