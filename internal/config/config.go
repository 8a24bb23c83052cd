// Package config provides functionality for managing configuration options
// for the server and the CLI using command-line flags, a JSON or YAML config
// file and environment variables.
//
// Sources are applied in order: flag defaults and values, then the config
// file, then environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atinyakov/GophStego/internal/envelope"
)

// Duration is a time.Duration written as "720h" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Options holds the configuration values for the application.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"server_address" yaml:"server_address"`

	// DatabaseDSN holds the PostgreSQL connection string for the history.
	// Empty selects the JSON history file.
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`

	// Config is the path to the config file.
	Config string `json:"-" yaml:"-"`

	// LogLevel is the zap level name.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// HistoryFile is the JSON history location used when DatabaseDSN is empty.
	HistoryFile string `json:"history_file" yaml:"history_file"`
	// HistoryMax caps the JSON history; zero keeps every record.
	HistoryMax int `json:"history_max" yaml:"history_max"`
	// HistoryRetention is how long PostgreSQL history is kept; zero keeps it forever.
	HistoryRetention Duration `json:"history_retention" yaml:"history_retention"`

	// Envelope selects the cipher suite and password KDF.
	Envelope envelope.Config `json:"envelope" yaml:"envelope"`
	// GifCapRatio caps GIF payloads at this multiple of the GIF size; 0 disables the cap.
	GifCapRatio float64 `json:"gif_cap_ratio" yaml:"gif_cap_ratio"`
	// ImageThroughput and GifThroughput feed time estimates, in bytes per second.
	ImageThroughput float64 `json:"image_throughput" yaml:"image_throughput"`
	GifThroughput   float64 `json:"gif_throughput" yaml:"gif_throughput"`

	// MaxUploadBytes bounds a single HTTP request body.
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes"`

	// TLSCert, TLSKey and TLSCA locate the server certificate, its key and
	// the CA used to verify client certificates.
	TLSCert string `json:"tls_cert" yaml:"tls_cert"`
	TLSKey  string `json:"tls_key" yaml:"tls_key"`
	TLSCA   string `json:"tls_ca" yaml:"tls_ca"`
	// Insecure serves plain HTTP instead of HTTPS.
	Insecure bool `json:"insecure" yaml:"insecure"`
}

// Defaults returns the built-in configuration.
func Defaults() *Options {
	return &Options{
		Port:             "localhost:8080",
		Config:           "config.json",
		LogLevel:         "info",
		HistoryFile:      "history.json",
		HistoryRetention: Duration(30 * 24 * time.Hour),
		Envelope:         envelope.DefaultConfig(),
		MaxUploadBytes:   64 << 20,
		TLSCert:          "certs/server.crt",
		TLSKey:           "certs/server.key",
		TLSCA:            "certs/ca.crt",
	}
}

// RegisterFlags binds o to flags. Flag defaults are the current values of o.
func (o *Options) RegisterFlags(flags *flag.FlagSet) {
	flags.StringVar(&o.Port, "a", o.Port, "run on ip:port server")
	flags.StringVar(&o.DatabaseDSN, "d", o.DatabaseDSN, "db address")
	flags.StringVar(&o.Config, "config", o.Config, "path to config file")
	flags.StringVar(&o.Config, "c", o.Config, "path to config file (shorthand)")
	flags.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&o.HistoryFile, "history", o.HistoryFile, "path to JSON history file")
	flags.IntVar(&o.HistoryMax, "history-max", o.HistoryMax, "max records kept in the JSON history (0 = unlimited)")
	flags.TextVar(&o.HistoryRetention, "retention", o.HistoryRetention, "PostgreSQL history retention (0 = forever)")
	flags.Func("suite", "cipher suite: aes-256-gcm or xchacha20-poly1305", func(v string) error {
		o.Envelope.Suite = envelope.Suite(v)
		return nil
	})
	flags.Func("kdf", "password KDF: pbkdf2-sha256 or argon2id", func(v string) error {
		o.Envelope.KDF = envelope.KDF(v)
		return nil
	})
	flags.IntVar(&o.Envelope.Iterations, "iterations", o.Envelope.Iterations, "PBKDF2 iterations")
	flags.Float64Var(&o.GifCapRatio, "gif-cap", o.GifCapRatio, "GIF payload cap as a multiple of the GIF size (0 = unlimited)")
	flags.Float64Var(&o.ImageThroughput, "image-throughput", o.ImageThroughput, "image throughput for time estimates, bytes/s")
	flags.Float64Var(&o.GifThroughput, "gif-throughput", o.GifThroughput, "GIF throughput for time estimates, bytes/s")
	flags.Int64Var(&o.MaxUploadBytes, "max-upload", o.MaxUploadBytes, "max HTTP request body size in bytes")
	flags.StringVar(&o.TLSCert, "tls-cert", o.TLSCert, "server certificate")
	flags.StringVar(&o.TLSKey, "tls-key", o.TLSKey, "server private key")
	flags.StringVar(&o.TLSCA, "tls-ca", o.TLSCA, "CA certificate for client verification")
	flags.BoolVar(&o.Insecure, "insecure", o.Insecure, "serve plain HTTP")
}

// Resolve applies the config file and the environment on top of the parsed
// flags and validates the result. getenv is usually os.Getenv.
func (o *Options) Resolve(getenv func(string) string) error {
	// Override flags with environment variables if set
	if configPath := getenv("CONFIG"); configPath != "" {
		o.Config = configPath
	}
	if err := o.loadFile(); err != nil {
		return err
	}

	if v := getenv("SERVER_ADDRESS"); v != "" {
		o.Port = v
	}
	if v := getenv("DATABASE_DSN"); v != "" {
		o.DatabaseDSN = v
	}
	if v := getenv("HISTORY_FILE"); v != "" {
		o.HistoryFile = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		o.LogLevel = v
	}
	if v := getenv("GIF_CAP_RATIO"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("GIF_CAP_RATIO: %w", err)
		}
		o.GifCapRatio = ratio
	}

	return o.validate()
}

func (o *Options) loadFile() error {
	if o.Config == "" {
		return nil
	}
	data, err := os.ReadFile(o.Config)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(o.Config)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, o)
	default:
		err = json.Unmarshal(data, o)
	}
	if err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}

func (o *Options) validate() error {
	if _, err := envelope.New(o.Envelope); err != nil {
		return err
	}
	if o.GifCapRatio < 0 {
		return fmt.Errorf("gif cap ratio must not be negative, got %v", o.GifCapRatio)
	}
	if o.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d", o.MaxUploadBytes)
	}
	if o.HistoryRetention < 0 {
		return errors.New("history retention must not be negative")
	}
	return nil
}

// Load parses args with a fresh flag set named name and resolves the result.
func Load(name string, args []string, getenv func(string) string) (*Options, error) {
	o := Defaults()
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	o.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if err := o.Resolve(getenv); err != nil {
		return nil, err
	}
	return o, nil
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It exits the process on invalid configuration.
func Parse() *Options {
	o, err := Load(os.Args[0], os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return o
}
