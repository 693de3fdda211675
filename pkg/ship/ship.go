// Package ship uploads built tables to a remote host over SFTP and runs the
// bulk import command there.
package ship

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrConfig is returned when Config is incomplete or its key unusable
	ErrConfig = errors.New("invalid ship configuration")
	// ErrConnect is returned when the SSH or SFTP session cannot be opened
	ErrConnect = errors.New("remote connection failed")
	// ErrManifest is returned when the import command cannot be read
	ErrManifest = errors.New("import command unavailable")
)

// Config describes the remote end. It is built from config.Config by the
// caller; nothing in this package reads the environment.
type Config struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	Passphrase     string
	RemoteDir      string
	KnownHostsPath string // empty accepts any host key
	Timeout        time.Duration
}

// Validate checks the fields needed to connect
func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("%w: host is required", ErrConfig)
	case c.User == "":
		return fmt.Errorf("%w: user is required", ErrConfig)
	case c.KeyPath == "":
		return fmt.Errorf("%w: key path is required", ErrConfig)
	case c.RemoteDir == "":
		return fmt.Errorf("%w: remote directory is required", ErrConfig)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrConfig, c.Port)
	}
	return nil
}

// Remote is an open session on the import host
type Remote interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Exec(ctx context.Context, command string) (stdout, stderr string, err error)
	Close() error
}

// Dialer opens a Remote
type Dialer func(ctx context.Context, cfg Config) (Remote, error)

// Report is the outcome of one shipment
type Report struct {
	Uploaded     []string
	UploadErrors map[string]error
	Stdout       string
	Stderr       string
	ExitErr      error
}

// OK reports whether every file arrived and the command succeeded
func (r *Report) OK() bool {
	return len(r.UploadErrors) == 0 && r.ExitErr == nil
}

// Shipper uploads files and runs the import command
type Shipper struct {
	cfg    Config
	dial   Dialer
	logger zerolog.Logger
}

// New creates a shipper that connects over SSH
func New(cfg Config, logger zerolog.Logger) *Shipper {
	return NewWithDialer(cfg, logger, DialSSH)
}

// NewWithDialer creates a shipper with a custom dialer
func NewWithDialer(cfg Config, logger zerolog.Logger, dial Dialer) *Shipper {
	return &Shipper{
		cfg:    cfg,
		dial:   dial,
		logger: logger.With().Str("component", "ship").Str("host", cfg.Host).Logger(),
	}
}

// RemotePath is where a local file lands on the remote host
func (s *Shipper) RemotePath(local string) string {
	return path.Join(s.cfg.RemoteDir, filepath.Base(local))
}

// Ship uploads files then runs command. A failed upload is recorded and the
// remaining files are still sent; only connection failures abort.
func (s *Shipper) Ship(ctx context.Context, files []string, command string) (*Report, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%w: empty command", ErrManifest)
	}

	remote, err := s.dial(ctx, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %v", ErrConnect, s.cfg.Host, s.cfg.Port, err)
	}
	defer remote.Close()
	s.logger.Info().Msg("Connected")

	report := &Report{UploadErrors: make(map[string]error)}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		dst := s.RemotePath(file)
		if err := remote.Upload(ctx, file, dst); err != nil {
			s.logger.Error().Err(err).Str("file", file).Msg("Upload failed")
			report.UploadErrors[file] = err
			continue
		}
		s.logger.Info().Str("file", file).Str("remote", dst).Msg("Uploaded")
		report.Uploaded = append(report.Uploaded, file)
	}

	s.logger.Info().Str("command", command).Msg("Running import")
	report.Stdout, report.Stderr, report.ExitErr = remote.Exec(ctx, command)
	if report.ExitErr != nil {
		s.logger.Error().Err(report.ExitErr).Msg("Import command failed")
	}

	return report, nil
}

// ReadCommand reads the manifest written by the build step
func ReadCommand(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s not found, run the build first", ErrManifest, path)
		}
		return "", fmt.Errorf("%w: %v", ErrManifest, err)
	}

	command := strings.TrimSpace(string(data))
	if command == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrManifest, path)
	}
	return command, nil
}
