package ship_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ha1tch/otkg/pkg/ship"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type fakeRemote struct {
	uploads  map[string]string
	failOn   string
	commands []string
	exitErr  error
	closed   bool
}

func (f *fakeRemote) Upload(_ context.Context, local, remote string) error {
	if filepath.Base(local) == f.failOn {
		return errors.New("permission denied")
	}
	f.uploads[local] = remote
	return nil
}

func (f *fakeRemote) Exec(_ context.Context, command string) (string, string, error) {
	f.commands = append(f.commands, command)
	return "IMPORT DONE", "", f.exitErr
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}

func testConfig() ship.Config {
	return ship.Config{
		Host:      "kg.example.org",
		Port:      22,
		User:      "neo4j",
		KeyPath:   "/keys/id_ed25519",
		RemoteDir: "/var/lib/neo4j/import/",
		Timeout:   time.Second,
	}
}

func dialer(remote *fakeRemote) ship.Dialer {
	return func(context.Context, ship.Config) (ship.Remote, error) { return remote, nil }
}

func TestShipUploadsAndRuns(t *testing.T) {
	remote := &fakeRemote{uploads: map[string]string{}}
	s := ship.NewWithDialer(testConfig(), zerolog.Nop(), dialer(remote))

	files := []string{"neo4j_data/Disease.csv", "neo4j_data/Relationships.csv"}
	report, err := s.Ship(context.Background(), files, "bin/neo4j-admin database import full neo4j")
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, files, report.Uploaded)
	assert.Equal(t, "/var/lib/neo4j/import/Disease.csv", remote.uploads["neo4j_data/Disease.csv"])
	assert.Equal(t, []string{"bin/neo4j-admin database import full neo4j"}, remote.commands)
	assert.Equal(t, "IMPORT DONE", report.Stdout)
	assert.True(t, remote.closed)
}

func TestShipContinuesAfterUploadError(t *testing.T) {
	remote := &fakeRemote{uploads: map[string]string{}, failOn: "Molecule.csv"}
	s := ship.NewWithDialer(testConfig(), zerolog.Nop(), dialer(remote))

	files := []string{"out/Disease.csv", "out/Molecule.csv", "out/Targets.csv"}
	report, err := s.Ship(context.Background(), files, "import")
	require.NoError(t, err)

	assert.False(t, report.OK())
	assert.Equal(t, []string{"out/Disease.csv", "out/Targets.csv"}, report.Uploaded)
	assert.Contains(t, report.UploadErrors, "out/Molecule.csv")
	assert.Len(t, remote.commands, 1)
}

func TestShipCommandFailure(t *testing.T) {
	remote := &fakeRemote{uploads: map[string]string{}, exitErr: errors.New("exit status 1")}
	s := ship.NewWithDialer(testConfig(), zerolog.Nop(), dialer(remote))

	report, err := s.Ship(context.Background(), nil, "import")
	require.NoError(t, err)
	assert.Error(t, report.ExitErr)
	assert.False(t, report.OK())
}

func TestShipConnectFailure(t *testing.T) {
	fail := func(context.Context, ship.Config) (ship.Remote, error) {
		return nil, errors.New("connection refused")
	}
	s := ship.NewWithDialer(testConfig(), zerolog.Nop(), fail)

	_, err := s.Ship(context.Background(), []string{"a.csv"}, "import")
	assert.ErrorIs(t, err, ship.ErrConnect)
}

func TestShipRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Host = ""
	s := ship.NewWithDialer(cfg, zerolog.Nop(), dialer(&fakeRemote{}))

	_, err := s.Ship(context.Background(), nil, "import")
	assert.ErrorIs(t, err, ship.ErrConfig)

	s = ship.NewWithDialer(testConfig(), zerolog.Nop(), dialer(&fakeRemote{}))
	_, err = s.Ship(context.Background(), nil, "  ")
	assert.ErrorIs(t, err, ship.ErrManifest)
}

func TestReadCommand(t *testing.T) {
	dir := t.TempDir()

	_, err := ship.ReadCommand(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, ship.ErrManifest)

	path := filepath.Join(dir, "neo4j_txt_command.txt")
	require.NoError(t, os.WriteFile(path, []byte("bin/neo4j-admin database import full neo4j\n"), 0644))
	command, err := ship.ReadCommand(path)
	require.NoError(t, err)
	assert.Equal(t, "bin/neo4j-admin database import full neo4j", command)
}

func writeKey(t *testing.T, passphrase string) string {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(key, "otkg", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(key, "otkg")
	}
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestClientConfig(t *testing.T) {
	cfg := testConfig()
	cfg.KeyPath = writeKey(t, "")

	clientCfg, err := ship.ClientConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "neo4j", clientCfg.User)
	assert.Len(t, clientCfg.Auth, 1)
	assert.Equal(t, time.Second, clientCfg.Timeout)
}

func TestClientConfigPassphrase(t *testing.T) {
	cfg := testConfig()
	cfg.KeyPath = writeKey(t, "s3cret")

	_, err := ship.ClientConfig(cfg)
	assert.ErrorIs(t, err, ship.ErrConfig)

	cfg.Passphrase = "s3cret"
	_, err = ship.ClientConfig(cfg)
	require.NoError(t, err)
}

func TestClientConfigKnownHosts(t *testing.T) {
	cfg := testConfig()
	cfg.KeyPath = writeKey(t, "")
	cfg.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(cfg.KnownHostsPath, nil, 0600))

	clientCfg, err := ship.ClientConfig(cfg)
	require.NoError(t, err)
	assert.NotNil(t, clientCfg.HostKeyCallback)

	cfg.KnownHostsPath = filepath.Join(t.TempDir(), "absent")
	_, err = ship.ClientConfig(cfg)
	assert.ErrorIs(t, err, ship.ErrConfig)
}
