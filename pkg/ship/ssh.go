package ship

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ClientConfig builds the SSH client configuration for cfg
func ClientConfig(cfg Config) (*ssh.ClientConfig, error) {
	pemBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read key: %v", ErrConfig, err)
	}

	var signer ssh.Signer
	if cfg.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(cfg.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse key: %v", ErrConfig, err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		hostKey, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: known hosts: %v", ErrConfig, err)
		}
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	}, nil
}

// DialSSH connects with public key authentication and opens an SFTP
// subsystem on the same connection.
func DialSSH(ctx context.Context, cfg Config) (Remote, error) {
	clientCfg, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	client := ssh.NewClient(c, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open sftp: %w", err)
	}

	return &sshRemote{client: client, sftp: sc}, nil
}

type sshRemote struct {
	client *ssh.Client
	sftp   *sftp.Client
}

func (r *sshRemote) Upload(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := r.sftp.Create(remotePath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (r *sshRemote) Exec(ctx context.Context, command string) (string, string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = runUntil(ctx, func() error { return session.Run(command) }, func() {
		session.Signal(ssh.SIGTERM)
		session.Close()
	})
	return stdout.String(), stderr.String(), err
}

// runUntil calls run. When ctx ends first it calls stop and still waits for
// run to return, so run's outputs are settled once runUntil returns.
func runUntil(ctx context.Context, run func() error, stop func()) error {
	done := make(chan error, 1)
	go func() { done <- run() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		stop()
		<-done
		return ctx.Err()
	}
}

func (r *sshRemote) Close() error {
	r.sftp.Close()
	return r.client.Close()
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
