package shell

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes a remote host whose interpreter backs the shell session.
type SSHConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKeyPath string
	Passphrase     string
	// KnownHostsPath enables host key verification. Empty accepts any key.
	KnownHostsPath string
	Timeout        time.Duration
}

// DialSSH opens a client connection for an SSHSpawner.
func DialSSH(ctx context.Context, cfg SSHConfig) (*ssh.Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("ssh host not specified")
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, fmt.Errorf("ssh username not specified")
	}
	port := cfg.Port
	if port <= 0 {
		port = 22
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var auth []ssh.AuthMethod
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if cfg.PrivateKeyPath != "" {
		signer, err := loadPrivateKey(cfg.PrivateKeyPath, cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("load private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh authentication method configured")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh tcp: %w", err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func loadPrivateKey(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err == nil || passphrase == "" {
		return signer, err
	}
	return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
}

// SSHSpawner runs the interpreter on a remote host, one SSH session per
// interpreter. No pty is requested.
type SSHSpawner struct {
	Client            *ssh.Client
	Command           string
	PrivilegedCommand string
}

func NewSSHSpawner(client *ssh.Client, command, privileged []string) *SSHSpawner {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if len(privileged) == 0 {
		privileged = DefaultPrivilegedCommand
	}
	return &SSHSpawner{
		Client:            client,
		Command:           strings.Join(command, " "),
		PrivilegedCommand: strings.Join(privileged, " "),
	}
}

func (s *SSHSpawner) Spawn(ctx context.Context, privileged bool) (Process, error) {
	command := s.Command
	if privileged {
		command = s.PrivilegedCommand
	}
	argv := []string{"ssh", command}
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: err}
	}
	if s.Client == nil {
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: errors.New("ssh client is nil")}
	}

	session, err := s.Client.NewSession()
	if err != nil {
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: errors.Wrap(err, "new ssh session")}
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: errors.Wrap(err, "stdin pipe")}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: errors.Wrap(err, "stdout pipe")}
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: errors.Wrap(err, "stderr pipe")}
	}
	if err := session.Start(command); err != nil {
		session.Close()
		return nil, &SpawnError{Argv: argv, Privileged: privileged, Err: errors.WithStack(err)}
	}

	p := &sshProcess{session: session, stdin: stdin, stdout: stdout, stderr: stderr, done: make(chan struct{})}
	go func() {
		_ = session.Wait()
		close(p.done)
	}()
	return p, nil
}

type sshProcess struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
	done    chan struct{}

	closeOnce sync.Once
}

func (p *sshProcess) Stdin() io.Writer      { return p.stdin }
func (p *sshProcess) Stdout() io.Reader     { return p.stdout }
func (p *sshProcess) Stderr() io.Reader     { return p.stderr }
func (p *sshProcess) Done() <-chan struct{} { return p.done }

func (p *sshProcess) Close() error {
	var err error
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		_ = p.session.Signal(ssh.SIGTERM)
		err = p.session.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	})
	return err
}
