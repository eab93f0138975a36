package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/config"
)

// SFTPRemote publishes over SFTP. The connection is dialled on first use and
// dropped after a transport failure so the next call redials.
type SFTPRemote struct {
	addr      string
	dir       string
	sshConfig *ssh.ClientConfig

	mu     sync.Mutex
	conn   *ssh.Client
	client *sftp.Client
}

// NewSFTPRemote builds an SFTPRemote from the publisher config. Password and
// private key authentication are both offered when configured. Without a
// known_hosts file the host key is not verified.
func NewSFTPRemote(cfg config.PublisherConfig, logger bowtie.Logger) (*SFTPRemote, error) {
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}

	var auth []ssh.AuthMethod
	if cfg.SFTPKeyPath != "" {
		keyData, err := os.ReadFile(cfg.SFTPKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading sftp key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parsing sftp key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.SFTPPassword != "" {
		auth = append(auth, ssh.Password(cfg.SFTPPassword))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("sftp publisher requires sftp_password or sftp_key_path")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.SFTPKnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.SFTPKnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		logger.Warn("sftp host key is not verified; set sftp_known_hosts_path", "host", cfg.SFTPHost)
	}

	port := cfg.SFTPPort
	if port == 0 {
		port = 22
	}

	return &SFTPRemote{
		addr: net.JoinHostPort(cfg.SFTPHost, strconv.Itoa(port)),
		dir:  cfg.SFTPDir,
		sshConfig: &ssh.ClientConfig{
			User:            cfg.SFTPUser,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         30 * time.Second,
		},
	}, nil
}

func (r *SFTPRemote) session() (*sftp.Client, error) {
	if r.client != nil {
		return r.client, nil
	}

	conn, err := ssh.Dial("tcp", r.addr, r.sshConfig)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", r.addr, err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("starting sftp session: %w", err)
	}

	r.conn = conn
	r.client = client
	return client, nil
}

func (r *SFTPRemote) reset() {
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *SFTPRemote) remotePath(name string) string {
	if r.dir == "" {
		return name
	}
	return path.Join(r.dir, name)
}

// Stat returns the size of a remote file.
func (r *SFTPRemote) Stat(ctx context.Context, name string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	client, err := r.session()
	if err != nil {
		return 0, false, err
	}

	info, err := client.Stat(r.remotePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		r.reset()
		return 0, false, fmt.Errorf("stat %s: %w", name, err)
	}
	return info.Size(), true, nil
}

// Put uploads a file, replacing any existing remote file.
func (r *SFTPRemote) Put(ctx context.Context, name string, src io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	client, err := r.session()
	if err != nil {
		return err
	}

	f, err := client.OpenFile(r.remotePath(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		r.reset()
		return fmt.Errorf("opening remote %s: %w", name, err)
	}

	written, err := f.ReadFrom(src)
	closeErr := f.Close()
	if err != nil {
		r.reset()
		return fmt.Errorf("writing remote %s: %w", name, err)
	}
	if closeErr != nil {
		r.reset()
		return fmt.Errorf("closing remote %s: %w", name, closeErr)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	return nil
}

// Close closes the SFTP session and its SSH connection.
func (r *SFTPRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	return nil
}

var _ bowtie.Remote = (*SFTPRemote)(nil)
