// Package transfer copies files to and from devices over SCP and SFTP.
package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/drawbridge-labs/drawbridge/internal/errs"
	"github.com/drawbridge-labs/drawbridge/internal/storage"
	"github.com/drawbridge-labs/drawbridge/internal/transport"
)

// Protocols supported for file transfer.
const (
	ProtocolSCP  = "scp"
	ProtocolSFTP = "sftp"
)

// Result summarizes a completed transfer.
type Result struct {
	DeviceName string `json:"device_name"`
	Protocol   string `json:"protocol"`
	RemotePath string `json:"remote_path"`
	Bytes      int64  `json:"bytes"`
}

// dialFunc is swapped in tests to avoid real SSH handshakes.
type dialFunc func(ctx context.Context, d *storage.Device, opts transport.Options) (*ssh.Client, error)

// Service uploads and downloads device files.
type Service struct {
	store  storage.Store
	opts   transport.Options
	logger *slog.Logger
	dial   dialFunc
}

func NewService(store storage.Store, opts transport.Options, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		opts:   opts,
		logger: logger,
		dial:   transport.DialSSHClient,
	}
}

func (s *Service) device(ctx context.Context, name string) (*storage.Device, error) {
	d, err := s.store.GetDeviceByName(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, fmt.Errorf("device %q: %w", name, err))
	}
	if !d.Enabled {
		return nil, errs.Connectionf("device %q is disabled", name)
	}
	if d.Transport != "ssh" {
		return nil, errs.Validationf("file transfer requires an ssh device, %q uses %s", name, d.Transport)
	}
	return d, nil
}

// Upload writes data to remotePath on the device.
func (s *Service) Upload(ctx context.Context, deviceName, protocol, remotePath string, data []byte) (*Result, error) {
	if remotePath == "" {
		return nil, errs.Validationf("remote path is required")
	}
	d, err := s.device(ctx, deviceName)
	if err != nil {
		return nil, err
	}

	client, err := s.dial(ctx, d, s.opts)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, err)
	}
	defer client.Close()

	switch protocol {
	case ProtocolSCP:
		err = scpUpload(client, remotePath, data)
	case ProtocolSFTP, "":
		protocol = ProtocolSFTP
		err = sftpUpload(client, remotePath, data)
	default:
		return nil, errs.Validationf("unknown transfer protocol %q", protocol)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindOperation, err)
	}

	s.logger.Info("file uploaded",
		"device", deviceName, "protocol", protocol,
		"path", remotePath, "bytes", len(data))
	return &Result{
		DeviceName: deviceName,
		Protocol:   protocol,
		RemotePath: remotePath,
		Bytes:      int64(len(data)),
	}, nil
}

// Download reads remotePath from the device. Only SFTP supports
// downloads.
func (s *Service) Download(ctx context.Context, deviceName, protocol, remotePath string) ([]byte, error) {
	if remotePath == "" {
		return nil, errs.Validationf("remote path is required")
	}
	if protocol != "" && protocol != ProtocolSFTP {
		return nil, errs.Validationf("downloads require sftp, got %q", protocol)
	}
	d, err := s.device(ctx, deviceName)
	if err != nil {
		return nil, err
	}

	client, err := s.dial(ctx, d, s.opts)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, err)
	}
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, errs.Wrap(errs.KindOperation, fmt.Errorf("opening sftp channel: %w", err))
	}
	defer sc.Close()

	f, err := sc.Open(remotePath)
	if err != nil {
		return nil, errs.Wrap(errs.KindOperation, fmt.Errorf("opening %s: %w", remotePath, err))
	}
	defer f.Close()
	return io.ReadAll(f)
}

func sftpUpload(client *ssh.Client, remotePath string, data []byte) error {
	sc, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("opening sftp channel: %w", err)
	}
	defer sc.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		// Best effort, devices often restrict directory creation.
		sc.MkdirAll(dir)
	}

	f, err := sc.Create(remotePath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", remotePath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", remotePath, err)
	}
	return f.Close()
}

// scpUpload speaks the classic scp sink protocol over an exec channel.
func scpUpload(client *ssh.Client, remotePath string, data []byte) error {
	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening scp channel: %w", err)
	}
	defer sess.Close()

	stdin, err := sess.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return err
	}

	dir := path.Dir(remotePath)
	name := path.Base(remotePath)
	if err := sess.Start(fmt.Sprintf("scp -t %s", dir)); err != nil {
		return fmt.Errorf("starting remote scp: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := scpAck(stdout); err != nil {
			errCh <- err
			return
		}
		fmt.Fprintf(stdin, "C0644 %d %s\n", len(data), name)
		if err := scpAck(stdout); err != nil {
			errCh <- err
			return
		}
		if _, err := io.Copy(stdin, bytes.NewReader(data)); err != nil {
			errCh <- err
			return
		}
		stdin.Write([]byte{0})
		errCh <- scpAck(stdout)
	}()

	if err := <-errCh; err != nil {
		return fmt.Errorf("scp transfer: %w", err)
	}
	return sess.Wait()
}

// scpAck reads one scp status byte; 1 and 2 are followed by an error
// line.
func scpAck(r io.Reader) error {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	switch buf[0] {
	case 0:
		return nil
	default:
		line, _ := io.ReadAll(io.LimitReader(r, 512))
		return fmt.Errorf("remote scp error: %s", bytes.TrimSpace(line))
	}
}
