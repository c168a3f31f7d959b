package service

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/pkg/errors"
	gossh "golang.org/x/crypto/ssh"

	"github.com/InsulaLabs/skiff/config"
	"github.com/InsulaLabs/skiff/repl"
)

func (s *Service) hostKeyPath() string {
	if s.cfg.SSH.HostKeyPath != "" {
		return s.cfg.SSH.HostKeyPath
	}
	return filepath.Join(s.cfg.SkiffHome, config.KeysDirName, "ssh_host")
}

// loadAuthorizedKeys reads the configured authorized_keys file into a
// set of marshaled keys. A nil set means no file was configured and
// any presented key is admitted.
func (s *Service) loadAuthorizedKeys() (map[string]struct{}, error) {
	if s.cfg.SSH.AuthorizedKeys == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.cfg.SSH.AuthorizedKeys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read authorized keys file")
	}

	authorized := make(map[string]struct{})
	rest := data
	for len(bytes.TrimSpace(rest)) > 0 {
		key, _, _, next, err := gossh.ParseAuthorizedKey(rest)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse authorized keys file")
		}
		authorized[strings.TrimSpace(string(gossh.MarshalAuthorizedKey(key)))] = struct{}{}
		rest = next
	}
	return authorized, nil
}

func (s *Service) authenticateSSHKey(authorized map[string]struct{}, key ssh.PublicKey) bool {
	if authorized == nil {
		// Open playground. The host key still pins the server identity.
		return true
	}
	publicKeyStr := strings.TrimSpace(string(gossh.MarshalAuthorizedKey(key)))
	if _, ok := authorized[publicKeyStr]; ok {
		return true
	}
	s.logger.Debug("SSH authentication failed: key not in authorized set")
	return false
}

func (s *Service) startSSHServer() (err error) {

	authorized, err := s.loadAuthorizedKeys()
	if err != nil {
		s.logger.Error("Could not load authorized keys", "path", s.cfg.SSH.AuthorizedKeys, "error", err)
		return err
	}

	// wish generates the host key at this path on first start.
	hostKeyPath := s.hostKeyPath()
	if err := os.MkdirAll(filepath.Dir(hostKeyPath), 0755); err != nil {
		s.logger.Error("Could not create host key directory", "path", hostKeyPath, "error", err)
		return err
	}

	srv, err := wish.NewServer(
		wish.WithAddress(s.cfg.SSH.Binding),
		wish.WithHostKeyPath(hostKeyPath),
		wish.WithPublicKeyAuth(func(ctx ssh.Context, key ssh.PublicKey) bool {
			return s.authenticateSSHKey(authorized, key)
		}),

		ssh.AllocatePty(),

		wish.WithMiddleware(
			bubbletea.Middleware(func(sess ssh.Session) (tea.Model, []tea.ProgramOption) {
				s.logger.Info("New SSH session", "remote_addr", sess.RemoteAddr(), "user", sess.User())
				return s.newSSHSession(sess)
			}),
			activeterm.Middleware(),
			logging.Middleware(),
		),
	)
	if err != nil {
		s.logger.Error("Could not start SSH server", "error", err)
		return err
	}

	go func() {
		s.logger.Info("Starting SSH server", "address", s.cfg.SSH.Binding)
		if err = srv.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			s.logger.Error("SSH server error", "error", err)
		}
	}()

	go func() {
		<-s.appCtx.Done()
		if err := srv.Close(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
			s.logger.Error("SSH server close error", "error", err)
		}
	}()

	return nil
}

func (s *Service) newSSHSession(sess ssh.Session) (tea.Model, []tea.ProgramOption) {
	model := repl.New(repl.Config{
		Logger:   s.logger.WithGroup("ssh").With("user", sess.User()),
		Strategy: s.defaultStrategy,
	})

	return model, []tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	}
}
