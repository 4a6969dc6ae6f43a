// Package cert serves a TLS key pair loaded from PEM files and reloads it
// when either file changes.
package cert

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"weavequery/internal/logging"
)

// ErrNoCertificate is returned by GetCertificate before a key pair loads.
var ErrNoCertificate = errors.New("no certificate loaded")

// KeyPair holds the current certificate for a cert/key file pair.
// Safe for concurrent use.
type KeyPair struct {
	certFile, keyFile string
	logger            *slog.Logger

	cert atomic.Pointer[tls.Certificate]

	watcher *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Load reads the key pair. It fails if the files do not hold a matching
// certificate and key.
func Load(certFile, keyFile string, logger *slog.Logger) (*KeyPair, error) {
	kp := &KeyPair{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logging.Default(logger).With("component", "cert"),
	}
	if err := kp.reload(); err != nil {
		return nil, err
	}
	return kp, nil
}

func (kp *KeyPair) reload() error {
	c, err := tls.LoadX509KeyPair(kp.certFile, kp.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair %s: %w", kp.certFile, err)
	}
	kp.cert.Store(&c)
	return nil
}

// Watch reloads the key pair when either file is written or recreated. A
// reload that fails, as it does between writing the certificate and the
// key, keeps the previous pair.
func (kp *KeyPair) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	files := map[string]bool{
		filepath.Clean(kp.certFile): true,
		filepath.Clean(kp.keyFile):  true,
	}
	dirs := map[string]bool{}
	for f := range files {
		dir := filepath.Dir(f)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	kp.watcher = w
	kp.stop = make(chan struct{})
	kp.wg.Go(func() {
		for {
			select {
			case <-kp.stop:
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				kp.logger.Warn("cert watcher error", "error", err)
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !files[filepath.Clean(ev.Name)] || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := kp.reload(); err != nil {
					kp.logger.Warn("cert reload failed", "error", err)
					continue
				}
				kp.logger.Info("cert reloaded", "file", kp.certFile)
			}
		}
	})
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (kp *KeyPair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	c := kp.cert.Load()
	if c == nil {
		return nil, ErrNoCertificate
	}
	return c, nil
}

// TLSConfig returns a server config backed by this key pair.
func (kp *KeyPair) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: kp.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// Close stops watching. It is a no-op without Watch.
func (kp *KeyPair) Close() error {
	if kp.watcher == nil {
		return nil
	}
	close(kp.stop)
	kp.wg.Wait()
	return kp.watcher.Close()
}
