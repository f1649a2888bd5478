package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/usagedeck/usagedeck/internal/errors"
	"github.com/usagedeck/usagedeck/internal/logging"
)

// authFile is the on-disk credential format written by provider CLIs
// and the setup flow.
type authFile struct {
	Type         string `json:"type"`
	Email        string `json:"email,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	ExpiryDateMs int64  `json:"expiry_date,omitempty"`
}

// FileStore extracts credentials from per-account JSON auth files in a
// directory and refreshes them against an issuer token endpoint.
type FileStore struct {
	dir       string
	refresher *Refresher
	logger    *logging.Logger

	mu   sync.RWMutex
	refs map[string]string // accountID -> file name inside dir

	watcher  *fsnotify.Watcher
	onChange func(accountID string)
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewFileStore creates a file-backed credential store. refs maps
// account IDs to file names relative to dir.
func NewFileStore(dir string, refs map[string]string, refresher *Refresher, logger *logging.Logger) *FileStore {
	if logger == nil {
		logger = logging.NewLogger()
	}
	copied := make(map[string]string, len(refs))
	for id, ref := range refs {
		copied[id] = ref
	}
	return &FileStore{
		dir:       dir,
		refs:      copied,
		refresher: refresher,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Extract reads the auth file for an account and returns its material.
func (fs *FileStore) Extract(ctx context.Context, accountID string) (*Material, error) {
	_ = ctx

	fs.mu.RLock()
	ref, ok := fs.refs[accountID]
	fs.mu.RUnlock()
	if !ok || ref == "" {
		return nil, fmt.Errorf("account %s has no credentials ref: %w", accountID, errors.ErrCredentialUnavailable)
	}

	path := filepath.Join(fs.dir, ref)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("auth file %s: %w", path, errors.ErrCredentialUnavailable)
		}
		return nil, &errors.ErrFileRead{Path: path, Err: err}
	}

	var auth authFile
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("parse auth file %s: %w", path, errors.ErrCredentialUnavailable)
	}
	if auth.AccessToken == "" && auth.RefreshToken == "" {
		return nil, fmt.Errorf("auth file %s carries no tokens: %w", path, errors.ErrCredentialUnavailable)
	}

	return &Material{
		AccessToken:   auth.AccessToken,
		RefreshSecret: auth.RefreshToken,
		ExpiresAt:     auth.expiry(),
	}, nil
}

// Refresh exchanges a refresh secret for new material at the issuer.
func (fs *FileStore) Refresh(ctx context.Context, refreshSecret string) (*Material, error) {
	if fs.refresher == nil {
		return nil, errors.ErrCredentialUnavailable
	}
	return fs.refresher.Refresh(ctx, refreshSecret)
}

func (a *authFile) expiry() time.Time {
	if a.ExpiryDateMs > 0 {
		return time.UnixMilli(a.ExpiryDateMs)
	}
	if a.ExpiresAt != "" {
		if ts, err := time.Parse(time.RFC3339, a.ExpiresAt); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// SetOnChange registers a callback invoked with the account ID whenever
// that account's auth file is rewritten externally. Must be called
// before StartWatcher.
func (fs *FileStore) SetOnChange(fn func(accountID string)) {
	fs.mu.Lock()
	fs.onChange = fn
	fs.mu.Unlock()
}

// StartWatcher watches the credentials directory so that externally
// re-authenticated accounts pick up fresh material without a restart.
func (fs *FileStore) StartWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(fs.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	fs.watcher = watcher

	fs.wg.Add(1)
	go fs.watchLoop()
	return nil
}

// StopWatcher stops the directory watcher.
func (fs *FileStore) StopWatcher() {
	fs.stopOnce.Do(func() {
		close(fs.stopChan)
	})
	if fs.watcher != nil {
		_ = fs.watcher.Close()
	}
	fs.wg.Wait()
}

func (fs *FileStore) watchLoop() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.stopChan:
			return
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			fs.notifyChanged(filepath.Base(event.Name))
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Warn("credential watcher error", "error", err.Error())
		}
	}
}

func (fs *FileStore) notifyChanged(fileName string) {
	fs.mu.RLock()
	onChange := fs.onChange
	var accountID string
	for id, ref := range fs.refs {
		if ref == fileName {
			accountID = id
			break
		}
	}
	fs.mu.RUnlock()

	if accountID == "" || onChange == nil {
		return
	}
	fs.logger.Info("auth file changed, invalidating credentials", "account_id", accountID)
	onChange(accountID)
}

var _ Store = (*FileStore)(nil)
