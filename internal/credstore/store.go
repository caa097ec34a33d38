package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/joshp123/thermohub/internal/thermostat"
)

const SchemaVersion = 1

// document is the on-disk shape of the store.
type document struct {
	SchemaVersion int                     `json:"schema_version"`
	Accounts      []thermostat.Credential `json:"accounts"`
}

// Store holds one live credential payload per account. Every write replaces
// a whole payload and is persisted before it becomes visible to readers.
type Store struct {
	path string
	blob BlobStore

	mu       sync.RWMutex
	accounts map[string]thermostat.Credential
}

// Open loads the store from path, falling back to the blob mirror when the
// local file does not exist yet. A nil blob disables mirroring.
func Open(ctx context.Context, path string, blob BlobStore) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("credential store path is required")
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("credential store path must be absolute")
	}

	s := &Store{path: path, blob: blob, accounts: make(map[string]thermostat.Credential)}

	doc, err := loadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		doc, err = s.loadBlob(ctx)
		if err != nil && !errors.Is(err, ErrBlobNotFound) {
			return nil, err
		}
		if err == nil {
			if err := writeFile(path, doc); err != nil {
				return nil, err
			}
		}
	default:
		return nil, err
	}

	for _, cred := range doc.Accounts {
		if err := cred.Validate(); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		s.accounts[cred.AccountID] = cred.Clone()
	}
	return s, nil
}

// Get returns a full copy of the account's payload.
func (s *Store) Get(accountID string) (thermostat.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.accounts[accountID]
	if !ok {
		return thermostat.Credential{}, &thermostat.Error{Kind: thermostat.KindAccountNotFound, Op: "credential get", Err: fmt.Errorf("account %q", accountID)}
	}
	return cred.Clone(), nil
}

func (s *Store) Exists(accountID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[accountID]
	return ok
}

// List returns copies of every payload ordered by account id.
func (s *Store) List() []thermostat.Credential {
	s.mu.RLock()
	out := make([]thermostat.Credential, 0, len(s.accounts))
	for _, cred := range s.accounts {
		out = append(out, cred.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Put replaces the payload unconditionally and returns it with its new revision.
func (s *Store) Put(ctx context.Context, cred thermostat.Credential) (thermostat.Credential, error) {
	if err := cred.Validate(); err != nil {
		return thermostat.Credential{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(ctx, cred)
}

// CompareAndSwap replaces the payload only if the stored revision still
// equals revision. ok is false when another writer got there first.
func (s *Store) CompareAndSwap(ctx context.Context, accountID string, revision uint64, cred thermostat.Credential) (stored thermostat.Credential, ok bool, err error) {
	if cred.AccountID != accountID {
		return thermostat.Credential{}, false, fmt.Errorf("compare and swap: account id mismatch %q != %q", cred.AccountID, accountID)
	}
	if err := cred.Validate(); err != nil {
		return thermostat.Credential{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.accounts[accountID]
	if !exists {
		return thermostat.Credential{}, false, &thermostat.Error{Kind: thermostat.KindAccountNotFound, Op: "credential swap", Err: fmt.Errorf("account %q", accountID)}
	}
	if current.Revision != revision {
		return current.Clone(), false, nil
	}
	stored, err = s.replaceLocked(ctx, cred)
	if err != nil {
		return thermostat.Credential{}, false, err
	}
	return stored, true, nil
}

// Delete removes an account. Deleting an unknown account is a no-op.
func (s *Store) Delete(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil
	}
	next := s.copyLocked()
	delete(next, accountID)
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.accounts = next
	return nil
}

func (s *Store) replaceLocked(ctx context.Context, cred thermostat.Credential) (thermostat.Credential, error) {
	stored := cred.Clone()
	stored.Revision = s.accounts[cred.AccountID].Revision + 1

	next := s.copyLocked()
	next[cred.AccountID] = stored
	if err := s.persist(ctx, next); err != nil {
		return thermostat.Credential{}, err
	}
	s.accounts = next
	return stored.Clone(), nil
}

func (s *Store) copyLocked() map[string]thermostat.Credential {
	next := make(map[string]thermostat.Credential, len(s.accounts)+1)
	for id, cred := range s.accounts {
		next[id] = cred
	}
	return next
}

func (s *Store) persist(ctx context.Context, accounts map[string]thermostat.Credential) error {
	doc := document{SchemaVersion: SchemaVersion, Accounts: make([]thermostat.Credential, 0, len(accounts))}
	for _, cred := range accounts {
		doc.Accounts = append(doc.Accounts, cred)
	}
	sort.Slice(doc.Accounts, func(i, j int) bool { return doc.Accounts[i].AccountID < doc.Accounts[j].AccountID })

	if err := writeFile(s.path, doc); err != nil {
		persistFailure.WithLabelValues("local").Inc()
		return fmt.Errorf("persist credentials: %w", err)
	}
	if s.blob == nil {
		return nil
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	// The local file is authoritative; a failed mirror only degrades health.
	if err := s.blob.Save(ctx, blobName, data); err != nil {
		persistFailure.WithLabelValues("remote").Inc()
		remotePersistOK.Set(0)
		return nil
	}
	remotePersistOK.Set(1)
	return nil
}

func (s *Store) loadBlob(ctx context.Context) (document, error) {
	if s.blob == nil {
		return document{}, ErrBlobNotFound
	}
	data, err := s.blob.Load(ctx, blobName)
	if err != nil {
		return document{}, err
	}
	return decode(data)
}

func loadFile(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}, err
	}
	if err := checkStateFile(path); err != nil {
		return document{}, err
	}
	return decode(data)
}

func decode(data []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("decode credentials: %w", err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return document{}, fmt.Errorf("unsupported schema_version: %d", doc.SchemaVersion)
	}
	return doc, nil
}

// writeFile replaces path via rename so a crash never leaves a torn file.
func writeFile(path string, doc document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".credentials-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
