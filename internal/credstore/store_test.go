package credstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/thermohub/internal/thermostat"
)

type memoryBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryBlobStore) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.data[name]; ok {
		return data, nil
	}
	return nil, ErrBlobNotFound
}

func (m *memoryBlobStore) Save(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[name] = data
	return nil
}

func sessionCred(id, cookie string) thermostat.Credential {
	return thermostat.Credential{
		AccountID: id,
		Vendor:    thermostat.VendorTCC,
		Session:   &thermostat.Session{Username: "u", Password: "p", Cookie: cookie, UserID: cookie},
	}
}

func TestPutGetAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	store, err := Open(ctx, path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Exists("tcc-u") {
		t.Fatalf("empty store reports account")
	}
	if _, err := store.Get("tcc-u"); !errors.Is(err, thermostat.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}

	first, err := store.Put(ctx, sessionCred("tcc-u", "c1"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if first.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", first.Revision)
	}
	second, err := store.Put(ctx, sessionCred("tcc-u", "c2"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if second.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", second.Revision)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected permissions: %v", info.Mode().Perm())
	}

	reopened, err := Open(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get("tcc-u")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Session.Cookie != "c2" || got.Revision != 2 {
		t.Fatalf("unexpected reloaded credential: %+v", got.Session)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "c.json"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Put(ctx, sessionCred("tcc-u", "c1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ := store.Get("tcc-u")
	got.Session.Cookie = "tampered"
	again, _ := store.Get("tcc-u")
	if again.Session.Cookie != "c1" {
		t.Fatalf("store leaked internal payload")
	}
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "c.json"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	base, err := store.Put(ctx, sessionCred("tcc-u", "c1"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	stored, ok, err := store.CompareAndSwap(ctx, "tcc-u", base.Revision, sessionCred("tcc-u", "c2"))
	if err != nil || !ok {
		t.Fatalf("expected swap, ok=%v err=%v", ok, err)
	}
	if stored.Revision != base.Revision+1 {
		t.Fatalf("unexpected revision after swap: %d", stored.Revision)
	}

	current, ok, err := store.CompareAndSwap(ctx, "tcc-u", base.Revision, sessionCred("tcc-u", "stale"))
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if ok {
		t.Fatalf("stale revision must not swap")
	}
	if current.Session.Cookie != "c2" {
		t.Fatalf("expected current payload on conflict, got %s", current.Session.Cookie)
	}

	if _, _, err := store.CompareAndSwap(ctx, "tcc-missing", 1, sessionCred("tcc-missing", "x")); !errors.Is(err, thermostat.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestConcurrentReadersSeeWholePayloads(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "c.json"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Put(ctx, sessionCred("tcc-u", "0")); err != nil {
		t.Fatalf("put: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				cred, err := store.Get("tcc-u")
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				if cred.Session.Cookie != cred.Session.UserID {
					t.Errorf("torn payload: cookie=%s user=%s", cred.Session.Cookie, cred.Session.UserID)
					return
				}
			}
		}()
	}

	for i := 1; i <= 20; i++ {
		if _, err := store.Put(ctx, sessionCred("tcc-u", strconv.Itoa(i))); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	close(done)
	wg.Wait()
}

func TestOpenFallsBackToBlob(t *testing.T) {
	ctx := context.Background()
	blob := &memoryBlobStore{}
	dir := t.TempDir()

	origin, err := Open(ctx, filepath.Join(dir, "a.json"), blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := origin.Put(ctx, thermostat.Credential{
		AccountID: "lyric-x",
		Vendor:    thermostat.VendorLyric,
		OAuth:     &thermostat.OAuthToken{APIKey: "k", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)},
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	restored, err := Open(ctx, filepath.Join(dir, "b.json"), blob)
	if err != nil {
		t.Fatalf("open from blob: %v", err)
	}
	got, err := restored.Get("lyric-x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OAuth.RefreshToken != "r" {
		t.Fatalf("unexpected refresh token: %s", got.OAuth.RefreshToken)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.json")); err != nil {
		t.Fatalf("blob restore should write local file: %v", err)
	}
}

func TestDeleteAndPermissionCheck(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "c.json")
	store, err := Open(ctx, path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Put(ctx, sessionCred("tcc-u", "c1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "tcc-u"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.Exists("tcc-u") {
		t.Fatalf("account still present after delete")
	}
	if err := store.Delete(ctx, "tcc-u"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}

	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if _, err := Open(ctx, path, nil); err == nil {
		t.Fatalf("expected permission error")
	}
}

func TestPutRejectsMixedPayload(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "c.json"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bad := sessionCred("tcc-u", "c")
	bad.OAuth = &thermostat.OAuthToken{}
	if _, err := store.Put(ctx, bad); !errors.Is(err, thermostat.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
