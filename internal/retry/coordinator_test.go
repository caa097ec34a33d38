package retry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshp123/thermohub/internal/credstore"
	"github.com/joshp123/thermohub/internal/thermostat"
)

// fakeAdapter accepts only the cookie it issued most recently.
type fakeAdapter struct {
	mu         sync.Mutex
	issued     int
	refreshes  atomic.Int32
	refreshErr error
	gate       chan struct{}
}

func (f *fakeAdapter) Vendor() thermostat.Vendor { return thermostat.VendorTCC }

func (f *fakeAdapter) Authenticate(context.Context, thermostat.Credentials) (thermostat.Credential, error) {
	return thermostat.Credential{}, errors.New("not used")
}

func (f *fakeAdapter) ListDevices(context.Context, thermostat.Credential) ([]thermostat.DeviceDescriptor, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchState(_ context.Context, cred thermostat.Credential, _ thermostat.DeviceKey) (thermostat.State, error) {
	if err := f.check(cred); err != nil {
		return thermostat.State{}, err
	}
	return thermostat.State{Temperature: 70}, nil
}

func (f *fakeAdapter) PushControl(_ context.Context, cred thermostat.Credential, _ thermostat.DeviceKey, _ thermostat.Changes) error {
	return f.check(cred)
}

func (f *fakeAdapter) Refresh(_ context.Context, cred thermostat.Credential) (thermostat.Credential, error) {
	f.refreshes.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.refreshErr != nil {
		return thermostat.Credential{}, f.refreshErr
	}
	f.mu.Lock()
	f.issued++
	cookie := fmt.Sprintf("cookie-%d", f.issued)
	f.mu.Unlock()
	next := cred.Clone()
	next.Session.Cookie = cookie
	return next, nil
}

func (f *fakeAdapter) check(cred thermostat.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cred.Session.Cookie != fmt.Sprintf("cookie-%d", f.issued) {
		return thermostat.Wrap(thermostat.KindAuth, thermostat.VendorTCC, "check", errors.New("stale cookie"))
	}
	return nil
}

func newCoordinator(t *testing.T, adapter *fakeAdapter) (*Coordinator, *credstore.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := credstore.Open(ctx, filepath.Join(t.TempDir(), "credentials.json"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	_, err = store.Put(ctx, thermostat.Credential{
		AccountID: "tcc-alice",
		Vendor:    thermostat.VendorTCC,
		Session:   &thermostat.Session{Username: "alice", Password: "pw", Cookie: "expired", UserID: "1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	adapters, err := thermostat.NewAdapters(adapter)
	if err != nil {
		t.Fatalf("adapters: %v", err)
	}
	return New(store, adapters, nil), store
}

func fetch(calls *atomic.Int32) Operation {
	return func(ctx context.Context, adapter thermostat.Adapter, cred thermostat.Credential) error {
		calls.Add(1)
		_, err := adapter.FetchState(ctx, cred, thermostat.DeviceKey{})
		return err
	}
}

func TestAuthErrorRenewsOnceAndRetriesOnce(t *testing.T) {
	adapter := &fakeAdapter{}
	coord, store := newCoordinator(t, adapter)

	var calls atomic.Int32
	if err := coord.Execute(context.Background(), "tcc-alice", fetch(&calls)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls.Load() != 2 || adapter.refreshes.Load() != 1 {
		t.Fatalf("expected 2 attempts and 1 renewal, got %d and %d", calls.Load(), adapter.refreshes.Load())
	}
	cred, err := store.Get("tcc-alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cred.Session.Cookie != "cookie-1" || cred.Revision != 2 {
		t.Fatalf("expected renewed payload stored, got %+v rev %d", cred.Session, cred.Revision)
	}

	calls.Store(0)
	if err := coord.Execute(context.Background(), "tcc-alice", fetch(&calls)); err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if calls.Load() != 1 || adapter.refreshes.Load() != 1 {
		t.Fatalf("valid payload must not renew: calls=%d refreshes=%d", calls.Load(), adapter.refreshes.Load())
	}
}

func TestSecondAuthErrorIsTerminal(t *testing.T) {
	adapter := &fakeAdapter{}
	coord, _ := newCoordinator(t, adapter)

	var calls atomic.Int32
	alwaysRejected := func(context.Context, thermostat.Adapter, thermostat.Credential) error {
		calls.Add(1)
		return thermostat.Wrap(thermostat.KindAuth, thermostat.VendorTCC, "op", errors.New("revoked"))
	}
	err := coord.Execute(context.Background(), "tcc-alice", alwaysRejected)
	if !errors.Is(err, thermostat.ErrAuth) {
		t.Fatalf("expected terminal auth error, got %v", err)
	}
	if calls.Load() != 2 || adapter.refreshes.Load() != 1 {
		t.Fatalf("expected exactly 2 attempts and 1 renewal, got %d and %d", calls.Load(), adapter.refreshes.Load())
	}
}

func TestNonAuthErrorsAreNotRetried(t *testing.T) {
	adapter := &fakeAdapter{}
	coord, _ := newCoordinator(t, adapter)

	var calls atomic.Int32
	err := coord.Execute(context.Background(), "tcc-alice", func(context.Context, thermostat.Adapter, thermostat.Credential) error {
		calls.Add(1)
		return thermostat.Wrap(thermostat.KindRateLimited, thermostat.VendorTCC, "op", errors.New("slow down"))
	})
	if !errors.Is(err, thermostat.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if calls.Load() != 1 || adapter.refreshes.Load() != 0 {
		t.Fatalf("expected no retry, got %d calls %d refreshes", calls.Load(), adapter.refreshes.Load())
	}
}

func TestConcurrentRenewalsCoalesce(t *testing.T) {
	adapter := &fakeAdapter{gate: make(chan struct{})}
	coord, _ := newCoordinator(t, adapter)

	const workers = 8
	var (
		calls atomic.Int32
		wg    sync.WaitGroup
		errs  = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- coord.Execute(context.Background(), "tcc-alice", fetch(&calls))
		}()
	}

	deadline := time.After(5 * time.Second)
	for adapter.refreshes.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("renewal never started")
		case <-time.After(time.Millisecond):
		}
	}
	// Give the remaining workers time to join the in-flight renewal.
	time.Sleep(50 * time.Millisecond)
	close(adapter.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	if got := adapter.refreshes.Load(); got != 1 {
		t.Fatalf("expected one coalesced renewal, got %d", got)
	}
}

func TestFailedRenewalMarksInvalid(t *testing.T) {
	adapter := &fakeAdapter{refreshErr: thermostat.Wrap(thermostat.KindAuth, thermostat.VendorTCC, "login", errors.New("bad password"))}
	coord, store := newCoordinator(t, adapter)

	var calls atomic.Int32
	if err := coord.Execute(context.Background(), "tcc-alice", fetch(&calls)); !errors.Is(err, thermostat.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	cred, _ := store.Get("tcc-alice")
	if !cred.Invalid {
		t.Fatalf("expected credential marked invalid")
	}
	calls.Store(0)
	if err := coord.Execute(context.Background(), "tcc-alice", fetch(&calls)); !errors.Is(err, thermostat.ErrAuth) {
		t.Fatalf("expected auth error for invalid credential, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("invalid credential must not reach the vendor")
	}
}

func TestRemovedAccountSuppressesRenewal(t *testing.T) {
	adapter := &fakeAdapter{}
	coord, store := newCoordinator(t, adapter)

	err := coord.Execute(context.Background(), "tcc-alice", func(ctx context.Context, _ thermostat.Adapter, _ thermostat.Credential) error {
		if err := store.Delete(ctx, "tcc-alice"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		return thermostat.Wrap(thermostat.KindAuth, thermostat.VendorTCC, "op", errors.New("expired"))
	})
	if !errors.Is(err, thermostat.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	if adapter.refreshes.Load() != 0 {
		t.Fatalf("removed account must not be renewed")
	}
	if _, err := coord.Renew(context.Background(), "tcc-alice"); !errors.Is(err, thermostat.ErrAccountNotFound) {
		t.Fatalf("expected account not found from Renew, got %v", err)
	}
}

func TestConcurrentlyInvalidatedPayloadIsNotRetried(t *testing.T) {
	adapter := &fakeAdapter{}
	coord, store := newCoordinator(t, adapter)

	var calls atomic.Int32
	err := coord.Execute(context.Background(), "tcc-alice", func(ctx context.Context, _ thermostat.Adapter, cred thermostat.Credential) error {
		calls.Add(1)
		// Another caller's renewal was rejected while this call was in flight.
		bad := cred.Clone()
		bad.Invalid = true
		if _, ok, err := store.CompareAndSwap(ctx, cred.AccountID, cred.Revision, bad); err != nil || !ok {
			t.Fatalf("mark invalid: ok=%v err=%v", ok, err)
		}
		return thermostat.Wrap(thermostat.KindAuth, thermostat.VendorTCC, "op", errors.New("expired"))
	})
	if !errors.Is(err, thermostat.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("invalid payload must not be retried, got %d calls", calls.Load())
	}
	if adapter.refreshes.Load() != 0 {
		t.Fatalf("invalid payload must not be renewed")
	}
}
