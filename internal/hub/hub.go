// Package hub is the consumer-facing surface: it owns accounts, discovered
// devices and their normalized state, and routes every vendor call through
// the retry coordinator.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/thermohub/internal/inventory"
	"github.com/joshp123/thermohub/internal/logging"
	"github.com/joshp123/thermohub/internal/metrics"
	"github.com/joshp123/thermohub/internal/retry"
	"github.com/joshp123/thermohub/internal/thermostat"
)

const defaultConfirmDelay = 5 * time.Second

// CredentialStore is the credential persistence the hub needs.
type CredentialStore interface {
	retry.CredentialStore
	Put(ctx context.Context, cred thermostat.Credential) (thermostat.Credential, error)
	Delete(ctx context.Context, accountID string) error
	Exists(accountID string) bool
	List() []thermostat.Credential
}

// Sink receives every successfully refreshed state.
type Sink interface {
	PublishState(ctx context.Context, key thermostat.DeviceKey, state thermostat.State) error
}

// DeviceForgetter is implemented by sinks that keep per-device resources.
type DeviceForgetter interface {
	ForgetDevice(key thermostat.DeviceKey)
}

type Options struct {
	// ConfirmDelay is the wait before re-fetching a device after a control
	// command. Zero uses the default; negative disables confirmation.
	ConfirmDelay time.Duration
	Sinks        []Sink
	Log          *zap.SugaredLogger
}

type Hub struct {
	store        CredentialStore
	adapters     thermostat.Adapters
	coord        *retry.Coordinator
	inv          *inventory.Inventory
	sinks        []Sink
	confirmDelay time.Duration
	log          *zap.SugaredLogger
	now          func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners []func()

	// accountsMu orders device registration against account removal.
	accountsMu sync.Mutex
}

func New(store CredentialStore, adapters thermostat.Adapters, coord *retry.Coordinator, opts Options) *Hub {
	delay := opts.ConfirmDelay
	if delay == 0 {
		delay = defaultConfirmDelay
	}
	base, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:        store,
		adapters:     adapters,
		coord:        coord,
		inv:          inventory.New(),
		sinks:        opts.Sinks,
		confirmDelay: delay,
		log:          logging.OrNop(opts.Log),
		now:          time.Now,
		base:         base,
		cancel:       cancel,
	}
}

// Close cancels pending confirmation fetches and waits for them to finish.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}

// OnAccountsChanged registers fn to run after an account is added or removed.
func (h *Hub) OnAccountsChanged(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *Hub) notifyAccountsChanged() {
	h.mu.Lock()
	listeners := append([]func(){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Accounts returns copies of every stored credential.
func (h *Hub) Accounts() []thermostat.Credential {
	return h.store.List()
}

func (h *Hub) Account(accountID string) (thermostat.Credential, error) {
	return h.store.Get(accountID)
}

// AddAccount authenticates, stores the resulting credential and discovers the
// account's devices. Adding an existing account replaces its credential.
func (h *Hub) AddAccount(ctx context.Context, creds thermostat.Credentials) (thermostat.Credential, []thermostat.DeviceDescriptor, error) {
	adapter, err := h.adapters.For(creds.Vendor)
	if err != nil {
		return thermostat.Credential{}, nil, err
	}
	cred, err := adapter.Authenticate(ctx, creds)
	if err != nil {
		return thermostat.Credential{}, nil, fmt.Errorf("authenticate %s: %w", creds.Vendor, err)
	}
	stored, err := h.store.Put(ctx, cred)
	if err != nil {
		return thermostat.Credential{}, nil, fmt.Errorf("store credential: %w", err)
	}
	metrics.SetCredentialValid(stored.AccountID, stored.Vendor, true)
	h.log.Infow("account added", "account", stored.AccountID, "vendor", stored.Vendor)
	h.notifyAccountsChanged()

	devices, err := h.Discover(ctx, stored.AccountID)
	if err != nil {
		return stored, nil, err
	}
	return stored, devices, nil
}

// RemoveAccount forgets the account's credential and devices.
func (h *Hub) RemoveAccount(ctx context.Context, accountID string) error {
	cred, err := h.store.Get(accountID)
	if err != nil {
		return err
	}
	h.accountsMu.Lock()
	if err := h.store.Delete(ctx, accountID); err != nil {
		h.accountsMu.Unlock()
		return fmt.Errorf("delete credential: %w", err)
	}
	removed := h.inv.RemoveAccount(accountID)
	h.accountsMu.Unlock()
	for _, key := range removed {
		for _, sink := range h.sinks {
			if f, ok := sink.(DeviceForgetter); ok {
				f.ForgetDevice(key)
			}
		}
	}
	metrics.ForgetAccount(accountID, cred.Vendor)
	h.log.Infow("account removed", "account", accountID, "devices", len(removed))
	h.notifyAccountsChanged()
	return nil
}

// Discover enumerates the account's thermostats and registers any new ones.
func (h *Hub) Discover(ctx context.Context, accountID string) ([]thermostat.DeviceDescriptor, error) {
	var devices []thermostat.DeviceDescriptor
	err := h.coord.Execute(ctx, accountID, func(ctx context.Context, adapter thermostat.Adapter, cred thermostat.Credential) error {
		var err error
		devices, err = adapter.ListDevices(ctx, cred)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", accountID, err)
	}
	h.accountsMu.Lock()
	defer h.accountsMu.Unlock()
	if !h.store.Exists(accountID) {
		return nil, &thermostat.Error{Kind: thermostat.KindAccountNotFound, Op: "discover", Err: fmt.Errorf("account %q removed during discovery", accountID)}
	}
	for i := range devices {
		devices[i].AccountID = accountID
		if h.inv.Register(devices[i]) {
			h.log.Infow("thermostat discovered", "device", devices[i].Key, "name", devices[i].Name, "account", accountID)
		}
	}
	return devices, nil
}

// LoadAccounts discovers devices for every stored account. One account
// failing does not stop the others.
func (h *Hub) LoadAccounts(ctx context.Context) error {
	var errs []error
	for _, cred := range h.store.List() {
		metrics.SetCredentialValid(cred.AccountID, cred.Vendor, !cred.Invalid)
		if _, err := h.Discover(ctx, cred.AccountID); err != nil {
			h.log.Warnw("account discovery failed", "account", cred.AccountID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns every known device with its last known state.
func (h *Hub) List() []inventory.Device {
	return h.inv.Snapshot()
}

func (h *Hub) Keys() []thermostat.DeviceKey {
	return h.inv.Keys()
}

func (h *Hub) Device(key thermostat.DeviceKey) (inventory.Device, error) {
	dev, ok := h.inv.Get(key)
	if !ok {
		return inventory.Device{}, &thermostat.Error{Kind: thermostat.KindDeviceNotFound, Op: "lookup", Vendor: key.Vendor, Err: fmt.Errorf("device %s", key)}
	}
	return dev, nil
}

// Refresh fetches the device's state and publishes it. On failure the last
// known state is kept.
func (h *Hub) Refresh(ctx context.Context, key thermostat.DeviceKey) (thermostat.State, error) {
	dev, err := h.Device(key)
	if err != nil {
		return thermostat.State{}, err
	}

	var state thermostat.State
	err = h.coord.Execute(ctx, dev.AccountID, func(ctx context.Context, adapter thermostat.Adapter, cred thermostat.Credential) error {
		var err error
		state, err = adapter.FetchState(ctx, cred, key)
		return err
	})
	metrics.ObserveRefresh(key.Vendor, err)
	if err != nil {
		h.inv.RecordError(key, err, h.now())
		return thermostat.State{}, fmt.Errorf("refresh %s: %w", key, err)
	}
	if !h.inv.SetState(key, state) {
		// Removed while the fetch was in flight.
		return thermostat.State{}, &thermostat.Error{Kind: thermostat.KindDeviceNotFound, Op: "refresh", Vendor: key.Vendor, Err: fmt.Errorf("device %s removed", key)}
	}
	h.publish(ctx, key, state)
	return state, nil
}

// Current returns the cached state, fetching it if none is known yet.
func (h *Hub) Current(ctx context.Context, key thermostat.DeviceKey) (thermostat.State, error) {
	dev, err := h.Device(key)
	if err != nil {
		return thermostat.State{}, err
	}
	if dev.State != nil {
		return *dev.State, nil
	}
	return h.Refresh(ctx, key)
}

// Control pushes a partial change and schedules a confirmation re-fetch.
func (h *Hub) Control(ctx context.Context, key thermostat.DeviceKey, changes thermostat.Changes) error {
	if err := changes.Validate(); err != nil {
		return err
	}
	dev, err := h.Device(key)
	if err != nil {
		return err
	}
	err = h.coord.Execute(ctx, dev.AccountID, func(ctx context.Context, adapter thermostat.Adapter, cred thermostat.Credential) error {
		return adapter.PushControl(ctx, cred, key, changes)
	})
	metrics.ObserveControl(key.Vendor, err)
	if err != nil {
		return fmt.Errorf("control %s: %w", key, err)
	}
	h.log.Infow("control sent", "device", key, "changes", changes.String())
	h.scheduleConfirm(key)
	return nil
}

func (h *Hub) scheduleConfirm(key thermostat.DeviceKey) {
	if h.confirmDelay < 0 {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		timer := time.NewTimer(h.confirmDelay)
		defer timer.Stop()
		select {
		case <-h.base.Done():
			return
		case <-timer.C:
		}
		if !h.inv.Contains(key) {
			return
		}
		if _, err := h.Refresh(h.base, key); err != nil && !errors.Is(err, context.Canceled) {
			h.log.Warnw("confirmation refresh failed", "device", key, "error", err)
		}
	}()
}

func (h *Hub) publish(ctx context.Context, key thermostat.DeviceKey, state thermostat.State) {
	for _, sink := range h.sinks {
		if err := sink.PublishState(ctx, key, state); err != nil {
			h.log.Warnw("state sink failed", "device", key, "error", err)
		}
	}
}
