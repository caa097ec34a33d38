// Package retry runs adapter calls under an account's current credential and
// recovers once from an authorization failure by renewing the credential.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joshp123/thermohub/internal/logging"
	"github.com/joshp123/thermohub/internal/metrics"
	"github.com/joshp123/thermohub/internal/thermostat"
)

const defaultRenewTimeout = 30 * time.Second

// CredentialStore is the subset of the credential store the coordinator needs.
type CredentialStore interface {
	Get(accountID string) (thermostat.Credential, error)
	CompareAndSwap(ctx context.Context, accountID string, revision uint64, cred thermostat.Credential) (thermostat.Credential, bool, error)
}

// Operation is an adapter call bound to the payload it should use.
type Operation func(ctx context.Context, adapter thermostat.Adapter, cred thermostat.Credential) error

type Coordinator struct {
	store        CredentialStore
	adapters     thermostat.Adapters
	log          *zap.SugaredLogger
	renewTimeout time.Duration

	renewals singleflight.Group
}

func New(store CredentialStore, adapters thermostat.Adapters, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		store:        store,
		adapters:     adapters,
		log:          logging.OrNop(log),
		renewTimeout: defaultRenewTimeout,
	}
}

// Execute runs op with the account's current payload. An authorization
// failure triggers one renewal and one retry; a second authorization failure
// is returned as is.
func (c *Coordinator) Execute(ctx context.Context, accountID string, op Operation) error {
	cred, err := c.store.Get(accountID)
	if err != nil {
		return err
	}
	adapter, err := c.adapters.For(cred.Vendor)
	if err != nil {
		return err
	}
	if cred.Invalid {
		return &thermostat.Error{Kind: thermostat.KindAuth, Op: "execute", Vendor: cred.Vendor, Err: fmt.Errorf("account %s needs re-authentication", accountID)}
	}

	err = op(ctx, adapter, cred)
	if err == nil || !thermostat.IsAuth(err) {
		return err
	}

	c.log.Infow("authorization rejected, renewing credential", "account", accountID, "vendor", cred.Vendor, "revision", cred.Revision, "error", err)
	metrics.ObserveAuthRetry(cred.Vendor)
	next, err := c.renewFrom(ctx, cred)
	if err != nil {
		return err
	}

	err = op(ctx, adapter, next)
	if thermostat.IsAuth(err) {
		c.log.Warnw("authorization rejected after renewal", "account", accountID, "vendor", cred.Vendor, "error", err)
		return &thermostat.Error{Kind: thermostat.KindAuth, Op: "execute", Vendor: cred.Vendor, Err: fmt.Errorf("rejected after renewal: %w", err)}
	}
	return err
}

// Renew forces a renewal of the account's current payload. It is used by
// proactive renewal timers.
func (c *Coordinator) Renew(ctx context.Context, accountID string) (thermostat.Credential, error) {
	cred, err := c.store.Get(accountID)
	if err != nil {
		return thermostat.Credential{}, err
	}
	return c.renewFrom(ctx, cred)
}

// renewFrom returns a payload newer than failed. Callers that failed under
// the same revision share one renewal; if the store already holds a newer
// revision it is returned without contacting the vendor.
func (c *Coordinator) renewFrom(ctx context.Context, failed thermostat.Credential) (thermostat.Credential, error) {
	key := failed.AccountID + "@" + strconv.FormatUint(failed.Revision, 10)
	ch := c.renewals.DoChan(key, func() (any, error) {
		renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.renewTimeout)
		defer cancel()
		return c.renew(renewCtx, failed)
	})
	select {
	case <-ctx.Done():
		return thermostat.Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return thermostat.Credential{}, res.Err
		}
		return res.Val.(thermostat.Credential), nil
	}
}

func (c *Coordinator) renew(ctx context.Context, failed thermostat.Credential) (thermostat.Credential, error) {
	current, err := c.store.Get(failed.AccountID)
	if err != nil {
		// Account removed while the call was in flight.
		return thermostat.Credential{}, err
	}
	if current.Invalid {
		return thermostat.Credential{}, &thermostat.Error{Kind: thermostat.KindAuth, Op: "renew", Vendor: current.Vendor, Err: fmt.Errorf("account %s needs re-authentication", current.AccountID)}
	}
	if current.Revision != failed.Revision {
		return current, nil
	}

	adapter, err := c.adapters.For(current.Vendor)
	if err != nil {
		return thermostat.Credential{}, err
	}
	next, err := adapter.Refresh(ctx, current)
	metrics.ObserveRenewal(current.Vendor, err)
	if err != nil {
		if thermostat.IsAuth(err) {
			c.markInvalid(ctx, current)
		}
		c.log.Warnw("credential renewal failed", "account", current.AccountID, "vendor", current.Vendor, "error", err)
		return thermostat.Credential{}, err
	}
	next.AccountID = current.AccountID
	next.Vendor = current.Vendor

	stored, swapped, err := c.store.CompareAndSwap(ctx, current.AccountID, current.Revision, next)
	if err != nil {
		return thermostat.Credential{}, err
	}
	if !swapped {
		c.log.Debugw("credential replaced concurrently, using stored payload", "account", current.AccountID, "revision", stored.Revision)
	} else {
		c.log.Infow("credential renewed", "account", current.AccountID, "vendor", current.Vendor, "revision", stored.Revision)
	}
	metrics.SetCredentialValid(stored.AccountID, stored.Vendor, !stored.Invalid)
	return stored, nil
}

func (c *Coordinator) markInvalid(ctx context.Context, current thermostat.Credential) {
	invalid := current.Clone()
	invalid.Invalid = true
	_, _, err := c.store.CompareAndSwap(ctx, current.AccountID, current.Revision, invalid)
	if err != nil && !errors.Is(err, thermostat.ErrAccountNotFound) {
		c.log.Warnw("failed to mark credential invalid", "account", current.AccountID, "error", err)
	}
	metrics.SetCredentialValid(current.AccountID, current.Vendor, false)
}
