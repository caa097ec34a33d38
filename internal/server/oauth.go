package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joshp123/thermohub/internal/logging"
	"github.com/joshp123/thermohub/internal/thermostat"
)

const stateTTL = 10 * time.Minute

type AuthCodeURLer interface {
	AuthCodeURL(apiKey, redirectURL, state string) string
}

type AccountAdder interface {
	AddAccount(ctx context.Context, creds thermostat.Credentials) (thermostat.Credential, []thermostat.DeviceDescriptor, error)
}

type LyricOnboardingConfig struct {
	APIKey      string
	APISecret   string
	RedirectURL string
	Label       string
}

// LyricOnboarding runs the browser half of the Lyric authorization-code
// flow: /start redirects to the consent page, /callback exchanges the code
// and adds the account.
type LyricOnboarding struct {
	cfg      LyricOnboardingConfig
	consent  AuthCodeURLer
	accounts AccountAdder
	log      *zap.SugaredLogger
	now      func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
}

func NewLyricOnboarding(cfg LyricOnboardingConfig, consent AuthCodeURLer, accounts AccountAdder, log *zap.SugaredLogger) *LyricOnboarding {
	return &LyricOnboarding{
		cfg:      cfg,
		consent:  consent,
		accounts: accounts,
		log:      logging.OrNop(log),
		now:      time.Now,
		states:   make(map[string]time.Time),
	}
}

func (o *LyricOnboarding) start(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	o.mu.Lock()
	o.expireLocked()
	o.states[state] = o.now().Add(stateTTL)
	o.mu.Unlock()

	http.Redirect(w, r, o.consent.AuthCodeURL(o.cfg.APIKey, o.cfg.RedirectURL, state), http.StatusFound)
}

func (o *LyricOnboarding) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errStr := query.Get("error"); errStr != "" {
		writeError(w, http.StatusBadRequest, "authorization_denied", errStr)
		return
	}
	if !o.consumeState(query.Get("state")) {
		writeError(w, http.StatusBadRequest, "state_mismatch", "Unknown or expired state")
		return
	}
	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code", "Missing authorization code")
		return
	}

	cred, devices, err := o.accounts.AddAccount(r.Context(), thermostat.Credentials{
		Vendor:      thermostat.VendorLyric,
		APIKey:      o.cfg.APIKey,
		APISecret:   o.cfg.APISecret,
		AuthCode:    code,
		RedirectURL: o.cfg.RedirectURL,
		Label:       o.cfg.Label,
	})
	if err != nil {
		o.log.Warnw("lyric onboarding failed", "error", err)
		writeHubError(w, err)
		return
	}

	keys := make([]string, 0, len(devices))
	for _, dev := range devices {
		keys = append(keys, dev.Key.String())
	}
	o.log.Infow("lyric account added", "account", cred.AccountID, "devices", len(keys))
	writeJSON(w, http.StatusOK, map[string]any{"account_id": cred.AccountID, "devices": keys})
}

// consumeState accepts each issued state once, before it expires.
func (o *LyricOnboarding) consumeState(state string) bool {
	if state == "" {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	expires, ok := o.states[state]
	delete(o.states, state)
	return ok && o.now().Before(expires)
}

func (o *LyricOnboarding) expireLocked() {
	now := o.now()
	for state, expires := range o.states {
		if !now.Before(expires) {
			delete(o.states, state)
		}
	}
}
