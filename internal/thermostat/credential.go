package thermostat

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Credentials is the material an operator supplies to add an account.
type Credentials struct {
	Vendor Vendor

	// Lyric
	APIKey       string
	APISecret    string
	AuthCode     string
	RedirectURL  string
	RefreshToken string
	// Label distinguishes several Lyric accounts sharing one API key.
	Label string

	// TCC
	Username string
	Password string
}

func (c Credentials) Validate() error {
	switch c.Vendor {
	case VendorLyric:
		if c.APIKey == "" || c.APISecret == "" {
			return Errorf(KindConfig, "credentials", "lyric api key and secret are required")
		}
		if c.AuthCode == "" && c.RefreshToken == "" {
			return Errorf(KindConfig, "credentials", "lyric requires an authorization code or refresh token")
		}
		if c.AuthCode != "" && c.RedirectURL == "" {
			return Errorf(KindConfig, "credentials", "lyric authorization code requires redirect url")
		}
	case VendorTCC:
		if strings.TrimSpace(c.Username) == "" || c.Password == "" {
			return Errorf(KindConfig, "credentials", "tcc username and password are required")
		}
	default:
		return Errorf(KindConfig, "credentials", "unknown vendor %q", c.Vendor)
	}
	return nil
}

// AccountID derives the stable account identity from credential material.
func (c Credentials) AccountID() string {
	switch c.Vendor {
	case VendorLyric:
		material := c.APIKey
		if c.Label != "" {
			material += "/" + c.Label
		}
		sum := sha256.Sum256([]byte(material))
		return "lyric-" + hex.EncodeToString(sum[:])[:12]
	case VendorTCC:
		return "tcc-" + strings.ToLower(strings.TrimSpace(c.Username))
	default:
		return ""
	}
}

// OAuthToken is the Lyric credential payload.
type OAuthToken struct {
	APIKey       string    `json:"api_key"`
	APISecret    string    `json:"api_secret"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Session is the TCC credential payload.
type Session struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Cookie   string `json:"cookie"`
	UserID   string `json:"user_id"`
}

// Credential is the single live payload for one account. The store replaces
// it wholesale; Revision increases with every replacement.
type Credential struct {
	AccountID string      `json:"account_id"`
	Vendor    Vendor      `json:"vendor"`
	Revision  uint64      `json:"revision"`
	Invalid   bool        `json:"invalid,omitempty"`
	OAuth     *OAuthToken `json:"oauth,omitempty"`
	Session   *Session    `json:"session,omitempty"`
}

// CredentialStatus is the lifecycle position of a payload.
type CredentialStatus string

const (
	CredentialValid    CredentialStatus = "valid"
	CredentialExpiring CredentialStatus = "expiring"
	CredentialInvalid  CredentialStatus = "invalid"
)

func (c Credential) Clone() Credential {
	out := c
	if c.OAuth != nil {
		token := *c.OAuth
		out.OAuth = &token
	}
	if c.Session != nil {
		session := *c.Session
		out.Session = &session
	}
	return out
}

// Status classifies the payload relative to now and the renewal margin.
func (c Credential) Status(now time.Time, margin time.Duration) CredentialStatus {
	if c.Invalid {
		return CredentialInvalid
	}
	switch c.Vendor {
	case VendorLyric:
		if c.OAuth == nil || c.OAuth.RefreshToken == "" {
			return CredentialInvalid
		}
		if c.OAuth.AccessToken == "" || !now.Add(margin).Before(c.OAuth.Expiry) {
			return CredentialExpiring
		}
		return CredentialValid
	case VendorTCC:
		if c.Session == nil || c.Session.Username == "" || c.Session.Password == "" {
			return CredentialInvalid
		}
		if c.Session.Cookie == "" {
			return CredentialExpiring
		}
		return CredentialValid
	default:
		return CredentialInvalid
	}
}

func (c Credential) Validate() error {
	if c.AccountID == "" {
		return Errorf(KindConfig, "credential", "account id is required")
	}
	switch c.Vendor {
	case VendorLyric:
		if c.OAuth == nil || c.Session != nil {
			return Errorf(KindConfig, "credential", "lyric account %s must carry exactly an oauth payload", c.AccountID)
		}
	case VendorTCC:
		if c.Session == nil || c.OAuth != nil {
			return Errorf(KindConfig, "credential", "tcc account %s must carry exactly a session payload", c.AccountID)
		}
	default:
		return Errorf(KindConfig, "credential", "unknown vendor %q", c.Vendor)
	}
	return nil
}
