package thermostat

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies failures so callers can decide on renewal or back-off.
type Kind int

const (
	KindAuth Kind = iota + 1
	KindRateLimited
	KindNetwork
	KindParse
	KindDeviceNotFound
	KindConfig
	KindAccountNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	case KindDeviceNotFound:
		return "device_not_found"
	case KindConfig:
		return "config"
	case KindAccountNotFound:
		return "account_not_found"
	default:
		return "unknown"
	}
}

var (
	ErrAuth            = errors.New("authorization rejected")
	ErrRateLimited     = errors.New("rate limited")
	ErrNetwork         = errors.New("network failure")
	ErrParse           = errors.New("unexpected vendor payload")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrConfig          = errors.New("invalid configuration")
	ErrAccountNotFound = errors.New("account not found")
)

func (k Kind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuth
	case KindRateLimited:
		return ErrRateLimited
	case KindNetwork:
		return ErrNetwork
	case KindParse:
		return ErrParse
	case KindDeviceNotFound:
		return ErrDeviceNotFound
	case KindConfig:
		return ErrConfig
	case KindAccountNotFound:
		return ErrAccountNotFound
	default:
		return nil
	}
}

// Error carries a taxonomy kind plus the operation and vendor that failed.
type Error struct {
	Kind    Kind
	Op      string
	Vendor  Vendor
	Err     error
	RetryAt time.Time
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Vendor != "" {
		msg = string(e.Vendor) + " " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else {
		msg += ": " + e.Kind.String()
	}
	if !e.RetryAt.IsZero() {
		msg += fmt.Sprintf(" (retry at %s)", e.RetryAt.UTC().Format(time.RFC3339))
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Errorf builds a taxonomy error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, vendor Vendor, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Vendor: vendor, Err: err}
}

// KindOf reports the taxonomy kind of err, or 0 when unclassified.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	for k := KindAuth; k <= KindAccountNotFound; k++ {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}
	return 0
}

func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }
