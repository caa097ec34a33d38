package thermostat

import "context"

// Adapter is the capability every vendor integration implements. Each method
// returns an error classified with Kind; KindAuth means the payload was
// rejected and renewal may help.
type Adapter interface {
	Vendor() Vendor
	Authenticate(ctx context.Context, creds Credentials) (Credential, error)
	ListDevices(ctx context.Context, cred Credential) ([]DeviceDescriptor, error)
	FetchState(ctx context.Context, cred Credential, key DeviceKey) (State, error)
	PushControl(ctx context.Context, cred Credential, key DeviceKey, changes Changes) error
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

// Adapters dispatches by vendor. It is closed over the Vendor variant.
type Adapters map[Vendor]Adapter

func NewAdapters(list ...Adapter) (Adapters, error) {
	out := make(Adapters, len(list))
	for _, adapter := range list {
		if adapter == nil {
			continue
		}
		vendor := adapter.Vendor()
		if _, err := ParseVendor(string(vendor)); err != nil {
			return nil, err
		}
		if _, dup := out[vendor]; dup {
			return nil, Errorf(KindConfig, "adapters", "duplicate adapter for %s", vendor)
		}
		out[vendor] = adapter
	}
	return out, nil
}

func (a Adapters) For(vendor Vendor) (Adapter, error) {
	adapter, ok := a[vendor]
	if !ok {
		return nil, Errorf(KindConfig, "adapters", "no adapter configured for %s", vendor)
	}
	return adapter, nil
}
