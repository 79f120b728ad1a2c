package dispatch

import (
	"context"
	"errors"
	"strings"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/model"
)

// Resolver maps a logical machine id to the machine's base URL.
type Resolver interface {
	Resolve(ctx context.Context, machineID string) (string, error)
}

// StaticResolver resolves from the machines section of the config file.
type StaticResolver map[string]string

func (r StaticResolver) Resolve(_ context.Context, machineID string) (string, error) {
	base := strings.TrimSpace(r[machineID])
	if base == "" {
		return "", apperr.Configuration("machine %q is not mapped", machineID)
	}
	return base, nil
}

// MachineGetter is the subset of the store StoreResolver needs.
type MachineGetter interface {
	GetMachine(ctx context.Context, id string) (*model.Machine, error)
}

// StoreResolver resolves from machines.base_url.
type StoreResolver struct {
	Machines MachineGetter
}

func (r StoreResolver) Resolve(ctx context.Context, machineID string) (string, error) {
	m, err := r.Machines.GetMachine(ctx, machineID)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", apperr.Configuration("machine %q is not registered", machineID)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(m.BaseURL) == "" {
		return "", apperr.Configuration("machine %q has no base url", machineID)
	}
	return m.BaseURL, nil
}

// ChainResolver returns the first successful resolution. Configuration
// errors fall through to the next resolver; anything else stops the chain.
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context, machineID string) (string, error) {
	var lastErr error = apperr.Configuration("machine %q is not mapped", machineID)
	for _, r := range c {
		base, err := r.Resolve(ctx, machineID)
		if err == nil {
			return base, nil
		}
		if !errors.Is(err, apperr.ErrConfiguration) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}
