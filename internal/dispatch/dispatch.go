package dispatch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/parse"
)

const maxReplyBytes = 64 << 10

// Reply is the raw answer of a machine.
type Reply struct {
	MachineID string
	Status    int
	Body      []byte
}

// Dispatcher sends signed commands to machines. Every call is a single
// attempt bounded by the configured timeout; retrying is up to the caller.
type Dispatcher struct {
	resolver Resolver
	client   *http.Client
	timeout  time.Duration
}

// New creates a Dispatcher.
func New(resolver Resolver, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		client:   &http.Client{},
		timeout:  timeout,
	}
}

// Dispatch sends GET <base>?cmd=<cmd>&sig=<sig>.
//
// Errors: apperr.ErrConfiguration when the machine is unmapped,
// apperr.ErrTransportTimeout when the machine cannot be reached in time,
// *apperr.RejectionError when it answers with a 4xx/5xx status.
func (d *Dispatcher) Dispatch(ctx context.Context, machineID, cmd, sig string) (*Reply, error) {
	base, err := d.resolver.Resolve(ctx, machineID)
	if err != nil {
		return nil, err
	}

	target, err := url.Parse(base)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, apperr.Configuration("machine %q has invalid base url %q", machineID, base)
	}
	q := target.Query()
	q.Set("cmd", cmd)
	q.Set("sig", sig)
	target.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		log.Printf("Machine %s unreachable: %v", machineID, err)
		return nil, fmt.Errorf("%w: machine %s: %v", apperr.ErrTransportTimeout, machineID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: machine %s: reading reply: %v", apperr.ErrTransportTimeout, machineID, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &apperr.RejectionError{Status: resp.StatusCode, Detail: parse.Text(body)}
	}

	return &Reply{MachineID: machineID, Status: resp.StatusCode, Body: body}, nil
}
