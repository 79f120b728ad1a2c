package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymatic-backend/internal/apperr"
	"keymatic-backend/internal/model"
)

func TestDispatch_SendsSignedQuery(t *testing.T) {
	var gotCmd, gotSig, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCmd = r.URL.Query().Get("cmd")
		gotSig = r.URL.Query().Get("sig")
		gotPath = r.URL.Path
		w.Write([]byte("Relay activated"))
	}))
	defer server.Close()

	d := New(StaticResolver{"111": server.URL + "/cmd"}, time.Second)
	reply, err := d.Dispatch(context.Background(), "111", "ESP:RELAY3:ON|ts=1760781600", "a+b/c==")
	require.NoError(t, err)

	assert.Equal(t, "/cmd", gotPath)
	assert.Equal(t, "ESP:RELAY3:ON|ts=1760781600", gotCmd)
	assert.Equal(t, "a+b/c==", gotSig)
	assert.Equal(t, http.StatusOK, reply.Status)
	assert.Equal(t, "Relay activated", string(reply.Body))
}

func TestDispatch_UnmappedMachine(t *testing.T) {
	d := New(StaticResolver{}, time.Second)
	_, err := d.Dispatch(context.Background(), "999", "PI:DOOR:OPEN|ts=1", "sig")
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))
}

func TestDispatch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	d := New(StaticResolver{"111": server.URL}, 50*time.Millisecond)
	start := time.Now()
	_, err := d.Dispatch(context.Background(), "111", "PI:DOOR:OPEN|ts=1", "sig")
	assert.True(t, errors.Is(err, apperr.ErrTransportTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatch_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	d := New(StaticResolver{"111": url}, time.Second)
	_, err := d.Dispatch(context.Background(), "111", "PI:DOOR:OPEN|ts=1", "sig")
	assert.True(t, errors.Is(err, apperr.ErrTransportTimeout))
}

func TestDispatch_DeviceRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"bad signature"}`))
	}))
	defer server.Close()

	d := New(StaticResolver{"111": server.URL}, time.Second)
	_, err := d.Dispatch(context.Background(), "111", "PI:DOOR:OPEN|ts=1", "sig")

	var rej *apperr.RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, http.StatusForbidden, rej.Status)
	assert.Equal(t, `{"error":"bad signature"}`, rej.Detail)
	assert.True(t, errors.Is(err, apperr.ErrDeviceRejection))
}

type fakeMachines map[string]*model.Machine

func (f fakeMachines) GetMachine(_ context.Context, id string) (*model.Machine, error) {
	if m, ok := f[id]; ok {
		return m, nil
	}
	return nil, apperr.ErrNotFound
}

func TestChainResolver(t *testing.T) {
	chain := ChainResolver{
		StaticResolver{"111": "http://static"},
		StoreResolver{Machines: fakeMachines{
			"222": {ID: "222", BaseURL: "http://db"},
			"333": {ID: "333"},
		}},
	}
	ctx := context.Background()

	base, err := chain.Resolve(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "http://static", base)

	base, err = chain.Resolve(ctx, "222")
	require.NoError(t, err)
	assert.Equal(t, "http://db", base)

	_, err = chain.Resolve(ctx, "333")
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))

	_, err = chain.Resolve(ctx, "444")
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))
}
