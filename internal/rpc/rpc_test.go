package rpc

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	name   string
	fail   bool
	mu     sync.Mutex
	got    []Notification
	closed bool
}

func (p *fakePeer) Notify(n Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broken pipe")
	}
	p.got = append(p.got, n)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) Name() string { return p.name }

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	good := &fakePeer{name: "good"}
	bad := &fakePeer{name: "bad", fail: true}
	hub.Register(good)
	hub.Register(bad)
	assert.Equal(t, 2, hub.Count())

	require.NoError(t, hub.Broadcast(NotificationStateChanged, map[string]string{"activeId": "chat-1"}))

	require.Len(t, good.got, 1)
	assert.Equal(t, Version, good.got[0].JSONRPC)
	assert.Equal(t, NotificationStateChanged, good.got[0].Method)
	assert.JSONEq(t, `{"activeId":"chat-1"}`, string(good.got[0].Params))

	assert.True(t, bad.closed)
	_, ok := hub.Get("bad")
	assert.False(t, ok)
	assert.Equal(t, 1, hub.Count())
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil)
	a := &fakePeer{name: "a"}
	hub.Register(a)
	hub.Unregister("missing")

	require.NoError(t, hub.Close())
	assert.True(t, a.closed)
	assert.Equal(t, 0, hub.Count())
	assert.Empty(t, hub.All())
}

func TestResponseEncoding(t *testing.T) {
	resp, err := NewResponse(7, StoppedResult{Stopped: true})
	require.NoError(t, err)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":{"stopped":true}}`, string(data))

	data, err = json.Marshal(NewErrorResponse(8, CodeMethodNotFound, "method not found: x"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":8,"error":{"code":-32601,"message":"method not found: x"}}`, string(data))

	var rpcErr error = &Error{Code: CodeBusy, Message: "busy"}
	assert.EqualError(t, rpcErr, "RPC error -32005: busy")
}
