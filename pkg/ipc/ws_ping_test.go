package ipc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakePinger struct {
	pings atomic.Int32
	err   error
}

func (p *fakePinger) Ping(context.Context) error {
	p.pings.Add(1)
	return p.err
}

func TestKeepAliveNilConn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	keepAlive(ctx, nil, time.Millisecond, nil)
}

func TestKeepAlivePingsUntilCancelled(t *testing.T) {
	p := &fakePinger{}
	ctx, cancel := context.WithCancel(context.Background())
	keepAlive(ctx, p, 5*time.Millisecond, nil)

	waitFor(t, func() bool { return p.pings.Load() >= 2 })
	cancel()
}

func TestKeepAliveReportsDeadConnection(t *testing.T) {
	p := &fakePinger{err: errors.New("gone")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dead := make(chan error, 1)
	keepAlive(ctx, p, 5*time.Millisecond, func(err error) { dead <- err })

	select {
	case err := <-dead:
		if err == nil || err.Error() != "gone" {
			t.Fatalf("onDead err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("onDead not called")
	}
}

func TestWSPingConstants(t *testing.T) {
	if wsPingTimeout >= wsPingInterval {
		t.Errorf("wsPingTimeout (%v) should be less than wsPingInterval (%v)", wsPingTimeout, wsPingInterval)
	}
}
