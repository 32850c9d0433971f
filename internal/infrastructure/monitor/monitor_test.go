package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p *pinger) Ping(context.Context) error { return p.err }

func TestMonitorRefresh(t *testing.T) {
	redis := &pinger{}
	ledger := &pinger{err: errors.New("connection refused")}

	mon := New([]Probe{PingProbe("ledger", ledger), PingProbe("redis", redis), {Name: "skipped"}}, 0, nil)
	assert.False(t, mon.IsOnline(), "no check has run yet")

	mon.Refresh()
	status := mon.GetStatus()
	assert.False(t, mon.IsOnline())
	assert.Equal(t, map[string]bool{"ledger": false, "redis": true}, status.Components)
	assert.Equal(t, "connection refused", status.Errors["ledger"])

	ledger.err = nil
	mon.Refresh()
	assert.True(t, mon.IsOnline())
	assert.Empty(t, mon.GetStatus().Errors)

	mon.Stop()
	mon.Stop()
}
