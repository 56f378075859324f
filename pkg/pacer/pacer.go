// Package pacer implements the Transfer Pacer (per-page block emission
// timing and retry budget) and the Concurrency/Activity Gate. Grounded on
// pkg/infer/async.go's AsyncSession worker-pool loop.
package pacer

import (
	"time"

	"github.com/anthropics/purple-otau/pkg/client"
)

// Timing constants from spec.md §4.5/§6.
const (
	TickInterval           = 10 * time.Millisecond
	MinResponseSpacing     = 20 * time.Millisecond
	MaxResponseSpacing     = 500 * time.Millisecond
	WaitNextRequestTimeout = 60 * time.Second
	MaxImgPageReqRetry     = 5
	MaxImgBlockRspRetry    = 5
)

// PageDriver is implemented by the Protocol Engine; the Pacer calls back
// into it rather than owning APS framing itself, the same separation the
// teacher draws between pkg/infer's worker loop and the caller-supplied
// callback it invokes per request.
type PageDriver interface {
	// EmitPageBlock attempts one block response for c's current cursor
	// position. It returns false if sending failed (the pacer then
	// applies the retry/give-up policy itself).
	EmitPageBlock(c *client.Client, now client.Mono) (sent bool)
	// SendImageNotify nudges a dormant WaitNextRequest client.
	SendImageNotify(c *client.Client, now client.Mono)
	// GiveUp drops a client back to Idle after the retry budget is spent.
	GiveUp(c *client.Client)
}

// Pacer drives page transfers and WaitNextRequest timeouts for every
// client in the registry, once per tick.
type Pacer struct {
	Registry *client.Registry
	Driver   PageDriver
	Clock    MonotonicClock
}

// NewPacer wires a Pacer against a registry and its driver.
func NewPacer(reg *client.Registry, driver PageDriver) *Pacer {
	return &Pacer{Registry: reg, Driver: driver}
}

// Tick runs one pass over every known client. Call this every
// TickInterval from a single goroutine (the Engine's event loop), never
// concurrently with itself.
func (p *Pacer) Tick() {
	now := p.Clock.Now()
	for _, c := range p.Registry.All() {
		switch c.State {
		case client.WaitPageSpacing:
			p.tickPageSpacing(c, now)
		case client.WaitNextRequest:
			p.tickWaitNextRequest(c, now)
		}
	}
}

func (p *Pacer) tickPageSpacing(c *client.Client, now client.Mono) {
	if c.Pending.RequestID != client.NoRequest {
		// Outstanding APS request: the pacer is barred from firing again
		// until the confirm arrives (spec.md §5's FIFO/barrier guarantee).
		return
	}
	if c.Cursor.PageBytesDone >= uint32(c.Cursor.PageSize) {
		c.State = client.WaitNextRequest
		c.LastActivity = now
		return
	}
	spacing := time.Duration(c.Cursor.ResponseSpacing) * time.Millisecond
	if now-c.LastResponseAt < spacing {
		return
	}
	if sent := p.Driver.EmitPageBlock(c, now); !sent {
		c.BlockRetry++
		if c.BlockRetry >= MaxImgBlockRspRetry {
			p.Driver.GiveUp(c)
		}
		return
	}
	c.LastResponseAt = now
}

func (p *Pacer) tickWaitNextRequest(c *client.Client, now client.Mono) {
	if now-c.LastActivity < WaitNextRequestTimeout {
		return
	}
	c.PageRetry++
	if c.PageRetry > MaxImgPageReqRetry {
		p.Driver.GiveUp(c)
		return
	}
	p.Driver.SendImageNotify(c, now)
	c.LastActivity = now
}
