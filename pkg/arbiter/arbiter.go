// Package arbiter hands one shared converter bus between channels that sit
// at different addresses. At most one channel holds the bus at a time and
// the holder is the only one that can read through it.
package arbiter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ericogr/water-monitor/pkg/hal"
)

var (
	ErrDeviceNotHeld     = errors.New("arbiter: device not held")
	ErrOwnershipConflict = errors.New("arbiter: device already held")
	ErrUnknownChannel    = errors.New("arbiter: unknown channel")
)

// ChannelID names the consumer of a converter, e.g. "ph".
type ChannelID string

// None is the holder of a free bus.
const None ChannelID = ""

// Arbiter tracks which channel currently owns the bus.
type Arbiter struct {
	mu     sync.Mutex
	bus    hal.SharedBus
	addrs  map[ChannelID]uint16
	holder ChannelID
	epoch  uint64
}

func New(bus hal.SharedBus) *Arbiter {
	return &Arbiter{bus: bus, addrs: map[ChannelID]uint16{}}
}

// Register binds a channel to the converter at addr and returns its client.
func (a *Arbiter) Register(id ChannelID, addr uint16) *Client {
	a.mu.Lock()
	a.addrs[id] = addr
	a.mu.Unlock()
	return &Client{arb: a, id: id}
}

// Holder returns the channel owning the bus, or None.
func (a *Arbiter) Holder() ChannelID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder
}

// Acquire takes the bus for id. It fails while anyone holds it, including id
// itself; the previous holder must Release first.
func (a *Arbiter) Acquire(id ChannelID) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder != None {
		return nil, fmt.Errorf("%w: held by %q", ErrOwnershipConflict, a.holder)
	}
	addr, ok := a.addrs[id]
	if !ok || id == None {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, id)
	}
	a.holder = id
	a.epoch++
	return &Handle{
		arb:   a,
		id:    id,
		epoch: a.epoch,
		conv:  a.bus.Converter(addr),
	}, nil
}

func (a *Arbiter) valid(h *Handle) bool {
	return h != nil && a.holder == h.id && a.epoch == h.epoch
}

// Handle is the proof of ownership. It stops working once released, and
// reading through a released handle returns ErrDeviceNotHeld.
type Handle struct {
	arb   *Arbiter
	id    ChannelID
	epoch uint64
	conv  hal.AnalogConverter
}

// Channel returns the owner of the handle.
func (h *Handle) Channel() ChannelID { return h.id }

// Read performs a conversion on the owned converter.
func (h *Handle) Read(in hal.Input) (int16, error) {
	if h == nil {
		return 0, ErrDeviceNotHeld
	}
	h.arb.mu.Lock()
	defer h.arb.mu.Unlock()
	if !h.arb.valid(h) {
		return 0, ErrDeviceNotHeld
	}
	return h.conv.Read(in)
}

// Release hands the bus back. Releasing twice returns ErrDeviceNotHeld.
func (h *Handle) Release() error {
	if h == nil {
		return ErrDeviceNotHeld
	}
	h.arb.mu.Lock()
	defer h.arb.mu.Unlock()
	if !h.arb.valid(h) {
		return ErrDeviceNotHeld
	}
	h.arb.holder = None
	return nil
}

// Client is a channel's view of the arbiter; it keeps the handle between
// Take and Give.
type Client struct {
	arb *Arbiter
	id  ChannelID
	h   *Handle
}

func (c *Client) ID() ChannelID { return c.id }

// Held reports whether the client currently owns the bus.
func (c *Client) Held() bool {
	if c.h == nil {
		return false
	}
	c.arb.mu.Lock()
	defer c.arb.mu.Unlock()
	return c.arb.valid(c.h)
}

// Take acquires the bus. It is a no-op when the client already holds it.
func (c *Client) Take() error {
	if c.Held() {
		return nil
	}
	h, err := c.arb.Acquire(c.id)
	if err != nil {
		return err
	}
	c.h = h
	return nil
}

// Give releases the bus. Giving a bus the client does not hold returns
// ErrDeviceNotHeld.
func (c *Client) Give() error {
	h := c.h
	c.h = nil
	if h == nil {
		return ErrDeviceNotHeld
	}
	return h.Release()
}

// Converter returns the owned converter, or ErrDeviceNotHeld.
func (c *Client) Converter() (hal.AnalogConverter, error) {
	if !c.Held() {
		return nil, ErrDeviceNotHeld
	}
	return c.h, nil
}

// Read converts through the owned converter.
func (c *Client) Read(in hal.Input) (int16, error) {
	if c.h == nil {
		return 0, ErrDeviceNotHeld
	}
	return c.h.Read(in)
}

// Transfer moves ownership from one client to another. The source must hold
// the bus.
func Transfer(from, to *Client) error {
	if from == to {
		if from.Held() {
			return nil
		}
		return ErrDeviceNotHeld
	}
	if err := from.Give(); err != nil {
		return err
	}
	return to.Take()
}
