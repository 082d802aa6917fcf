package flash

import (
	"context"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/hw/gpio"
)

// Lamp is a continuous light that is switched on around each shot.
type Lamp interface {
	On() error
	Off() error
}

// GPIOLamp drives a lamp relay wired to one GPIO pin.
//
// Relay boards sold for the Pi are usually active LOW: pulling the input
// LOW closes the relay. With activeLow the idle level is therefore HIGH.
type GPIOLamp struct {
	gpio      gpio.Driver
	pin       int
	activeLow bool
}

// NewGPIOLamp configures pin as an output and leaves the lamp off.
func NewGPIOLamp(g gpio.Driver, pin int, activeLow bool) *GPIOLamp {
	l := &GPIOLamp{gpio: g, pin: pin, activeLow: activeLow}
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, l.level(false))
	return l
}

func (l *GPIOLamp) level(on bool) gpio.Level {
	if l.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

// On lights the lamp.
func (l *GPIOLamp) On() error {
	debug.Verbose("Flash: ON (pin %d -> %v)", l.pin, l.level(true))
	return l.gpio.WritePin(l.pin, l.level(true))
}

// Off turns the lamp off.
func (l *GPIOLamp) Off() error {
	debug.Verbose("Flash: OFF (pin %d -> %v)", l.pin, l.level(false))
	return l.gpio.WritePin(l.pin, l.level(false))
}

// Camera wraps a camera service and lights the lamp for each capture:
// lamp ON, wait preFire so auto-exposure settles, shutter, lamp OFF.
// Lamp failures are logged and do not fail the capture.
type Camera struct {
	camera.Service
	lamp    Lamp
	preFire time.Duration
}

// Wrap returns svc with the lamp fired around every Capture.
func Wrap(svc camera.Service, lamp Lamp, preFire time.Duration) *Camera {
	return &Camera{Service: svc, lamp: lamp, preFire: preFire}
}

// Capture fires the lamp, then the shutter.
func (c *Camera) Capture(ctx context.Context, sessionID string) error {
	if err := c.lamp.On(); err != nil {
		debug.Error(err)
	}
	defer func() {
		if err := c.lamp.Off(); err != nil {
			debug.Error(err)
		}
	}()

	if c.preFire > 0 {
		t := time.NewTimer(c.preFire)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return c.Service.Capture(ctx, sessionID)
}
