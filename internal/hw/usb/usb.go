package usb

import (
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/DeskGo/internal/debug"
	"github.com/google/gousb"
)

// Transport performs synchronous control transfers on one claimed device.
// This allows plugging in the real USB device or the simulator for
// development on a PC.
type Transport interface {
	// Control issues one control transfer. For device-to-host requests data
	// is filled with the response; the number of bytes transferred is returned.
	Control(requestType, request uint8, value, index uint16, data []byte) (int, error)
	Close() error
}

// Config selects the device to open.
type Config struct {
	VendorID  uint16
	ProductID uint16
	Timeout   time.Duration // per control transfer
	Mock      bool
	Simulator SimulatorConfig
}

// ErrDeviceNotFound is returned when no device matches the vendor and product id.
var ErrDeviceNotFound = errors.New("usb device not found")

// NewTransport creates a transport based on the chosen mode.
// If cfg.Mock is true, returns a Simulator (for dev/test).
// If cfg.Mock is false, claims the first matching USB device.
func NewTransport(cfg Config) (Transport, error) {
	if cfg.Mock {
		debug.Info("Using simulated desk (development mode)")
		return NewSimulator(cfg.Simulator), nil
	}
	return OpenDevice(cfg)
}

// Device is the real implementation on top of gousb.
type Device struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	done func() // releases the claimed interface and config
}

// OpenDevice opens the first device matching cfg.VendorID/ProductID and
// claims interface 0 of its first configuration.
func OpenDevice(cfg Config) (*Device, error) {
	debug.Verbose("Opening USB device %04x:%04x", cfg.VendorID, cfg.ProductID)

	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(cfg.VendorID), gousb.ID(cfg.ProductID))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("open device %04x:%04x: %w", cfg.VendorID, cfg.ProductID, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w (VID=0x%04X PID=0x%04X)", ErrDeviceNotFound, cfg.VendorID, cfg.ProductID)
	}

	// The box enumerates as a HID device; the kernel driver must let go of it.
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("enable auto detach: %w", err)
	}
	if cfg.Timeout > 0 {
		dev.ControlTimeout = cfg.Timeout
	}

	_, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim interface 0: %w", err)
	}

	debug.Verbose("USB device claimed")
	return &Device{ctx: ctx, dev: dev, done: done}, nil
}

// Control issues one control transfer with the device's ControlTimeout.
func (d *Device) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	n, err := d.dev.Control(requestType, request, value, index, data)
	debug.Transfer(direction(requestType), requestType, request, value, n, data)
	return n, err
}

// Close releases the interface, the device and the libusb context, in that order.
func (d *Device) Close() error {
	debug.Trace("USB Close (real device)")
	if d.done != nil {
		d.done()
		d.done = nil
	}
	var errs []error
	if d.dev != nil {
		errs = append(errs, d.dev.Close())
		d.dev = nil
	}
	if d.ctx != nil {
		errs = append(errs, d.ctx.Close())
		d.ctx = nil
	}
	return errors.Join(errs...)
}

func direction(requestType uint8) string {
	if requestType&0x80 != 0 {
		return "in"
	}
	return "out"
}
