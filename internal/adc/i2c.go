package adc

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Registers describes the converter's register map.
type Registers struct {
	Trigger  byte // written with Start to begin a conversion
	Data     byte // MSB of the result, two's complement
	Status   byte // Busy bit set while converting
	Start    byte
	BusyMask byte
}

// DefaultRegisters matches the data-acquisition board layout: trigger at
// offset 0, MSB at 1, status at 3, busy in bit 7.
var DefaultRegisters = Registers{
	Trigger:  0x00,
	Data:     0x01,
	Status:   0x03,
	Start:    0x80,
	BusyMask: 0x80,
}

// I2CConverter talks to a converter behind an I2C register interface.
type I2CConverter struct {
	bus  i2c.BusCloser
	dev  *i2c.Dev
	regs Registers
}

// OpenI2C opens busName (e.g. "/dev/i2c-1" or "1") and addresses the
// converter at addr.
func OpenI2C(busName string, addr uint16, regs Registers) (*I2CConverter, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	return &I2CConverter{
		bus:  bus,
		dev:  &i2c.Dev{Addr: addr, Bus: bus},
		regs: regs,
	}, nil
}

// Trigger writes the start value to the trigger register.
func (c *I2CConverter) Trigger() error {
	return c.dev.Tx([]byte{c.regs.Trigger, c.regs.Start}, nil)
}

// Done reads the status register and checks the busy bit.
func (c *I2CConverter) Done() (bool, error) {
	r := make([]byte, 1)
	if err := c.dev.Tx([]byte{c.regs.Status}, r); err != nil {
		return false, err
	}
	return r[0]&c.regs.BusyMask == 0, nil
}

// Read returns the signed MSB of the result.
func (c *I2CConverter) Read() (int8, error) {
	r := make([]byte, 1)
	if err := c.dev.Tx([]byte{c.regs.Data}, r); err != nil {
		return 0, err
	}
	return int8(r[0]), nil
}

// Close releases the I2C bus.
func (c *I2CConverter) Close() error {
	return c.bus.Close()
}
