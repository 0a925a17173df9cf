// Package sdspi drives SD cards in SPI mode. It handles the initialization
// handshake, single and multi block transfers, erase and the CSD/CID registers.
//
// The hardware is abstracted by Bus and Pin, so the driver works with any SPI
// implementation, including the simulator used in the tests.
package sdspi

// Speed selects the SCK rate. The bus is clocked at F_CPU/2^(1+Speed) on
// most microcontrollers.
type Speed uint8

const (
	// FullSpeed is the maximum rate of F_CPU/2.
	FullSpeed Speed = 0
	// Div3Speed is F_CPU/3 where supported.
	Div3Speed Speed = 1
	// HalfSpeed is F_CPU/4.
	HalfSpeed Speed = 2
	// Div6Speed is F_CPU/6 where supported.
	Div6Speed Speed = 3
	// QuarterSpeed is F_CPU/8.
	QuarterSpeed Speed = 4
	// EighthSpeed is F_CPU/16.
	EighthSpeed Speed = 6
	// SixteenthSpeed is F_CPU/32.
	SixteenthSpeed Speed = 8

	// MaxSpeedID is the highest valid Speed value.
	MaxSpeedID Speed = 14

	// InitSpeed is used during the initialization as cards are limited to 400 kHz there.
	InitSpeed = SixteenthSpeed
)

// Bus is a full duplex SPI bus.
type Bus interface {
	// Transfer sends b and returns the byte received at the same time.
	Transfer(b byte) (byte, error)
	// Tx sends w and receives into r. If w is nil, 0xFF is sent for every
	// byte of r. If r is nil, the received bytes are dropped.
	Tx(w, r []byte) error
	// SetSpeed changes the clock rate.
	SetSpeed(speed Speed) error
}

// Pin is the chip select line of the card. It is active low.
type Pin interface {
	High()
	Low()
}
