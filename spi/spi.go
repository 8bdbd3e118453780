// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package spi declares the hardware collaborators the enc28j60 driver needs:
// a SPI bus, a chip-select pin, and a monotonic clock. These are interfaces
// rather than concrete register drivers (contrast soc/nxp/gpio, which talks
// directly to memory-mapped GPIO registers) because the ENC28J60 is an
// external SPI peripheral with no memory bus of its own; the board wiring
// that implements them is expected to live alongside the caller's board
// package, the way board/usbarmory wires concrete SoC peripherals.
//
// Driving these interfaces against spi/spitest, rather than real hardware,
// is what makes the rest of this module runnable as ordinary host tests.
package spi

import (
	"context"
	"time"
)

// Bus performs a full-duplex SPI transaction: len(tx) bytes are clocked out
// while len(tx) bytes are clocked in, returned in a buffer the same length
// as tx. Implementations must not retain tx or the returned buffer.
type Bus interface {
	Transceive(ctx context.Context, tx []byte) (rx []byte, err error)
}

// Pin is a single GPIO output, used by the driver as the ENC28J60 chip
// select: asserted (driven low) for the duration of one SPI transaction.
type Pin interface {
	// Assert drives the pin active (chip selected).
	Assert()
	// Deassert drives the pin inactive (chip deselected).
	Deassert()
}

// Clock provides the delays the ENC28J60 initialization and errata
// workarounds require (oscillator startup, PHY register polling, the
// Rev.B4 TX reset settle time).
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}
