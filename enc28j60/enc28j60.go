// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package enc28j60 drives a Microchip ENC28J60 SPI Ethernet MAC+PHY: bank
// switching, PHY register access, the split RX/TX SRAM ring, the hardware
// receive filter, and the Rev.B4 transmit and odd-pointer receive errata
// workarounds.
//
// It is the lowest layer of the stack: everything above it deals in
// Ethernet frames, never in SPI opcodes or chip registers.
package enc28j60

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mpaysen/enc28j60-netstack/ethernet"
	"github.com/mpaysen/enc28j60-netstack/internal/bitfield"
	"github.com/mpaysen/enc28j60-netstack/netlog"
	"github.com/mpaysen/enc28j60-netstack/spi"
)

// Memory map. The RX ring occupies 0x0000-0x0BFF of the chip's 8KB SRAM
// and the TX buffer 0x0C00-0x11FF; the RX ring is programmed at Init time,
// the TX start and end on every send.
const (
	rxStart = 0x0000
	rxStop  = 0x0BFF
	txStart = 0x0C00
	txStop  = 0x11FF

	// MaxFrameLen bounds the frames this driver handles: SendFrame rejects
	// longer frames and Receive returns at most MaxFrameLen-1 bytes. The
	// MAC's maximum frame length register is programmed with
	// MaxFrameLen+18.
	MaxFrameLen = 1500
)

const (
	resetSettle   = 1 * time.Millisecond
	clkReadyPoll  = 100 * time.Microsecond
	txResetSettle = 10 * time.Microsecond
)

var errTXFailed = errors.New("enc28j60: transmit errata retry exhausted")

// Driver is a single ENC28J60 instance attached over SPI.
type Driver struct {
	bus   spi.Bus
	cs    spi.Pin
	clock spi.Clock
	mac   ethernet.Addr

	sem       *semaphore.Weighted
	bank      uint8
	rxReadPtr uint16
	log       netlog.Logger
}

// New returns a Driver for the ENC28J60 reachable over bus, selected via
// cs, using clock for the delays Init and the PHY/errata routines need.
// mac is the station address programmed into the chip during Init.
func New(bus spi.Bus, cs spi.Pin, clock spi.Clock, mac ethernet.Addr) *Driver {
	return &Driver{
		bus:   bus,
		cs:    cs,
		clock: clock,
		mac:   mac,
		sem:   semaphore.NewWeighted(1),
		log:   netlog.Default,
	}
}

// SetLogger overrides the driver's logger (netlog.Default otherwise).
func (d *Driver) SetLogger(l netlog.Logger) {
	d.log = l
}

// transceive serializes one SPI transaction through the chip-select pin,
// holding the bus semaphore for the duration so a concurrent Send and
// Receive (or Poll iteration) never interleave transactions.
func (d *Driver) transceive(ctx context.Context, tx []byte) ([]byte, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)

	d.cs.Assert()
	defer d.cs.Deassert()

	return d.bus.Transceive(ctx, tx)
}

func (d *Driver) softReset(ctx context.Context) error {
	_, err := d.transceive(ctx, []byte{opSoftReset})
	if err != nil {
		return err
	}
	d.bank = 0
	return d.clock.Sleep(ctx, resetSettle)
}

// setBank switches the currently selected register bank if r belongs to a
// different one, via bit-field clear/set on ECON1.BSEL1:0. Bank-
// independent ETH registers (r.common) never require a switch.
func (d *Driver) setBank(ctx context.Context, r reg) error {
	if r.common || r.bank == d.bank {
		return nil
	}

	if err := d.rawBitFieldClear(ctx, regECON1, econ1BSEL0|econ1BSEL1); err != nil {
		return err
	}
	if err := d.rawBitFieldSet(ctx, regECON1, r.bank&(econ1BSEL0|econ1BSEL1)); err != nil {
		return err
	}

	d.bank = r.bank
	return nil
}

func (d *Driver) readReg8(ctx context.Context, r reg) (byte, error) {
	if err := d.setBank(ctx, r); err != nil {
		return 0, err
	}

	n := 2
	if r.needDummy {
		n = 3
	}

	tx := make([]byte, n)
	tx[0] = opReadCtrlReg | r.addr&addrMask

	rx, err := d.transceive(ctx, tx)
	if err != nil {
		return 0, err
	}

	return rx[n-1], nil
}

func (d *Driver) writeReg8(ctx context.Context, r reg, value byte) error {
	if err := d.setBank(ctx, r); err != nil {
		return err
	}
	_, err := d.transceive(ctx, []byte{opWriteCtrlReg | r.addr&addrMask, value})
	return err
}

func (d *Driver) writeReg16(ctx context.Context, lo, hi reg, value uint16) error {
	if err := d.writeReg8(ctx, lo, byte(value)); err != nil {
		return err
	}
	return d.writeReg8(ctx, hi, byte(value>>8))
}

func (d *Driver) bitFieldSet(ctx context.Context, r reg, mask byte) error {
	if err := d.setBank(ctx, r); err != nil {
		return err
	}
	return d.rawBitFieldSet(ctx, r, mask)
}

func (d *Driver) bitFieldClear(ctx context.Context, r reg, mask byte) error {
	if err := d.setBank(ctx, r); err != nil {
		return err
	}
	return d.rawBitFieldClear(ctx, r, mask)
}

// rawBitFieldSet/Clear skip the bank switch, since setBank itself uses
// them on ECON1 (which is bank-independent and would otherwise recurse).
func (d *Driver) rawBitFieldSet(ctx context.Context, r reg, mask byte) error {
	_, err := d.transceive(ctx, []byte{opBitFieldSet | r.addr&addrMask, mask})
	return err
}

func (d *Driver) rawBitFieldClear(ctx context.Context, r reg, mask byte) error {
	_, err := d.transceive(ctx, []byte{opBitFieldClr | r.addr&addrMask, mask})
	return err
}

func (d *Driver) readBuffer(ctx context.Context, n int) ([]byte, error) {
	tx := make([]byte, n+1)
	tx[0] = opReadBufMem

	rx, err := d.transceive(ctx, tx)
	if err != nil {
		return nil, err
	}

	return rx[1:], nil
}

func (d *Driver) writeBuffer(ctx context.Context, data []byte) error {
	tx := make([]byte, len(data)+1)
	tx[0] = opWriteBufMem
	copy(tx[1:], data)

	_, err := d.transceive(ctx, tx)
	return err
}

// Init resets the chip, waits for the oscillator to stabilize, programs
// the RX ring boundaries, the hardware receive filter, the station
// address, full-duplex PHY/MAC settings, and enables reception.
func (d *Driver) Init(ctx context.Context) error {
	if err := d.softReset(ctx); err != nil {
		return err
	}

	if err := d.waitClockReady(ctx); err != nil {
		return err
	}

	if err := d.writeReg16(ctx, regERXSTL, regERXSTH, rxStart); err != nil {
		return err
	}
	if err := d.writeReg16(ctx, regERXNDL, regERXNDH, rxStop); err != nil {
		return err
	}
	if err := d.writeReg16(ctx, regERDPTL, regERDPTH, rxStart); err != nil {
		return err
	}
	if err := d.writeReg16(ctx, regERXRDPTL, regERXRDPTH, rxStop); err != nil {
		return err
	}
	d.rxReadPtr = rxStart

	if err := d.writeReg8(ctx, regERXFCON, erxfconUCEN|erxfconCRCEN|erxfconBCEN); err != nil {
		return err
	}

	if err := d.writeReg8(ctx, regMACON1, macon1MARXEN|macon1TXPAUS|macon1RXPAUS); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMACON3, macon3FRMLNEN|macon3TXCRCEN|macon3PADCFG0|macon3FULDPX); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMABBIPG, 0x15); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMAIPGL, 0x12); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMAIPGH, 0x0C); err != nil {
		return err
	}
	if err := d.writeReg16(ctx, regMAMXFLL, regMAMXFLH, MaxFrameLen+18); err != nil {
		return err
	}

	if err := d.writeReg8(ctx, regMAADR1, d.mac[0]); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMAADR2, d.mac[1]); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMAADR3, d.mac[2]); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMAADR4, d.mac[3]); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMAADR5, d.mac[4]); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMAADR6, d.mac[5]); err != nil {
		return err
	}

	if err := d.writePHY(ctx, phyLCON, phlconLED); err != nil {
		return err
	}
	if err := d.writePHY(ctx, phyCON2, phcon2HDLDIS); err != nil {
		return err
	}

	if err := d.bitFieldSet(ctx, regECON1, econ1RXEN); err != nil {
		return err
	}

	if err := d.bitFieldSet(ctx, regEIE, eieINTIE|eiePKTIE); err != nil {
		return err
	}

	return d.bitFieldClear(ctx, regEIR, eirPKTIF)
}

func (d *Driver) waitClockReady(ctx context.Context) error {
	for {
		status, err := d.readReg8(ctx, regESTAT)
		if err != nil {
			return err
		}
		if bitfield.Test(status, posCLKRDY) {
			return nil
		}
		if err := d.clock.Sleep(ctx, clkReadyPoll); err != nil {
			return err
		}
	}
}

// Send transmits buf, an already-framed Ethernet frame. It satisfies the
// minimal FrameSender contract every protocol layer above it depends on.
func (d *Driver) Send(buf []byte) error {
	return d.SendFrame(context.Background(), buf)
}

// SendFrame is Send with an explicit context governing the underlying SPI
// transactions; Send calls it with context.Background().
func (d *Driver) SendFrame(ctx context.Context, buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("enc28j60: empty frame")
	}
	if len(buf) > MaxFrameLen {
		return fmt.Errorf("enc28j60: frame too large (%d bytes)", len(buf))
	}

	if err := d.writeReg16(ctx, regEWRPTL, regEWRPTH, txStart); err != nil {
		return err
	}

	// the per-packet control byte (0x00: use MACON3 defaults for
	// padding/CRC) precedes the frame in the TX buffer.
	payload := make([]byte, 1+len(buf))
	payload[0] = 0x00
	copy(payload[1:], buf)

	if err := d.writeBuffer(ctx, payload); err != nil {
		return err
	}

	txEnd := txStart + uint16(len(buf))
	if err := d.writeReg16(ctx, regETXSTL, regETXSTH, txStart); err != nil {
		return err
	}
	if err := d.writeReg16(ctx, regETXNDL, regETXNDH, txEnd); err != nil {
		return err
	}

	return d.transmitAndRecover(ctx)
}

// transmitAndRecover sets TXRTS and waits for completion, applying the
// Rev.B4 errata workaround (reset the TX logic and retry once) if the
// chip reports EIR.TXERIF instead of finishing normally.
func (d *Driver) transmitAndRecover(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		if err := d.bitFieldSet(ctx, regECON1, econ1TXRTS); err != nil {
			return err
		}

		done, erratum, err := d.waitTransmitDone(ctx)
		if err != nil {
			return err
		}
		if done && !erratum {
			return nil
		}

		if err := d.recoverFromTXErrata(ctx); err != nil {
			return err
		}
	}

	return errTXFailed
}

func (d *Driver) waitTransmitDone(ctx context.Context) (done, erratum bool, err error) {
	for {
		econ1, err := d.readReg8(ctx, regECON1)
		if err != nil {
			return false, false, err
		}

		eir, err := d.readReg8(ctx, regEIR)
		if err != nil {
			return false, false, err
		}
		if bitfield.Test(eir, posTXERIF) {
			return false, true, nil
		}
		if !bitfield.Test(econ1, posTXRTS) {
			return true, false, nil
		}

		if err := d.clock.Sleep(ctx, txResetSettle); err != nil {
			return false, false, err
		}
	}
}

func (d *Driver) recoverFromTXErrata(ctx context.Context) error {
	const econ1TXRST = 0x80

	if err := d.bitFieldSet(ctx, regECON1, econ1TXRST); err != nil {
		return err
	}
	if err := d.bitFieldClear(ctx, regECON1, econ1TXRST); err != nil {
		return err
	}
	return d.bitFieldClear(ctx, regEIR, eirTXERIF)
}

// Receive returns the next buffered frame, if any. ok is false when the
// receive ring is currently empty; it is not an error.
func (d *Driver) Receive(ctx context.Context) (buf []byte, ok bool, err error) {
	count, err := d.readReg8(ctx, regEPKTCNT)
	if err != nil {
		return nil, false, err
	}
	if count == 0 {
		return nil, false, nil
	}

	if err := d.writeReg16(ctx, regERDPTL, regERDPTH, d.rxReadPtr); err != nil {
		return nil, false, err
	}

	header, err := d.readBuffer(ctx, 6)
	if err != nil {
		return nil, false, err
	}

	nextPtr := uint16(header[0]) | uint16(header[1])<<8
	length := int(header[2]) | int(header[3])<<8
	received := header[5]&0x80 != 0

	length -= 4 // trailing CRC
	if length < 0 {
		length = 0
	}
	if length > MaxFrameLen-1 {
		length = MaxFrameLen - 1
	}

	frame, err := d.readBuffer(ctx, length)
	if err != nil {
		return nil, false, err
	}

	if err := d.advanceReadPointer(ctx, nextPtr); err != nil {
		return nil, false, err
	}
	if err := d.bitFieldSet(ctx, regECON2, econ2PKTDEC); err != nil {
		return nil, false, err
	}

	if !received {
		d.log.Debugf("enc28j60: dropping frame flagged as received-in-error")
		return nil, false, nil
	}

	return frame, true, nil
}

// advanceReadPointer applies the documented odd-pointer errata: ERXRDPT
// must always hold an odd address, with ERXND substituted at the ring
// boundary rather than underflowing below ERXST. Only the ERXRDPT
// register gets this adjusted value; the software read pointer used to
// set ERDPT on the next Receive call keeps the raw nextPtr, matching
// original_source's nextPacketPtr, which the odd-pointer errata never
// touches.
func (d *Driver) advanceReadPointer(ctx context.Context, nextPtr uint16) error {
	d.rxReadPtr = nextPtr

	ptr := nextPtr

	if ptr%2 == 0 {
		if ptr == rxStart {
			ptr = rxStop
		} else {
			ptr--
		}
	}

	return d.writeReg16(ctx, regERXRDPTL, regERXRDPTH, ptr)
}
