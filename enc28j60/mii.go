// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package enc28j60

import (
	"context"
	"time"

	"github.com/mpaysen/enc28j60-netstack/internal/bitfield"
)

// miiPollInterval is how long readPHY/writePHY wait between MISTAT.BUSY
// polls.
const miiPollInterval = 10 * time.Microsecond

// writePHY writes a 16-bit value to PHY register addr via the MIREGADR/
// MIWR indirect interface, then waits for MISTAT.BUSY to clear.
func (d *Driver) writePHY(ctx context.Context, addr uint8, value uint16) error {
	if err := d.writeReg8(ctx, regMIREGADR, addr); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMIWRL, byte(value)); err != nil {
		return err
	}
	if err := d.writeReg8(ctx, regMIWRH, byte(value>>8)); err != nil {
		return err
	}
	return d.waitPHYReady(ctx)
}

// readPHY reads PHY register addr via the MIREGADR/MICMD/MIRD indirect
// interface.
func (d *Driver) readPHY(ctx context.Context, addr uint8) (uint16, error) {
	if err := d.writeReg8(ctx, regMIREGADR, addr); err != nil {
		return 0, err
	}
	if err := d.writeReg8(ctx, regMICMD, micmdMIIRD); err != nil {
		return 0, err
	}
	if err := d.waitPHYReady(ctx); err != nil {
		return 0, err
	}
	if err := d.writeReg8(ctx, regMICMD, 0); err != nil {
		return 0, err
	}

	lo, err := d.readReg8(ctx, regMIRDL)
	if err != nil {
		return 0, err
	}
	hi, err := d.readReg8(ctx, regMIRDH)
	if err != nil {
		return 0, err
	}

	return uint16(hi)<<8 | uint16(lo), nil
}

func (d *Driver) waitPHYReady(ctx context.Context) error {
	for {
		status, err := d.readReg8(ctx, regMISTAT)
		if err != nil {
			return err
		}
		if !bitfield.Test(status, posBUSY) {
			return nil
		}
		if err := d.clock.Sleep(ctx, miiPollInterval); err != nil {
			return err
		}
	}
}
