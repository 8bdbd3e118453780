// enc28j60-netstack
// https://github.com/mpaysen/enc28j60-netstack
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package enc28j60

// reg names one control register: the bank it lives in, its address
// within that bank, whether reading it requires the extra dummy byte the
// datasheet mandates for MAC and MII registers, and whether it is one of
// the five bank-independent ETH registers (EIE, EIR, ESTAT, ECON2,
// ECON1), which are reachable without a bank switch from any bank.
type reg struct {
	bank      uint8
	addr      uint8
	needDummy bool
	common    bool
}

func eth(bank, addr uint8) reg { return reg{bank: bank, addr: addr} }
func mac(bank, addr uint8) reg { return reg{bank: bank, addr: addr, needDummy: true} }
func shared(addr uint8) reg    { return reg{addr: addr, common: true} }

// Bank 0
var (
	regERDPTL = eth(0, 0x00)
	regERDPTH = eth(0, 0x01)
	regEWRPTL = eth(0, 0x02)
	regEWRPTH = eth(0, 0x03)
	regETXSTL = eth(0, 0x04)
	regETXSTH = eth(0, 0x05)
	regETXNDL = eth(0, 0x06)
	regETXNDH = eth(0, 0x07)
	regERXSTL = eth(0, 0x08)
	regERXSTH = eth(0, 0x09)
	regERXNDL = eth(0, 0x0A)
	regERXNDH = eth(0, 0x0B)
	regERXRDPTL = eth(0, 0x0C)
	regERXRDPTH = eth(0, 0x0D)
)

// Bank 1
var (
	regERXFCON = eth(1, 0x18)
	regEPKTCNT = eth(1, 0x19)
)

// Bank 2
var (
	regMACON1   = mac(2, 0x00)
	regMACON3   = mac(2, 0x02)
	regMABBIPG  = mac(2, 0x04)
	regMAIPGL   = mac(2, 0x06)
	regMAIPGH   = mac(2, 0x07)
	regMAMXFLL  = mac(2, 0x0A)
	regMAMXFLH  = mac(2, 0x0B)
	regMICMD    = mac(2, 0x12)
	regMIREGADR = mac(2, 0x14)
	regMIWRL    = mac(2, 0x16)
	regMIWRH    = mac(2, 0x17)
	regMIRDL    = mac(2, 0x18)
	regMIRDH    = mac(2, 0x19)
)

// Bank 3
var (
	regMAADR5 = mac(3, 0x00)
	regMAADR6 = mac(3, 0x01)
	regMAADR3 = mac(3, 0x02)
	regMAADR4 = mac(3, 0x03)
	regMAADR1 = mac(3, 0x04)
	regMAADR2 = mac(3, 0x05)
	regMISTAT = mac(3, 0x0A)
	regEREVID = eth(3, 0x12)
)

// Bank-independent ETH registers (addresses 0x1B-0x1F, reachable from any
// bank).
var (
	regEIE   = shared(0x1B)
	regEIR   = shared(0x1C)
	regESTAT = shared(0x1D)
	regECON2 = shared(0x1E)
	regECON1 = shared(0x1F)
)

// PHY registers, accessed indirectly through MIREGADR/MICMD/MIRD/MIWR.
const (
	phyCON2  = 0x10
	phySTAT2 = 0x11
	phyLCON  = 0x14
)

// Control bits
const (
	econ1BSEL0 = 0x01
	econ1BSEL1 = 0x02
	econ1RXEN  = 0x04
	econ1TXRTS = 0x08

	econ2AUTOINC = 0x80
	econ2PKTDEC  = 0x40

	estatCLKRDY = 0x01

	eirTXERIF = 0x02
	eirPKTIF  = 0x40
	eirTXIF   = 0x08

	eieINTIE = 0x80
	eiePKTIE = 0x40

	macon1MARXEN  = 0x01
	macon1RXPAUS  = 0x04
	macon1TXPAUS  = 0x08

	macon3FRMLNEN = 0x02
	macon3TXCRCEN = 0x10
	macon3PADCFG0 = 0x20
	macon3FULDPX  = 0x01

	micmdMIIRD = 0x01

	mistatBUSY = 0x01

	erxfconUCEN = 0x80
	erxfconCRCEN = 0x20
	erxfconBCEN  = 0x01

	phcon2HDLDIS = 0x0100
	phlconLED    = 0x0122
)

// Bit positions, for the handful of status checks done with
// internal/bitfield rather than a plain mask compare.
const (
	posCLKRDY = 0
	posBUSY   = 0
	posTXERIF = 1
	posPKTIF  = 6
	posTXRTS  = 3
)
