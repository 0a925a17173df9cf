package sdspi

import "strings"

// CSD is the 16 byte card specific data register.
type CSD [16]byte

// Version returns 1 for standard capacity and 2 for high capacity layouts.
func (c CSD) Version() int {
	return int(c[0]>>6) + 1
}

// Blocks returns the number of 512 byte blocks. ok is false for an unknown CSD version.
func (c CSD) Blocks() (blocks uint32, ok bool) {
	switch c[0] >> 6 {
	case 0:
		readBlLen := uint32(c[5] & 0x0F)
		cSize := uint32(c[6]&0x03)<<10 | uint32(c[7])<<2 | uint32(c[8])>>6
		cSizeMult := uint32(c[9]&0x03)<<1 | uint32(c[10])>>7
		return (cSize + 1) << (cSizeMult + readBlLen - 7), true
	case 1:
		cSize := uint32(c[7]&0x3F)<<16 | uint32(c[8])<<8 | uint32(c[9])
		return (cSize + 1) << 10, true
	}
	return 0, false
}

// EraseSingleBlock reports whether single blocks can be erased.
func (c CSD) EraseSingleBlock() bool {
	return (c[10]>>6)&0x01 == 1
}

// EraseSectorSize returns the erase sector size in blocks minus one, usable as alignment mask.
func (c CSD) EraseSectorSize() uint32 {
	return uint32(c[10]&0x3F)<<1 | uint32(c[11])>>7
}

// CID is the 16 byte card identification register.
type CID [16]byte

// ManufacturerID returns the manufacturer assigned by the SD association.
func (c CID) ManufacturerID() byte {
	return c[0]
}

// OEMID returns the two character OEM id.
func (c CID) OEMID() string {
	return string(c[1:3])
}

// ProductName returns the five character product name.
func (c CID) ProductName() string {
	return strings.TrimRight(string(c[3:8]), " \x00")
}

// ProductRevision returns the revision as major and minor number.
func (c CID) ProductRevision() (major, minor byte) {
	return c[8] >> 4, c[8] & 0x0F
}

// SerialNumber returns the product serial number.
func (c CID) SerialNumber() uint32 {
	return uint32(c[9])<<24 | uint32(c[10])<<16 | uint32(c[11])<<8 | uint32(c[12])
}

// ManufacturingDate returns year and month of manufacturing.
func (c CID) ManufacturingDate() (year int, month int) {
	return 2000 + int(c[13]&0x0F)<<4 + int(c[14]>>4), int(c[14] & 0x0F)
}
