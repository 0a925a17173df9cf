package sdspi

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the failed step of a card operation.
type ErrorCode uint8

// Error codes as reported by Card.ErrorCode.
const (
	ErrorNone ErrorCode = 0x00
	// ErrorCMD0 is a timeout of CMD0 (enter SPI mode).
	ErrorCMD0 ErrorCode = 0x01
	// ErrorCMD8 means CMD8 was not accepted, so it is no valid SD card.
	ErrorCMD8 ErrorCode = 0x02
	// ErrorCMD12 is an error response to CMD12 (stop multi block read).
	ErrorCMD12 ErrorCode = 0x03
	// ErrorCMD17 is an error response to CMD17 (read block).
	ErrorCMD17 ErrorCode = 0x04
	// ErrorCMD18 is an error response to CMD18 (read multiple blocks).
	ErrorCMD18 ErrorCode = 0x05
	// ErrorCMD24 is an error response to CMD24 (write block).
	ErrorCMD24 ErrorCode = 0x06
	// ErrorCMD25 is an error response to CMD25 (write multiple blocks).
	ErrorCMD25 ErrorCode = 0x07
	// ErrorCMD58 is an error response to CMD58 (read OCR).
	ErrorCMD58 ErrorCode = 0x08
	// ErrorACMD23 means SET_WR_BLK_ERASE_COUNT failed.
	ErrorACMD23 ErrorCode = 0x09
	// ErrorACMD41 is a timeout of the ACMD41 initialization.
	ErrorACMD41 ErrorCode = 0x0A
	// ErrorBadCSD means the CSD register has an unknown version.
	ErrorBadCSD ErrorCode = 0x0B
	// ErrorErase means an erase command failed.
	ErrorErase ErrorCode = 0x0C
	// ErrorEraseSingleBlock means the card cannot erase single blocks.
	ErrorEraseSingleBlock ErrorCode = 0x0D
	// ErrorEraseTimeout is a timeout of the erase sequence.
	ErrorEraseTimeout ErrorCode = 0x0E
	// ErrorRead means the card sent an error token instead of data.
	ErrorRead ErrorCode = 0x0F
	// ErrorReadReg means reading the CID or CSD failed.
	ErrorReadReg ErrorCode = 0x10
	// ErrorReadTimeout is a timeout waiting for the start of read data.
	ErrorReadTimeout ErrorCode = 0x11
	// ErrorStopTran means the card did not accept the stop transmission token.
	ErrorStopTran ErrorCode = 0x12
	// ErrorWrite means the card rejected written data.
	ErrorWrite ErrorCode = 0x13
	// ErrorWriteBlockZero is kept for compatibility and never reported.
	ErrorWriteBlockZero ErrorCode = 0x14
	// ErrorWriteMultiple means the card did not get ready during a multi block write.
	ErrorWriteMultiple ErrorCode = 0x15
	// ErrorWriteProgramming is an error status of CMD13 after a write.
	ErrorWriteProgramming ErrorCode = 0x16
	// ErrorWriteTimeout is a timeout of the write programming.
	ErrorWriteTimeout ErrorCode = 0x17
	// ErrorSckRate means an invalid speed was requested.
	ErrorSckRate ErrorCode = 0x18
	// ErrorInitNotCalled means the card was used before Init.
	ErrorInitNotCalled ErrorCode = 0x19
	// ErrorCMD59 is an error response to CMD59 (CRC on/off).
	ErrorCMD59 ErrorCode = 0x1A
	// ErrorReadCRC means the CRC of read data did not match.
	ErrorReadCRC ErrorCode = 0x1B
	// ErrorSPIDMA is an error of the bus.
	ErrorSPIDMA ErrorCode = 0x1C
)

var errorCodeNames = map[ErrorCode]string{
	ErrorNone:             "none",
	ErrorCMD0:             "CMD0",
	ErrorCMD8:             "CMD8",
	ErrorCMD12:            "CMD12",
	ErrorCMD17:            "CMD17",
	ErrorCMD18:            "CMD18",
	ErrorCMD24:            "CMD24",
	ErrorCMD25:            "CMD25",
	ErrorCMD58:            "CMD58",
	ErrorACMD23:           "ACMD23",
	ErrorACMD41:           "ACMD41",
	ErrorBadCSD:           "BAD_CSD",
	ErrorErase:            "ERASE",
	ErrorEraseSingleBlock: "ERASE_SINGLE_BLOCK",
	ErrorEraseTimeout:     "ERASE_TIMEOUT",
	ErrorRead:             "READ",
	ErrorReadReg:          "READ_REG",
	ErrorReadTimeout:      "READ_TIMEOUT",
	ErrorStopTran:         "STOP_TRAN",
	ErrorWrite:            "WRITE",
	ErrorWriteBlockZero:   "WRITE_BLOCK_ZERO",
	ErrorWriteMultiple:    "WRITE_MULTIPLE",
	ErrorWriteProgramming: "WRITE_PROGRAMMING",
	ErrorWriteTimeout:     "WRITE_TIMEOUT",
	ErrorSckRate:          "SCK_RATE",
	ErrorInitNotCalled:    "INIT_NOT_CALLED",
	ErrorCMD59:            "CMD59",
	ErrorReadCRC:          "READ_CRC",
	ErrorSPIDMA:           "SPI_DMA",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(c))
}

// Error categories. Every *Error matches exactly one of them with errors.Is.
var (
	ErrTimeout        = errors.New("sd card timeout")
	ErrCommand        = errors.New("sd card rejected command")
	ErrData           = errors.New("sd card data transfer failed")
	ErrNotInitialized = errors.New("sd card is not initialized")
	ErrUnsupported    = errors.New("not supported by the sd card")
	ErrBus            = errors.New("spi bus failure")
)

// Error is returned by every failed card operation. The same code and status
// stay available by Card.ErrorCode and Card.ErrorData until the next failure.
type Error struct {
	Code ErrorCode
	// Status is the last R1 status or token received from the card.
	Status byte
	// Err is the error of the Bus if the transfer itself failed.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sd card error %s, status 0x%02X: %v", e.Code, e.Status, e.Err)
	}
	return fmt.Sprintf("sd card error %s, status 0x%02X", e.Code, e.Status)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the category of the error code.
func (e *Error) Is(target error) bool {
	if e.Err != nil && target == ErrBus {
		return true
	}
	return category(e.Code) == target
}

func category(code ErrorCode) error {
	switch code {
	case ErrorCMD0, ErrorACMD41, ErrorEraseTimeout, ErrorReadTimeout, ErrorWriteTimeout, ErrorWriteMultiple:
		return ErrTimeout
	case ErrorRead, ErrorWrite, ErrorWriteProgramming, ErrorStopTran, ErrorReadCRC, ErrorReadReg:
		return ErrData
	case ErrorInitNotCalled:
		return ErrNotInitialized
	case ErrorBadCSD, ErrorEraseSingleBlock, ErrorSckRate:
		return ErrUnsupported
	case ErrorSPIDMA:
		return ErrBus
	}
	return ErrCommand
}
