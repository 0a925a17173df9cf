package sdspi

import (
	"time"

	"github.com/sirupsen/logrus"
)

// CardType is the generation of the card.
type CardType uint8

const (
	// TypeUnknown is the type before a successful Init.
	TypeUnknown CardType = 0
	// TypeSD1 is a standard capacity V1 card. It is byte addressed.
	TypeSD1 CardType = 1
	// TypeSD2 is a standard capacity V2 card. It is byte addressed.
	TypeSD2 CardType = 2
	// TypeSDHC is a high capacity card. It is block addressed.
	TypeSDHC CardType = 3
)

func (t CardType) String() string {
	switch t {
	case TypeSD1:
		return "SD1"
	case TypeSD2:
		return "SD2"
	case TypeSDHC:
		return "SDHC"
	}
	return "unknown"
}

// Card commands.
const (
	cmd0   = 0x00 // GO_IDLE_STATE
	cmd8   = 0x08 // SEND_IF_COND
	cmd9   = 0x09 // SEND_CSD
	cmd10  = 0x0A // SEND_CID
	cmd12  = 0x0C // STOP_TRANSMISSION
	cmd13  = 0x0D // SEND_STATUS
	cmd17  = 0x11 // READ_SINGLE_BLOCK
	cmd18  = 0x12 // READ_MULTIPLE_BLOCK
	cmd24  = 0x18 // WRITE_BLOCK
	cmd25  = 0x19 // WRITE_MULTIPLE_BLOCK
	cmd32  = 0x20 // ERASE_WR_BLK_START
	cmd33  = 0x21 // ERASE_WR_BLK_END
	cmd38  = 0x26 // ERASE
	cmd55  = 0x37 // APP_CMD
	cmd58  = 0x3A // READ_OCR
	acmd23 = 0x17 // SET_WR_BLK_ERASE_COUNT
	acmd41 = 0x29 // SD_SEND_OP_COND
)

// Responses and tokens.
const (
	r1ReadyState     = 0x00
	r1IdleState      = 0x01
	r1IllegalCommand = 0x04

	dataStartBlock     = 0xFE
	stopTranToken      = 0xFD
	writeMultipleToken = 0xFC

	dataResMask     = 0x1F
	dataResAccepted = 0x05
)

// BlockSize is the size of every transferred block.
const BlockSize = 512

// Card is an SD card connected by SPI.
// It is not safe for concurrent use.
type Card struct {
	bus Bus
	cs  Pin

	cfg Config
	log logrus.FieldLogger
	now func() time.Time

	typ       CardType
	errorCode ErrorCode
	status    byte
}

// NewCard returns a card which has to be initialized by Init.
func NewCard(opts ...Option) *Card {
	c := &Card{
		cfg:       DefaultConfig(),
		log:       discardLogger(),
		now:       time.Now,
		errorCode: ErrorInitNotCalled,
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Type returns the card type detected by Init.
func (c *Card) Type() CardType {
	return c.typ
}

// ErrorCode returns the code of the last failure.
func (c *Card) ErrorCode() ErrorCode {
	return c.errorCode
}

// ErrorData returns the status byte of the last failure.
func (c *Card) ErrorData() byte {
	return c.status
}

func (c *Card) elapsed(start time.Time) time.Duration {
	return c.now().Sub(start)
}

func (c *Card) fail(code ErrorCode, busErr error) error {
	c.errorCode = code
	c.chipSelectHigh()
	return &Error{Code: code, Status: c.status, Err: busErr}
}

func (c *Card) chipSelectHigh() {
	if c.cs == nil {
		return
	}
	c.cs.High()
	// Give the card a clock so it releases MISO.
	_, _ = c.bus.Transfer(0xFF)
}

func (c *Card) chipSelectLow() {
	c.cs.Low()
}

func (c *Card) receive() (byte, error) {
	return c.bus.Transfer(0xFF)
}

func (c *Card) send(b byte) error {
	_, err := c.bus.Transfer(b)
	return err
}

// waitNotBusy waits until the card sends 0xFF. It returns false after timeout.
func (c *Card) waitNotBusy(timeout time.Duration) (bool, error) {
	start := c.now()
	for {
		b, err := c.receive()
		if err != nil {
			return false, err
		}
		if b == 0xFF {
			return true, nil
		}
		if c.elapsed(start) >= timeout {
			return false, nil
		}
	}
}

// command sends cmd and returns the R1 status. Chip select stays low.
func (c *Card) command(cmd byte, arg uint32) (byte, error) {
	c.chipSelectLow()

	// The result does not matter, the status tells if the card accepted the command.
	if _, err := c.waitNotBusy(c.cfg.ReadTimeout); err != nil {
		return 0xFF, err
	}

	crc := byte(0xFF)
	switch cmd {
	case cmd0:
		crc = 0x95
	case cmd8:
		crc = 0x87
	}

	frame := []byte{0x40 | cmd, byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg), crc}
	if err := c.bus.Tx(frame, nil); err != nil {
		return 0xFF, err
	}

	// Skip the stuff byte of the stop read.
	if cmd == cmd12 {
		if _, err := c.receive(); err != nil {
			return 0xFF, err
		}
	}

	status := byte(0xFF)
	for i := 0; i < 0xFF; i++ {
		var err error
		status, err = c.receive()
		if err != nil {
			return 0xFF, err
		}
		if status&0x80 == 0 {
			break
		}
	}
	c.status = status
	return status, nil
}

func (c *Card) appCommand(cmd byte, arg uint32) (byte, error) {
	if _, err := c.command(cmd55, 0); err != nil {
		return 0xFF, err
	}
	return c.command(cmd, arg)
}

// Init initializes the card and switches the bus to speed.
func (c *Card) Init(bus Bus, cs Pin, speed Speed) error {
	c.bus = bus
	c.cs = cs
	c.typ = TypeUnknown
	c.errorCode = ErrorNone
	c.status = 0

	start := c.now()

	c.cs.High()
	if err := c.bus.SetSpeed(InitSpeed); err != nil {
		return c.fail(ErrorSckRate, err)
	}

	// At least 74 clocks with chip select high.
	for i := 0; i < 10; i++ {
		if err := c.send(0xFF); err != nil {
			return c.fail(ErrorCMD0, err)
		}
	}

	// Enter SPI mode.
	for {
		status, err := c.command(cmd0, 0)
		if err != nil {
			return c.fail(ErrorCMD0, err)
		}
		if status == r1IdleState {
			break
		}
		if c.elapsed(start) > c.cfg.InitTimeout {
			return c.fail(ErrorCMD0, nil)
		}
	}

	status, err := c.command(cmd8, 0x1AA)
	if err != nil {
		return c.fail(ErrorCMD8, err)
	}
	if status&r1IllegalCommand != 0 {
		c.typ = TypeSD1
	} else {
		// Only the last byte of the R7 response is of interest.
		var r7 [4]byte
		if err := c.bus.Tx(nil, r7[:]); err != nil {
			return c.fail(ErrorCMD8, err)
		}
		c.status = r7[3]
		if r7[3] != 0xAA {
			return c.fail(ErrorCMD8, nil)
		}
		c.typ = TypeSD2
	}

	// High capacity support if SD2.
	var arg uint32
	if c.typ == TypeSD2 {
		arg = 0x40000000
	}
	for {
		status, err := c.appCommand(acmd41, arg)
		if err != nil {
			return c.fail(ErrorACMD41, err)
		}
		if status == r1ReadyState {
			break
		}
		if c.elapsed(start) > c.cfg.InitTimeout {
			return c.fail(ErrorACMD41, nil)
		}
	}

	if c.typ == TypeSD2 {
		status, err := c.command(cmd58, 0)
		if err != nil {
			return c.fail(ErrorCMD58, err)
		}
		if status != 0 {
			return c.fail(ErrorCMD58, nil)
		}

		var ocr [4]byte
		if err := c.bus.Tx(nil, ocr[:]); err != nil {
			return c.fail(ErrorCMD58, err)
		}
		if ocr[0]&0xC0 == 0xC0 {
			c.typ = TypeSDHC
		}
	}
	c.chipSelectHigh()

	c.log.WithFields(logrus.Fields{
		"type":  c.typ,
		"speed": speed,
	}).Debug("sd card initialized")

	return c.SetSpeed(speed)
}

// SetSpeed changes the bus speed.
func (c *Card) SetSpeed(speed Speed) error {
	if c.bus == nil {
		c.errorCode = ErrorInitNotCalled
		return &Error{Code: ErrorInitNotCalled}
	}
	if speed > MaxSpeedID {
		return c.fail(ErrorSckRate, nil)
	}
	if err := c.bus.SetSpeed(speed); err != nil {
		return c.fail(ErrorSckRate, err)
	}
	return nil
}

func (c *Card) checkInit() error {
	if c.bus == nil || c.typ == TypeUnknown {
		c.errorCode = ErrorInitNotCalled
		return &Error{Code: ErrorInitNotCalled}
	}
	return nil
}

// address converts a block number into the argument of a data command.
func (c *Card) address(block uint32) uint32 {
	if c.typ != TypeSDHC {
		return block << 9
	}
	return block
}

// ReadBlock reads block into dst, which needs at least 512 bytes.
func (c *Card) ReadBlock(block uint32, dst []byte) error {
	if err := c.checkInit(); err != nil {
		return err
	}

	status, err := c.command(cmd17, c.address(block))
	if err != nil {
		return c.fail(ErrorCMD17, err)
	}
	if status != 0 {
		return c.fail(ErrorCMD17, nil)
	}
	return c.readData(dst[:BlockSize])
}

// readData waits for the data token and reads len(dst) bytes and the CRC.
func (c *Card) readData(dst []byte) error {
	start := c.now()
	for {
		b, err := c.receive()
		if err != nil {
			return c.fail(ErrorReadTimeout, err)
		}
		c.status = b
		if b != 0xFF {
			break
		}
		if c.elapsed(start) > c.cfg.ReadTimeout {
			return c.fail(ErrorReadTimeout, nil)
		}
	}

	if c.status != dataStartBlock {
		return c.fail(ErrorRead, nil)
	}

	if err := c.bus.Tx(nil, dst); err != nil {
		return c.fail(ErrorRead, err)
	}

	// CRC is not checked.
	var crc [2]byte
	if err := c.bus.Tx(nil, crc[:]); err != nil {
		return c.fail(ErrorRead, err)
	}

	c.chipSelectHigh()
	return nil
}

// ReadStart starts a multi block read at block. Use ReadData for every block and finish with ReadStop.
func (c *Card) ReadStart(block uint32) error {
	if err := c.checkInit(); err != nil {
		return err
	}

	status, err := c.command(cmd18, c.address(block))
	if err != nil {
		return c.fail(ErrorCMD18, err)
	}
	if status != 0 {
		return c.fail(ErrorCMD18, nil)
	}
	c.chipSelectHigh()
	return nil
}

// ReadData reads the next block of a multi block read.
func (c *Card) ReadData(dst []byte) error {
	c.chipSelectLow()
	return c.readData(dst[:BlockSize])
}

// ReadStop ends a multi block read.
func (c *Card) ReadStop() error {
	status, err := c.command(cmd12, 0)
	if err != nil {
		return c.fail(ErrorCMD12, err)
	}
	if status != 0 {
		return c.fail(ErrorCMD12, nil)
	}
	c.chipSelectHigh()
	return nil
}

// WriteBlock writes the first 512 bytes of src to block and waits until they are programmed.
func (c *Card) WriteBlock(block uint32, src []byte) error {
	if err := c.checkInit(); err != nil {
		return err
	}

	status, err := c.command(cmd24, c.address(block))
	if err != nil {
		return c.fail(ErrorCMD24, err)
	}
	if status != 0 {
		return c.fail(ErrorCMD24, nil)
	}

	if err := c.writeData(dataStartBlock, src[:BlockSize]); err != nil {
		return err
	}

	// Wait for the flash programming to complete.
	ready, err := c.waitNotBusy(c.cfg.WriteTimeout)
	if err != nil || !ready {
		return c.fail(ErrorWriteTimeout, err)
	}

	// The response is R2, so both bytes have to be zero.
	status, err = c.command(cmd13, 0)
	if err != nil {
		return c.fail(ErrorWriteProgramming, err)
	}
	r2, err := c.receive()
	if err != nil {
		return c.fail(ErrorWriteProgramming, err)
	}
	if status != 0 || r2 != 0 {
		if status == 0 {
			c.status = r2
		}
		return c.fail(ErrorWriteProgramming, nil)
	}

	c.chipSelectHigh()
	return nil
}

// writeData sends the token, one block and a dummy CRC and checks the data response.
func (c *Card) writeData(token byte, src []byte) error {
	if err := c.send(token); err != nil {
		return c.fail(ErrorWrite, err)
	}
	if err := c.bus.Tx(src, nil); err != nil {
		return c.fail(ErrorWrite, err)
	}
	if err := c.bus.Tx([]byte{0xFF, 0xFF}, nil); err != nil {
		return c.fail(ErrorWrite, err)
	}

	status, err := c.receive()
	if err != nil {
		return c.fail(ErrorWrite, err)
	}
	c.status = status
	if status&dataResMask != dataResAccepted {
		return c.fail(ErrorWrite, nil)
	}
	return nil
}

// WriteStart starts a multi block write at block. eraseCount is the number
// of blocks which are going to be written, used to pre-erase them.
func (c *Card) WriteStart(block, eraseCount uint32) error {
	if err := c.checkInit(); err != nil {
		return err
	}

	status, err := c.appCommand(acmd23, eraseCount)
	if err != nil {
		return c.fail(ErrorACMD23, err)
	}
	if status != 0 {
		return c.fail(ErrorACMD23, nil)
	}

	status, err = c.command(cmd25, c.address(block))
	if err != nil {
		return c.fail(ErrorCMD25, err)
	}
	if status != 0 {
		return c.fail(ErrorCMD25, nil)
	}
	c.chipSelectHigh()
	return nil
}

// WriteData writes the next block of a multi block write.
func (c *Card) WriteData(src []byte) error {
	c.chipSelectLow()

	ready, err := c.waitNotBusy(c.cfg.WriteTimeout)
	if err != nil || !ready {
		return c.fail(ErrorWriteMultiple, err)
	}

	if err := c.writeData(writeMultipleToken, src[:BlockSize]); err != nil {
		return err
	}
	c.chipSelectHigh()
	return nil
}

// WriteStop ends a multi block write.
func (c *Card) WriteStop() error {
	c.chipSelectLow()

	ready, err := c.waitNotBusy(c.cfg.WriteTimeout)
	if err != nil || !ready {
		return c.fail(ErrorStopTran, err)
	}
	if err := c.send(stopTranToken); err != nil {
		return c.fail(ErrorStopTran, err)
	}
	ready, err = c.waitNotBusy(c.cfg.WriteTimeout)
	if err != nil || !ready {
		return c.fail(ErrorStopTran, err)
	}

	c.chipSelectHigh()
	return nil
}

// Erase erases the blocks first to last (inclusive). Cards without single
// block erase support only erase whole erase sectors.
func (c *Card) Erase(first, last uint32) error {
	csd, err := c.ReadCSD()
	if err != nil {
		return err
	}

	if !csd.EraseSingleBlock() {
		// Both ends have to be aligned to the erase sector size.
		m := csd.EraseSectorSize()
		if first&m != 0 || (last+1)&m != 0 {
			return c.fail(ErrorEraseSingleBlock, nil)
		}
	}

	for _, cmd := range []struct {
		cmd byte
		arg uint32
	}{
		{cmd32, c.address(first)},
		{cmd33, c.address(last)},
		{cmd38, 0},
	} {
		status, err := c.command(cmd.cmd, cmd.arg)
		if err != nil {
			return c.fail(ErrorErase, err)
		}
		if status != 0 {
			return c.fail(ErrorErase, nil)
		}
	}

	ready, err := c.waitNotBusy(c.cfg.EraseTimeout)
	if err != nil || !ready {
		return c.fail(ErrorEraseTimeout, err)
	}

	c.chipSelectHigh()
	return nil
}

func (c *Card) readRegister(cmd byte, dst []byte) error {
	if err := c.checkInit(); err != nil {
		return err
	}

	status, err := c.command(cmd, 0)
	if err != nil {
		return c.fail(ErrorReadReg, err)
	}
	if status != 0 {
		return c.fail(ErrorReadReg, nil)
	}
	return c.readData(dst)
}

// ReadCSD reads the card specific data register.
func (c *Card) ReadCSD() (CSD, error) {
	var csd CSD
	err := c.readRegister(cmd9, csd[:])
	return csd, err
}

// ReadCID reads the card identification register.
func (c *Card) ReadCID() (CID, error) {
	var cid CID
	err := c.readRegister(cmd10, cid[:])
	return cid, err
}

// CardSize returns the number of 512 byte blocks of the card.
func (c *Card) CardSize() (uint32, error) {
	csd, err := c.ReadCSD()
	if err != nil {
		return 0, err
	}

	size, ok := csd.Blocks()
	if !ok {
		return 0, c.fail(ErrorBadCSD, nil)
	}
	return size, nil
}
