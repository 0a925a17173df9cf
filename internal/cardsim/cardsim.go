// Package cardsim simulates an SD card on the SPI byte level. It implements
// sdspi.Bus and sdspi.Pin, so a sdspi.Card can be tested without hardware.
//
// The simulation answers every byte the host clocks in like a real card in SPI
// mode: R1/R2/R3/R7 responses, data tokens, data response tokens and busy
// signalling. The storage is sparse, so large cards only use memory for the
// blocks which were written.
package cardsim

import (
	"sync"

	"github.com/aligator/sdlite/sdspi"
)

const blockSize = 512

// R1 status bits.
const (
	r1Ready          = 0x00
	r1Idle           = 0x01
	r1IllegalCommand = 0x04
	r1AddressError   = 0x20
	r1ParameterError = 0x40
)

const (
	dataStartBlock     = 0xFE
	stopTranToken      = 0xFD
	writeMultipleToken = 0xFC
	dataAccepted       = 0xE5
)

type state int

const (
	stateCommand state = iota
	// stateWrite waits for a data token.
	stateWrite
	// stateData receives a data block.
	stateData
)

// Card is a simulated SD card.
// It is safe for concurrent use, but the SPI protocol itself is sequential.
type Card struct {
	mu sync.Mutex

	typ    sdspi.CardType
	blocks uint32
	data   map[uint32][]byte
	csd    sdspi.CSD
	cid    sdspi.CID

	selected bool
	speeds   []sdspi.Speed
	commands []byte

	frame []byte
	out   []byte

	idle        bool
	initialized bool
	appCmd      bool

	st         state
	multiWrite bool
	writeBlock uint32
	received   []byte

	streaming bool
	readBlock uint32

	eraseStart uint32
	eraseEnd   uint32

	// Failure injection.
	initPolls    int
	busyBytes    int
	stayBusy     bool
	unresponsive bool
	failCommands map[byte]byte
	dataToken    byte
	rejectWrites bool
}

// New returns a card of the given type with the given number of 512 byte blocks.
func New(typ sdspi.CardType, blocks uint32) *Card {
	c := &Card{
		typ:          typ,
		blocks:       blocks,
		data:         map[uint32][]byte{},
		failCommands: map[byte]byte{},
		initPolls:    2,
		busyBytes:    3,
		dataToken:    dataStartBlock,
	}
	c.csd = makeCSD(typ, blocks)
	c.cid = sdspi.CID{0x03, 'S', 'D', 'S', 'I', 'M', 'C', 'D', 0x10, 0x12, 0x34, 0x56, 0x78, 0x01, 0x5A}
	return c
}

// makeCSD builds a register which reports the given size. Standard capacity
// cards use a CSD version 1 with single block erase enabled.
func makeCSD(typ sdspi.CardType, blocks uint32) sdspi.CSD {
	var csd sdspi.CSD
	if typ == sdspi.TypeSDHC {
		csd[0] = 0x40
		cSize := blocks>>10 - 1
		csd[7] = byte(cSize>>16) & 0x3F
		csd[8] = byte(cSize >> 8)
		csd[9] = byte(cSize)
		csd[10] = 0x40
		return csd
	}

	// blocks = (cSize+1) << (mult + readBlLen - 7) with readBlLen = 9
	// and mult = 7 results in a granularity of 512 blocks.
	readBlLen := uint32(9)
	mult := uint32(7)
	cSize := blocks>>(mult+readBlLen-7) - 1
	csd[5] = byte(readBlLen)
	csd[6] = byte(cSize>>10) & 0x03
	csd[7] = byte(cSize >> 2)
	csd[8] = byte(cSize&0x03) << 6
	csd[9] = byte(mult>>1) & 0x03
	csd[10] = byte(mult&0x01)<<7 | 0x40
	return csd
}

// SetInitPolls sets how many ACMD41 are answered with idle before the card is ready.
func (c *Card) SetInitPolls(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initPolls = n
}

// SetStayBusy lets the card stay busy after writes and erases forever.
func (c *Card) SetStayBusy(busy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stayBusy = busy
}

// SetUnresponsive lets the card ignore every command.
func (c *Card) SetUnresponsive(unresponsive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unresponsive = unresponsive
}

// FailCommand answers cmd with status instead of executing it.
func (c *Card) FailCommand(cmd byte, status byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCommands[cmd] = status
}

// SetDataToken replaces the start token of read data, e.g. by an error token.
func (c *Card) SetDataToken(token byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataToken = token
}

// SetRejectWrites answers written data with a write error response.
func (c *Card) SetRejectWrites(reject bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectWrites = reject
}

// SetCSD replaces the CSD register.
func (c *Card) SetCSD(csd sdspi.CSD) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csd = csd
}

// CID returns the identification register of the card.
func (c *Card) CID() sdspi.CID {
	return c.cid
}

// Blocks returns the size of the card in blocks.
func (c *Card) Blocks() uint32 {
	return c.blocks
}

// Commands returns all commands received so far. Application commands are
// reported with their number, preceded by 55.
func (c *Card) Commands() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.commands...)
}

// ResetCommands clears the command log.
func (c *Card) ResetCommands() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = nil
}

// Speeds returns every speed set on the bus.
func (c *Card) Speeds() []sdspi.Speed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sdspi.Speed(nil), c.speeds...)
}

// Block returns a copy of the stored block.
func (c *Card) Block(block uint32) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.block(block)...)
}

// SetBlock stores data in block directly.
func (c *Card) SetBlock(block uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := make([]byte, blockSize)
	copy(b, data)
	c.data[block] = b
}

func (c *Card) block(block uint32) []byte {
	if b, ok := c.data[block]; ok {
		return b
	}
	return make([]byte, blockSize)
}

// High deselects the card.
func (c *Card) High() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = false
	c.frame = c.frame[:0]
}

// Low selects the card.
func (c *Card) Low() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = true
}

// SetSpeed records the speed.
func (c *Card) SetSpeed(speed sdspi.Speed) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speeds = append(c.speeds, speed)
	return nil
}

// Tx transfers all bytes of w and r.
func (c *Card) Tx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}

	for i := 0; i < n; i++ {
		in := byte(0xFF)
		if w != nil && i < len(w) {
			in = w[i]
		}
		out, err := c.Transfer(in)
		if err != nil {
			return err
		}
		if r != nil && i < len(r) {
			r[i] = out
		}
	}
	return nil
}

// Transfer clocks one byte.
func (c *Card) Transfer(in byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.selected {
		return 0xFF, nil
	}

	// The answer is what the card shifted out before it saw in.
	out := byte(0xFF)
	if len(c.out) > 0 {
		out = c.out[0]
		c.out = c.out[1:]
	} else if c.streaming && len(c.frame) == 0 && in == 0xFF {
		c.queueBlock(c.readBlock)
		c.readBlock++
		out = c.out[0]
		c.out = c.out[1:]
	} else if c.stayBusy && c.st == stateCommand && c.lastWasBusy() {
		out = 0x00
	}

	c.receive(in)
	return out, nil
}

// lastWasBusy reports whether the card is in a busy phase which never ends.
func (c *Card) lastWasBusy() bool {
	n := len(c.commands)
	if n == 0 {
		return false
	}
	switch c.commands[n-1] {
	case 24, 25, 38:
		return true
	}
	return false
}

func (c *Card) receive(in byte) {
	switch c.st {
	case stateWrite:
		switch {
		case in == dataStartBlock && !c.multiWrite,
			in == writeMultipleToken && c.multiWrite:
			c.st = stateData
			c.received = c.received[:0]
		case in == stopTranToken && c.multiWrite:
			c.st = stateCommand
			c.queueBusy()
		case in != 0xFF:
			// A command ends the write.
			c.st = stateCommand
			c.receiveCommand(in)
		}
	case stateData:
		c.received = append(c.received, in)
		// Data and two CRC bytes.
		if len(c.received) == blockSize+2 {
			c.storeReceived()
		}
	default:
		c.receiveCommand(in)
	}
}

func (c *Card) storeReceived() {
	if c.rejectWrites || c.writeBlock >= c.blocks {
		// Write error.
		c.out = append(c.out, 0xED)
		c.st = stateCommand
		return
	}

	b := make([]byte, blockSize)
	copy(b, c.received[:blockSize])
	c.data[c.writeBlock] = b
	c.writeBlock++

	c.out = append(c.out, dataAccepted)
	c.queueBusy()

	if c.multiWrite {
		c.st = stateWrite
	} else {
		c.st = stateCommand
	}
}

func (c *Card) queueBusy() {
	if c.stayBusy {
		// Transfer keeps answering with busy.
		return
	}
	for i := 0; i < c.busyBytes; i++ {
		c.out = append(c.out, 0x00)
	}
}

func (c *Card) receiveCommand(in byte) {
	if len(c.frame) == 0 && in&0xC0 != 0x40 {
		return
	}
	c.frame = append(c.frame, in)
	if len(c.frame) < 6 {
		return
	}

	cmd := c.frame[0] & 0x3F
	arg := uint32(c.frame[1])<<24 | uint32(c.frame[2])<<16 | uint32(c.frame[3])<<8 | uint32(c.frame[4])
	c.frame = c.frame[:0]
	c.command(cmd, arg)
}

func (c *Card) r1(status byte) {
	// One byte of command response time.
	c.out = append(c.out, 0xFF, status)
}

func (c *Card) idleBit() byte {
	if c.initialized {
		return 0
	}
	return r1Idle
}

func (c *Card) command(cmd byte, arg uint32) {
	c.commands = append(c.commands, cmd)

	if c.unresponsive {
		return
	}

	app := c.appCmd
	c.appCmd = false

	if cmd == 12 {
		c.streaming = false
		c.out = c.out[:0]
		// Stuff byte, then R1.
		c.out = append(c.out, 0xFF, r1Ready)
		return
	}

	if status, ok := c.failCommands[cmd]; ok {
		c.r1(status)
		return
	}

	if !c.idle && cmd != 0 {
		// Not in SPI mode yet.
		return
	}

	switch {
	case cmd == 0:
		c.idle = true
		c.initialized = false
		c.streaming = false
		c.r1(r1Idle)
	case cmd == 8:
		if c.typ == sdspi.TypeSD1 {
			c.r1(r1Idle | r1IllegalCommand)
			return
		}
		c.r1(c.idleBit())
		c.out = append(c.out, 0x00, 0x00, byte(arg>>8)&0x0F, byte(arg))
	case cmd == 55:
		c.appCmd = true
		c.r1(c.idleBit())
	case app && cmd == 41:
		if c.initPolls > 0 {
			c.initPolls--
			c.r1(r1Idle)
			return
		}
		c.initialized = true
		c.r1(r1Ready)
	case app && cmd == 23:
		c.r1(c.idleBit())
	case cmd == 58:
		if c.typ == sdspi.TypeSD1 {
			c.r1(c.idleBit() | r1IllegalCommand)
			return
		}
		c.r1(c.idleBit())
		ocr := byte(0x80)
		if c.typ == sdspi.TypeSDHC {
			ocr |= 0x40
		}
		c.out = append(c.out, ocr, 0xFF, 0x80, 0x00)
	case !c.initialized:
		c.r1(r1Idle | r1IllegalCommand)
	case cmd == 9:
		c.r1(r1Ready)
		c.queueData(c.dataToken, c.csd[:])
	case cmd == 10:
		c.r1(r1Ready)
		c.queueData(c.dataToken, c.cid[:])
	case cmd == 13:
		// R2
		c.r1(r1Ready)
		c.out = append(c.out, 0x00)
	case cmd == 17:
		block, ok := c.blockOf(arg)
		if !ok {
			c.r1(r1AddressError)
			return
		}
		c.r1(r1Ready)
		c.queueBlock(block)
	case cmd == 18:
		block, ok := c.blockOf(arg)
		if !ok {
			c.r1(r1AddressError)
			return
		}
		c.r1(r1Ready)
		c.streaming = true
		c.readBlock = block
	case cmd == 24, cmd == 25:
		block, ok := c.blockOf(arg)
		if !ok {
			c.r1(r1AddressError)
			return
		}
		c.r1(r1Ready)
		c.st = stateWrite
		c.multiWrite = cmd == 25
		c.writeBlock = block
	case cmd == 32, cmd == 33:
		block, ok := c.blockOf(arg)
		if !ok {
			c.r1(r1AddressError)
			return
		}
		if cmd == 32 {
			c.eraseStart = block
		} else {
			c.eraseEnd = block
		}
		c.r1(r1Ready)
	case cmd == 38:
		if c.eraseEnd < c.eraseStart {
			c.r1(r1ParameterError)
			return
		}
		for b := c.eraseStart; b <= c.eraseEnd; b++ {
			delete(c.data, b)
		}
		c.r1(r1Ready)
		c.queueBusy()
	default:
		c.r1(r1IllegalCommand)
	}
}

// blockOf converts a command argument into a block number.
func (c *Card) blockOf(arg uint32) (uint32, bool) {
	block := arg
	if c.typ != sdspi.TypeSDHC {
		if arg%blockSize != 0 {
			return 0, false
		}
		block = arg / blockSize
	}
	return block, block < c.blocks
}

func (c *Card) queueBlock(block uint32) {
	if block >= c.blocks {
		// Out of range error token.
		c.out = append(c.out, 0xFF, 0x08)
		c.streaming = false
		return
	}
	c.queueData(c.dataToken, c.block(block))
}

func (c *Card) queueData(token byte, data []byte) {
	// Access time, token, data, CRC.
	c.out = append(c.out, 0xFF, token)
	if token != dataStartBlock {
		return
	}
	c.out = append(c.out, data...)
	c.out = append(c.out, 0x00, 0x00)
}
