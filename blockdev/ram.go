package blockdev

// RAM is a sparse in-memory device. Blocks which were never written read as zero.
// It is not safe for concurrent use.
type RAM struct {
	blocks uint32
	data   map[uint32]*[BlockSize]byte

	stream stream
	stats  Stats

	// FailRead and FailWrite inject errors, e.g. to test error paths.
	FailRead  func(block uint32) error
	FailWrite func(block uint32) error
}

// NewRAM returns a device with the given number of blocks.
func NewRAM(blocks uint32) *RAM {
	return &RAM{
		blocks: blocks,
		data:   map[uint32]*[BlockSize]byte{},
	}
}

// Blocks returns the size of the device in blocks.
func (r *RAM) Blocks() uint32 {
	return r.blocks
}

// Stats returns the transfer counters.
func (r *RAM) Stats() Stats {
	return r.stats
}

// ResetStats clears the transfer counters.
func (r *RAM) ResetStats() {
	r.stats = Stats{}
}

func (r *RAM) read(block uint32, dst []byte) error {
	if err := checkRange(block, r.blocks, dst); err != nil {
		return err
	}
	if r.FailRead != nil {
		if err := r.FailRead(block); err != nil {
			return err
		}
	}

	if b, ok := r.data[block]; ok {
		copy(dst, b[:])
	} else {
		for i := range dst[:BlockSize] {
			dst[i] = 0
		}
	}
	return nil
}

// ReadBlock copies block into dst.
func (r *RAM) ReadBlock(block uint32, dst []byte) error {
	if err := check(&r.stream, block, r.blocks, dst); err != nil {
		return err
	}
	r.stats.Reads++
	return r.read(block, dst)
}

// WriteBlock copies src into block.
func (r *RAM) WriteBlock(block uint32, src []byte) error {
	if err := check(&r.stream, block, r.blocks, src); err != nil {
		return err
	}
	if r.FailWrite != nil {
		if err := r.FailWrite(block); err != nil {
			return err
		}
	}

	r.stats.Writes++
	b, ok := r.data[block]
	if !ok {
		b = new([BlockSize]byte)
		r.data[block] = b
	}
	copy(b[:], src)
	return nil
}

// ReadStart starts a multi block read at block.
func (r *RAM) ReadStart(block uint32) error {
	if err := r.stream.start(block, r.blocks); err != nil {
		return err
	}
	r.stats.MultiReads++
	return nil
}

// ReadData reads the next block of the multi block read.
func (r *RAM) ReadData(dst []byte) error {
	if err := r.stream.data(dst, r.read); err != nil {
		return err
	}
	r.stats.StreamReads++
	return nil
}

// ReadStop ends the multi block read.
func (r *RAM) ReadStop() error {
	return r.stream.stop()
}

// Bytes returns a copy of the block, e.g. for assertions in tests.
func (r *RAM) Bytes(block uint32) []byte {
	b := make([]byte, BlockSize)
	if d, ok := r.data[block]; ok {
		copy(b, d[:])
	}
	return b
}
