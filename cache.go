package sdlite

import (
	"github.com/aligator/sdlite/checkpoint"
)

// cacheMode tells cacheFetch what the caller is going to do with the block.
type cacheMode uint8

const (
	cacheStatusDirty    cacheMode = 1
	cacheStatusFATBlock cacheMode = 2
	cacheStatusMask               = cacheStatusDirty | cacheStatusFATBlock
	cacheOptionNoRead   cacheMode = 4

	// cacheForRead fetches a block without changing it.
	cacheForRead cacheMode = 0
	// cacheForWrite fetches a block and marks it dirty.
	cacheForWrite = cacheStatusDirty
	// cacheReserveForWrite makes a block resident without reading it from the
	// device because the caller overwrites it completely.
	cacheReserveForWrite = cacheStatusDirty | cacheOptionNoRead
)

// noBlock is the block number of an empty cache.
const noBlock = 0xFFFFFFFF

// blockCache is the single block cache of a volume.
// Only one block is resident at any time. Fetching another block writes the
// dirty resident block first, so returned pointers are only valid until the
// next fetch of a different block.
type blockCache struct {
	dev    BlockDevice
	buffer Block
	// current is the number of the resident block or noBlock.
	current uint32
	status  cacheMode

	// Blocks of the first FAT are mirrored to the other FATs at
	// current + i*fatOffset for 0 < i < fatCount.
	fatOffset uint32
	fatCount  uint8
}

func newBlockCache(dev BlockDevice) blockCache {
	return blockCache{
		dev:     dev,
		current: noBlock,
	}
}

// fetch makes block resident and returns it.
func (c *blockCache) fetch(block uint32, mode cacheMode) (*Block, error) {
	if c.current != block {
		// If already fetched block is dirty, write it.
		if err := c.sync(); err != nil {
			return nil, err
		}

		if mode&cacheOptionNoRead == 0 {
			if err := c.dev.ReadBlock(block, c.buffer[:]); err != nil {
				// The buffer content is undefined now.
				c.current = noBlock
				c.status = 0
				return nil, checkpoint.Wrapf(err, ErrCache, "read block %d", block)
			}
		}
		c.status = 0
		c.current = block
	}

	c.status |= mode & cacheStatusMask
	return &c.buffer, nil
}

// sync writes the resident block if it is dirty. FAT blocks are written to every FAT copy.
func (c *blockCache) sync() error {
	if c.status&cacheStatusDirty == 0 {
		return nil
	}

	if err := c.dev.WriteBlock(c.current, c.buffer[:]); err != nil {
		return checkpoint.Wrapf(err, ErrCache, "write block %d", c.current)
	}

	if c.status&cacheStatusFATBlock != 0 {
		for i := uint32(1); i < uint32(c.fatCount); i++ {
			mirror := c.current + i*c.fatOffset
			if err := c.dev.WriteBlock(mirror, c.buffer[:]); err != nil {
				return checkpoint.Wrapf(err, ErrCache, "write FAT mirror block %d", mirror)
			}
		}
	}

	c.status &^= cacheStatusDirty
	return nil
}

// invalidate forgets the resident block without writing it.
func (c *blockCache) invalidate() {
	c.current = noBlock
	c.status = 0
}

// reset syncs and empties the cache, e.g. before switching the device.
func (c *blockCache) reset() error {
	err := c.sync()
	c.invalidate()
	return err
}
