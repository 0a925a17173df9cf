package sdlite

import (
	"fmt"

	"github.com/aligator/sdlite/checkpoint"
	"github.com/sirupsen/logrus"
)

// End of chain markers. Every FAT value >= the minimum marks the last cluster of a chain.
const (
	fat12EOCMin = 0xFF8
	fat16EOCMin = 0xFFF8
	fat32EOCMin = 0x0FFFFFF8

	fat32EOC  = 0x0FFFFFFF
	fat32Mask = 0x0FFFFFFF
)

func (v *Volume) checkCluster(cluster uint32) error {
	if !v.IsMounted() {
		return checkpoint.New(ErrNotMounted)
	}
	if cluster < 2 || cluster > v.geo.ClusterCount+1 {
		return checkpoint.Wrapf(ErrInvalidCluster, ErrInvalidCluster, "cluster %d, cluster count %d", cluster, v.geo.ClusterCount)
	}
	return nil
}

// fatGet returns the FAT entry of cluster.
func (v *Volume) fatGet(cluster uint32) (uint32, error) {
	if err := v.checkCluster(cluster); err != nil {
		return 0, err
	}

	switch v.geo.FATType {
	case FAT12:
		index := cluster + cluster>>1
		lba := v.geo.FATStartBlock + index>>9
		b, err := v.cacheFetchFAT(lba, cacheForRead)
		if err != nil {
			return 0, err
		}

		index &= 0x1FF
		tmp := uint32(b[index])
		index++
		// The entry may continue in the next block.
		if index == BlockSize {
			b, err = v.cacheFetchFAT(lba+1, cacheForRead)
			if err != nil {
				return 0, err
			}
			index = 0
		}
		tmp |= uint32(b[index]) << 8

		if cluster&1 == 1 {
			return tmp >> 4, nil
		}
		return tmp & 0xFFF, nil
	case FAT16:
		b, err := v.cacheFetchFAT(v.geo.FATStartBlock+cluster>>8, cacheForRead)
		if err != nil {
			return 0, err
		}
		return uint32(b.u16(int(cluster&0xFF) * 2)), nil
	case FAT32:
		b, err := v.cacheFetchFAT(v.geo.FATStartBlock+cluster>>7, cacheForRead)
		if err != nil {
			return 0, err
		}
		return b.u32(int(cluster&0x7F)*4) & fat32Mask, nil
	}

	return 0, checkpoint.Wrap(fmt.Errorf("FAT type %d", v.geo.FATType), ErrInvalidVolume)
}

// fatPut sets the FAT entry of cluster to value.
// For FAT32 the reserved upper 4 bits of the entry are kept.
func (v *Volume) fatPut(cluster, value uint32) error {
	if err := v.checkCluster(cluster); err != nil {
		return err
	}

	switch v.geo.FATType {
	case FAT12:
		index := cluster + cluster>>1
		lba := v.geo.FATStartBlock + index>>9
		b, err := v.cacheFetchFAT(lba, cacheForWrite)
		if err != nil {
			return err
		}

		index &= 0x1FF
		tmp := byte(value)
		if cluster&1 == 1 {
			tmp = b[index]&0x0F | tmp<<4
		}
		b[index] = tmp

		index++
		if index == BlockSize {
			lba++
			index = 0
			b, err = v.cacheFetchFAT(lba, cacheForWrite)
			if err != nil {
				return err
			}
		}

		tmp = byte(value >> 4)
		if cluster&1 == 0 {
			tmp = b[index]&0xF0 | tmp>>4
		}
		b[index] = tmp
		return nil
	case FAT16:
		b, err := v.cacheFetchFAT(v.geo.FATStartBlock+cluster>>8, cacheForWrite)
		if err != nil {
			return err
		}
		b.putU16(int(cluster&0xFF)*2, uint16(value))
		return nil
	case FAT32:
		b, err := v.cacheFetchFAT(v.geo.FATStartBlock+cluster>>7, cacheForWrite)
		if err != nil {
			return err
		}
		off := int(cluster&0x7F) * 4
		b.putU32(off, b.u32(off)&^fat32Mask|value&fat32Mask)
		return nil
	}

	return checkpoint.Wrap(fmt.Errorf("FAT type %d", v.geo.FATType), ErrInvalidVolume)
}

// fatPutEOC marks cluster as the last cluster of its chain.
func (v *Volume) fatPutEOC(cluster uint32) error {
	return v.fatPut(cluster, fat32EOC)
}

// isEOC reports whether a FAT value marks the end of a chain.
func (v *Volume) isEOC(value uint32) bool {
	switch v.geo.FATType {
	case FAT12:
		return value >= fat12EOCMin
	case FAT16:
		return value >= fat16EOCMin
	}
	return value >= fat32EOCMin
}

// allocContiguous searches count free consecutive clusters and chains them.
// If cluster is 0 a new chain is allocated starting the search at the free
// cluster hint. Otherwise the search starts behind cluster and the new
// clusters are linked to it.
// It returns the first new cluster.
func (v *Volume) allocContiguous(count, cluster uint32) (uint32, error) {
	if !v.IsMounted() {
		return 0, checkpoint.New(ErrNotMounted)
	}
	if count == 0 {
		return 0, checkpoint.Wrapf(ErrNoSpace, ErrNoSpace, "allocate 0 clusters")
	}

	fatEnd := v.geo.ClusterCount + 1

	var bgnCluster uint32
	setStart := false
	if cluster != 0 {
		// Try to keep the file contiguous.
		bgnCluster = cluster + 1
	} else {
		bgnCluster = v.allocSearchStart
		setStart = count == 1
	}
	endCluster := bgnCluster

	for n := uint32(0); ; n, endCluster = n+1, endCluster+1 {
		if n >= v.geo.ClusterCount {
			v.log.WithFields(logrus.Fields{
				"count":   count,
				"cluster": cluster,
			}).Debug("no contiguous free clusters")
			return 0, checkpoint.Wrapf(ErrNoSpace, ErrNoSpace, "%d contiguous clusters", count)
		}

		// Restart at the beginning of the FAT.
		if endCluster > fatEnd {
			bgnCluster, endCluster = 2, 2
		}

		f, err := v.fatGet(endCluster)
		if err != nil {
			return 0, err
		}

		if f != 0 {
			bgnCluster = endCluster + 1
		} else if endCluster-bgnCluster+1 == count {
			break
		}
	}

	if err := v.fatPutEOC(endCluster); err != nil {
		return 0, err
	}

	for ; endCluster > bgnCluster; endCluster-- {
		if err := v.fatPut(endCluster-1, endCluster); err != nil {
			return 0, err
		}
	}

	if cluster != 0 {
		if err := v.fatPut(cluster, bgnCluster); err != nil {
			return 0, err
		}
	}

	if setStart {
		v.allocSearchStart = bgnCluster + 1
	}

	return bgnCluster, nil
}

// FreeClusterCount counts the free entries of the FAT.
func (v *Volume) FreeClusterCount() (uint32, error) {
	if !v.IsMounted() {
		return 0, checkpoint.New(ErrNotMounted)
	}

	var free uint32
	for c := uint32(2); c <= v.geo.ClusterCount+1; c++ {
		f, err := v.fatGet(c)
		if err != nil {
			return 0, err
		}
		if f == 0 {
			free++
		}
	}
	return free, nil
}
