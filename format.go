package sdlite

import (
	"encoding/binary"
	"fmt"

	"github.com/aligator/sdlite/checkpoint"
	"github.com/sirupsen/logrus"
)

// Layout controls Format. The zero value formats the whole device without
// partition table and picks the FAT type and cluster size from its size.
type Layout struct {
	// FATType is 12, 16 or 32. 0 selects it by the volume size.
	FATType uint8
	// BlocksPerCluster has to be a power of two up to 128. 0 selects the
	// smallest value which results in a valid cluster count.
	BlocksPerCluster uint8
	// FATCount defaults to 2.
	FATCount uint8
	// RootEntries is the size of the FAT12/16 root directory, default 512.
	RootEntries uint16

	// Partition writes an MBR with a single partition 1.
	Partition bool
	// PartitionStart is the first block of the partition. 0 aligns it to 2048
	// blocks or, for small devices, starts it at block 63.
	PartitionStart uint32

	Label    string
	OEMName  string
	VolumeID uint32
}

const (
	mediaFixed = 0xF8

	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000
	fsInfoUnknown         = 0xFFFFFFFF

	fat32BackupBootBlock = 6
)

// Format writes an empty FAT volume to dev, which has totalBlocks blocks.
// It fails with ErrInvalidGeometry if the requested layout does not result in
// a cluster count of the requested FAT type.
func Format(dev BlockDevice, totalBlocks uint32, layout Layout, opts ...Option) (Geometry, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var volumeStart uint32
	if layout.Partition {
		volumeStart = layout.PartitionStart
		if volumeStart == 0 {
			volumeStart = 2048
			if totalBlocks < 16*2048 {
				volumeStart = 63
			}
		}
		if volumeStart+100 > totalBlocks {
			return Geometry{}, checkpoint.Wrapf(ErrInvalidGeometry, ErrInvalidGeometry, "partition at %d of %d blocks", volumeStart, totalBlocks)
		}
	}
	volumeBlocks := totalBlocks - volumeStart

	geo, err := computeLayout(volumeBlocks, layout)
	if err != nil {
		return Geometry{}, err
	}
	geo.VolumeStartBlock = volumeStart
	geo.FATStartBlock += volumeStart
	geo.DataStartBlock += volumeStart
	if geo.FATType != FAT32 {
		geo.RootDirStart += volumeStart
	}

	w := blockWriter{dev: dev}

	if layout.Partition {
		w.writeMBR(geo, volumeBlocks)
	}
	w.writeBootSector(geo, volumeBlocks, layout)

	// Clear the rest of the reserved area, but keep FSInfo and the backup boot sector.
	reserved := geo.FATStartBlock - volumeStart
	for i := uint32(1); i < reserved; i++ {
		if geo.FATType == FAT32 && (i == 1 || i == fat32BackupBootBlock) {
			continue
		}
		w.zero(volumeStart + i)
	}

	for n := uint32(0); n < uint32(geo.FATCount); n++ {
		start := geo.FATStartBlock + n*geo.BlocksPerFAT
		w.writeFATStart(geo, start)
		for i := uint32(1); i < geo.BlocksPerFAT; i++ {
			w.zero(start + i)
		}
	}

	rootStart := geo.RootDirStart
	rootBlocks := geo.DataStartBlock - geo.RootDirStart
	if geo.FATType == FAT32 {
		rootStart = geo.DataStartBlock
		rootBlocks = uint32(geo.BlocksPerCluster)
	}
	w.writeRoot(rootStart, rootBlocks, layout.Label)

	if w.err != nil {
		return Geometry{}, w.err
	}

	o.log.WithFields(logrus.Fields{
		"fatType":          geo.FATType,
		"blocksPerCluster": geo.BlocksPerCluster,
		"clusterCount":     geo.ClusterCount,
		"volumeStart":      volumeStart,
	}).Debug("volume formatted")
	return geo, nil
}

// computeLayout calculates the geometry relative to the volume start.
// The FAT size depends on the cluster count which depends on the FAT size, so
// it is iterated until the FAT is large enough.
func computeLayout(volumeBlocks uint32, layout Layout) (Geometry, error) {
	geo := Geometry{
		FATType:           layout.FATType,
		FATCount:          layout.FATCount,
		RootDirEntryCount: layout.RootEntries,
	}
	if geo.FATCount == 0 {
		geo.FATCount = 2
	}

	if geo.FATType == 0 {
		switch {
		case volumeBlocks < 16*1024:
			geo.FATType = FAT12
		case volumeBlocks < 4*1024*1024:
			geo.FATType = FAT16
		default:
			geo.FATType = FAT32
		}
	}

	var reserved uint32 = 1
	switch geo.FATType {
	case FAT12, FAT16:
		if geo.RootDirEntryCount == 0 {
			geo.RootDirEntryCount = 512
		}
	case FAT32:
		reserved = 32
		geo.RootDirEntryCount = 0
	default:
		return Geometry{}, checkpoint.Wrapf(ErrInvalidGeometry, ErrInvalidGeometry, "FAT type %d", geo.FATType)
	}
	rootBlocks := (DirEntrySize*uint32(geo.RootDirEntryCount) + BlockSize - 1) / BlockSize

	candidates := []uint8{layout.BlocksPerCluster}
	if layout.BlocksPerCluster == 0 {
		candidates = []uint8{1, 2, 4, 8, 16, 32, 64, 128}
		// 4 KiB clusters keep the FAT of large FAT32 volumes small.
		if geo.FATType == FAT32 && volumeBlocks >= 532480 {
			candidates = candidates[3:]
		}
	}

	var lastErr error
	for _, spc := range candidates {
		g := geo
		g.BlocksPerCluster = spc
		g.ClusterSizeShift = 0
		for spc != 1<<g.ClusterSizeShift {
			g.ClusterSizeShift++
			if g.ClusterSizeShift > 7 {
				return Geometry{}, checkpoint.Wrapf(ErrInvalidGeometry, ErrInvalidGeometry, "blocks per cluster %d", spc)
			}
		}

		g.BlocksPerFAT = 1
		for {
			meta := reserved + uint32(g.FATCount)*g.BlocksPerFAT + rootBlocks
			if meta >= volumeBlocks {
				return Geometry{}, checkpoint.Wrapf(ErrInvalidGeometry, ErrInvalidGeometry, "%d blocks are too small", volumeBlocks)
			}
			g.ClusterCount = (volumeBlocks - meta) >> g.ClusterSizeShift

			need := fatBlocks(g.FATType, g.ClusterCount)
			if need <= g.BlocksPerFAT {
				break
			}
			g.BlocksPerFAT = need
		}

		if derived := fatTypeOf(g.ClusterCount); derived != g.FATType {
			lastErr = checkpoint.Wrap(fmt.Errorf("%d clusters of %d blocks result in FAT%d", g.ClusterCount, spc, derived), ErrInvalidGeometry)
			continue
		}

		g.FATStartBlock = reserved
		g.RootDirStart = reserved + uint32(g.FATCount)*g.BlocksPerFAT
		g.DataStartBlock = g.RootDirStart + rootBlocks
		if g.FATType == FAT32 {
			g.RootDirStart = 2
		}
		return g, nil
	}
	return Geometry{}, lastErr
}

// fatBlocks returns the number of blocks of one FAT with clusters entries and
// the two reserved entries.
func fatBlocks(fatType uint8, clusters uint32) uint32 {
	entries := clusters + 2
	var size uint32
	switch fatType {
	case FAT12:
		size = (entries*3 + 1) / 2
	case FAT16:
		size = entries * 2
	default:
		size = entries * 4
	}
	return (size + BlockSize - 1) / BlockSize
}

func fatTypeOf(clusters uint32) uint8 {
	switch {
	case clusters < fat12MaxClusters:
		return FAT12
	case clusters < fat16MaxClusters:
		return FAT16
	}
	return FAT32
}

// blockWriter remembers the first error so the format steps can be written without checks.
type blockWriter struct {
	dev BlockDevice
	b   Block
	err error
}

func (w *blockWriter) write(block uint32) {
	if w.err != nil {
		return
	}
	if err := w.dev.WriteBlock(block, w.b[:]); err != nil {
		w.err = checkpoint.Wrapf(err, ErrInvalidGeometry, "write block %d", block)
	}
}

func (w *blockWriter) zero(block uint32) {
	w.b = Block{}
	w.write(block)
}

func (w *blockWriter) writeMBR(geo Geometry, volumeBlocks uint32) {
	w.b = Block{}

	partType := byte(0x0C)
	switch geo.FATType {
	case FAT12:
		partType = 0x01
	case FAT16:
		partType = 0x06
		if volumeBlocks < 0x10000 {
			partType = 0x04
		}
	}

	encodePartition(&w.b, 1, PartitionEntry{
		Type:         partType,
		FirstSector:  geo.VolumeStartBlock,
		TotalSectors: volumeBlocks,
	})
	w.b.putU16(bootSignatureOffset, bootSignature)
	w.write(0)
}

func (w *blockWriter) writeBootSector(geo Geometry, volumeBlocks uint32, layout Layout) {
	bpb := BPB{
		BSJumpBoot:          [3]byte{0xEB, 0x3C, 0x90},
		BytesPerSector:      BlockSize,
		SectorsPerCluster:   geo.BlocksPerCluster,
		ReservedSectorCount: uint16(geo.FATStartBlock - geo.VolumeStartBlock),
		NumFATs:             geo.FATCount,
		RootEntryCount:      geo.RootDirEntryCount,
		Media:               mediaFixed,
		SectorsPerTrack:     63,
		NumberOfHeads:       255,
		HiddenSectors:       geo.VolumeStartBlock,
	}
	copy(bpb.BSOEMName[:], padName(layout.OEMName, "SDLITE", 8))

	if volumeBlocks < 0x10000 && geo.FATType != FAT32 {
		bpb.TotalSectors16 = uint16(volumeBlocks)
	} else {
		bpb.TotalSectors32 = volumeBlocks
	}

	var label [11]byte
	copy(label[:], padName(layout.Label, "NO NAME", 11))

	var specific interface{}
	if geo.FATType == FAT32 {
		bpb.BSJumpBoot[1] = 0x58
		s := FAT32SpecificData{
			FATSize:         geo.BlocksPerFAT,
			RootCluster:     geo.RootDirStart,
			FSInfo:          1,
			BkBootSector:    fat32BackupBootBlock,
			BSDriveNumber:   0x80,
			BSBootSignature: 0x29,
			BSVolumeID:      layout.VolumeID,
			BSVolumeLabel:   label,
		}
		copy(s.BSFileSystemType[:], "FAT32   ")
		specific = s
	} else {
		bpb.FATSize16 = uint16(geo.BlocksPerFAT)
		s := FAT16SpecificData{
			BSDriveNumber:   0x80,
			BSBootSignature: 0x29,
			BSVolumeID:      layout.VolumeID,
			BSVolumeLabel:   label,
		}
		copy(s.BSFileSystemType[:], fmt.Sprintf("FAT%d   ", geo.FATType))
		specific = s
	}

	w.b = Block{}
	if err := encodeBPB(&w.b, bpb, specific); err != nil {
		if w.err == nil {
			w.err = checkpoint.Wrap(err, ErrInvalidGeometry)
		}
		return
	}
	w.write(geo.VolumeStartBlock)

	if geo.FATType == FAT32 {
		w.write(geo.VolumeStartBlock + fat32BackupBootBlock)

		w.b = Block{}
		w.b.putU32(0, fsInfoLeadSignature)
		w.b.putU32(484, fsInfoStructSignature)
		w.b.putU32(488, fsInfoUnknown)
		w.b.putU32(492, fsInfoUnknown)
		w.b.putU32(508, fsInfoTrailSignature)
		w.write(geo.VolumeStartBlock + 1)
	}
}

// writeFATStart writes the first block of a FAT with the reserved entries
// and, for FAT32, the end of chain of the root directory.
func (w *blockWriter) writeFATStart(geo Geometry, block uint32) {
	w.b = Block{}
	switch geo.FATType {
	case FAT12:
		w.b[0], w.b[1], w.b[2] = mediaFixed, 0xFF, 0xFF
	case FAT16:
		binary.LittleEndian.PutUint16(w.b[0:], 0xFF00|mediaFixed)
		binary.LittleEndian.PutUint16(w.b[2:], 0xFFFF)
	case FAT32:
		w.b.putU32(0, 0x0FFFFF00|mediaFixed)
		w.b.putU32(4, fat32EOC)
		w.b.putU32(8, fat32EOC)
	}
	w.write(block)
}

func (w *blockWriter) writeRoot(start, blocks uint32, label string) {
	for i := uint32(0); i < blocks; i++ {
		w.b = Block{}
		if i == 0 && label != "" {
			entry := EntryHeader{
				Attribute:  AttrVolumeID,
				WriteDate:  DefaultDate,
				WriteTime:  DefaultTime,
				CreateDate: DefaultDate,
				CreateTime: DefaultTime,
			}
			copy(entry.Name[:], padName(label, "", 11))
			entry.encode(w.b.entry(0))
		}
		w.write(start + i)
	}
}

// padName returns name, or def if name is empty, upper case and blank padded to n bytes.
func padName(name, def string, n int) []byte {
	if name == "" {
		name = def
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
		if i < len(name) {
			c := name[i]
			if c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
			b[i] = c
		}
	}
	return b
}
