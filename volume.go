package sdlite

import (
	"fmt"

	"github.com/aligator/sdlite/checkpoint"
	"github.com/sirupsen/logrus"
)

// FAT types as returned by Geometry.FATType.
const (
	FAT12 = 12
	FAT16 = 16
	FAT32 = 32
)

// Cluster count limits which decide the FAT type.
const (
	fat12MaxClusters = 4085
	fat16MaxClusters = 65525
)

// Geometry contains the layout of a mounted volume.
type Geometry struct {
	// FATType is 12, 16 or 32. It is 0 if no volume is mounted.
	FATType          uint8
	BlocksPerCluster uint8
	// ClusterSizeShift converts a cluster count into a block count.
	ClusterSizeShift uint8
	FATCount         uint8
	BlocksPerFAT     uint32
	FATStartBlock    uint32
	// RootDirEntryCount is the size of the fixed FAT12/16 root directory. 0 for FAT32.
	RootDirEntryCount uint16
	// RootDirStart is the first block of the root directory for FAT12/16 and
	// its first cluster for FAT32.
	RootDirStart   uint32
	DataStartBlock uint32
	ClusterCount   uint32
	// VolumeStartBlock is the first block of the partition.
	VolumeStartBlock uint32
}

// ClusterSize returns the size of one cluster in bytes.
func (g Geometry) ClusterSize() uint32 {
	return uint32(g.BlocksPerCluster) * BlockSize
}

// Volume manages a FAT volume: its geometry, the single block cache and the FAT.
type Volume struct {
	dev   BlockDevice
	cache blockCache
	geo   Geometry

	// allocSearchStart is the cluster to start searching free clusters.
	allocSearchStart uint32

	opts options
	log  logrus.FieldLogger
}

// NewVolume returns an unmounted volume.
func NewVolume(opts ...Option) *Volume {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Volume{
		cache: newBlockCache(nil),
		opts:  o,
		log:   o.log,
	}
}

// Mount mounts partition part (1-4) of dev, or the volume without partition
// table if part is PartitionNone.
func Mount(dev BlockDevice, part int, opts ...Option) (*Volume, error) {
	v := NewVolume(opts...)
	if err := v.Init(dev, part); err != nil {
		return nil, err
	}
	return v, nil
}

// MountAuto mounts partition 1 of dev or, if that fails, the volume without partition table.
func MountAuto(dev BlockDevice, opts ...Option) (*Volume, error) {
	v := NewVolume(opts...)
	if err := v.InitAuto(dev); err != nil {
		return nil, err
	}
	return v, nil
}

// InitAuto tries partition 1 first and then the volume without partition table.
func (v *Volume) InitAuto(dev BlockDevice) error {
	if err := v.Init(dev, 1); err == nil {
		return nil
	}
	return v.Init(dev, PartitionNone)
}

// Init mounts partition part (1-4) of dev, or a volume without partition table
// if part is PartitionNone.
// The geometry is only set if the whole boot sector is valid. On failure the
// volume is left unmounted.
func (v *Volume) Init(dev BlockDevice, part int) error {
	// Flush what belongs to a previous device, if any.
	if v.cache.dev != nil {
		_ = v.cache.reset()
	}
	v.dev = dev
	v.geo = Geometry{}
	v.cache = newBlockCache(dev)

	geo, err := v.readGeometry(part)
	if err != nil {
		v.log.WithFields(logrus.Fields{"partition": part}).Debugf("mount failed: %v", err)
		return err
	}

	v.geo = geo
	v.allocSearchStart = 2
	v.cache.fatOffset = geo.BlocksPerFAT
	v.cache.fatCount = geo.FATCount

	v.log.WithFields(logrus.Fields{
		"partition":        part,
		"fatType":          geo.FATType,
		"blocksPerCluster": geo.BlocksPerCluster,
		"clusterCount":     geo.ClusterCount,
		"fatStart":         geo.FATStartBlock,
		"dataStart":        geo.DataStartBlock,
	}).Debug("volume mounted")
	return nil
}

func (v *Volume) readGeometry(part int) (Geometry, error) {
	if part < 0 || part > 4 {
		return Geometry{}, checkpoint.Wrapf(ErrInvalidPart, ErrInvalidPart, "partition %d", part)
	}

	var volumeStart uint32
	if part > 0 {
		b, err := v.cache.fetch(0, cacheForRead)
		if err != nil {
			return Geometry{}, checkpoint.Wrap(err, ErrInvalidPart)
		}
		p := decodePartition(b, part)
		if p.Boot&0x7F != 0 || p.TotalSectors < 100 || p.FirstSector == 0 {
			return Geometry{}, checkpoint.Wrap(fmt.Errorf("partition %d: %+v", part, p), ErrInvalidPart)
		}
		volumeStart = p.FirstSector
	}

	b, err := v.cache.fetch(volumeStart, cacheForRead)
	if err != nil {
		return Geometry{}, checkpoint.Wrap(err, ErrInvalidVolume)
	}

	bpb, fat32, err := decodeBPB(b)
	if err != nil {
		return Geometry{}, checkpoint.Wrap(err, ErrInvalidVolume)
	}

	if bpb.BytesPerSector != BlockSize ||
		bpb.NumFATs == 0 ||
		bpb.ReservedSectorCount == 0 ||
		bpb.SectorsPerCluster == 0 {
		return Geometry{}, checkpoint.Wrap(fmt.Errorf("bytes per sector %d, FATs %d, reserved sectors %d, sectors per cluster %d",
			bpb.BytesPerSector, bpb.NumFATs, bpb.ReservedSectorCount, bpb.SectorsPerCluster), ErrInvalidVolume)
	}

	geo := Geometry{
		VolumeStartBlock: volumeStart,
		FATCount:         bpb.NumFATs,
		BlocksPerCluster: bpb.SectorsPerCluster,
	}

	// Sectors per cluster has to be a power of two, at most 128.
	for geo.BlocksPerCluster != 1<<geo.ClusterSizeShift {
		geo.ClusterSizeShift++
		if geo.ClusterSizeShift > 7 {
			return Geometry{}, checkpoint.Wrap(fmt.Errorf("sectors per cluster %d", bpb.SectorsPerCluster), ErrInvalidVolume)
		}
	}

	geo.BlocksPerFAT = uint32(bpb.FATSize16)
	if geo.BlocksPerFAT == 0 {
		geo.BlocksPerFAT = fat32.FATSize
	}

	geo.FATStartBlock = volumeStart + uint32(bpb.ReservedSectorCount)
	geo.RootDirEntryCount = bpb.RootEntryCount
	geo.RootDirStart = geo.FATStartBlock + uint32(bpb.NumFATs)*geo.BlocksPerFAT
	geo.DataStartBlock = geo.RootDirStart + (DirEntrySize*uint32(bpb.RootEntryCount)+BlockSize-1)/BlockSize

	totalBlocks := uint32(bpb.TotalSectors16)
	if totalBlocks == 0 {
		totalBlocks = bpb.TotalSectors32
	}

	if totalBlocks < geo.DataStartBlock-volumeStart {
		return Geometry{}, checkpoint.Wrap(fmt.Errorf("total sectors %d smaller than the metadata", totalBlocks), ErrInvalidVolume)
	}
	geo.ClusterCount = (totalBlocks - (geo.DataStartBlock - volumeStart)) >> geo.ClusterSizeShift

	switch {
	case geo.ClusterCount < fat12MaxClusters:
		geo.FATType = FAT12
	case geo.ClusterCount < fat16MaxClusters:
		geo.FATType = FAT16
	default:
		geo.FATType = FAT32
		geo.RootDirStart = fat32.RootCluster
	}

	return geo, nil
}

// Geometry returns the layout of the mounted volume.
func (v *Volume) Geometry() Geometry {
	return v.geo
}

// FATType returns 12, 16 or 32, or 0 if the volume is not mounted.
func (v *Volume) FATType() uint8 {
	return v.geo.FATType
}

// Device returns the block device of the volume.
func (v *Volume) Device() BlockDevice {
	return v.dev
}

// IsMounted reports whether Init succeeded.
func (v *Volume) IsMounted() bool {
	return v.geo.FATType != 0
}

// Sync writes the cached block if it is dirty.
func (v *Volume) Sync() error {
	if !v.IsMounted() {
		return checkpoint.New(ErrNotMounted)
	}
	return v.cacheSync()
}

func (v *Volume) cacheFetch(block uint32, mode cacheMode) (*Block, error) {
	return v.cache.fetch(block, mode)
}

func (v *Volume) cacheFetchFAT(block uint32, mode cacheMode) (*Block, error) {
	return v.cache.fetch(block, mode|cacheStatusFATBlock)
}

func (v *Volume) cacheSync() error {
	return v.cache.sync()
}

func (v *Volume) cacheInvalidate() {
	v.cache.invalidate()
}

func (v *Volume) cacheBlockNumber() uint32 {
	return v.cache.current
}

// cacheBlock returns the resident block without fetching anything.
func (v *Volume) cacheBlock() *Block {
	return &v.cache.buffer
}

func (v *Volume) limits() *options {
	return &v.opts
}

// clusterStartBlock returns the first block of a data cluster.
func (v *Volume) clusterStartBlock(cluster uint32) uint32 {
	return v.geo.DataStartBlock + (cluster-2)<<v.geo.ClusterSizeShift
}

// blockOfCluster returns the index of the block inside its cluster for a byte position.
func (v *Volume) blockOfCluster(position uint32) uint8 {
	return uint8((position >> 9) & uint32(v.geo.BlocksPerCluster-1))
}
