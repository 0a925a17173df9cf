// File model contains the structs which match the direct structures of the FAT filesystem
// and the functions to decode them from and encode them into a cached Block.

package sdlite

import (
	"bytes"
	"encoding/binary"
)

// Block is one 512 byte unit of the device. The volume cache holds exactly one Block
// which is viewed as raw data, FAT12/16/32 entries, directory entries, MBR or boot
// sector depending on what is resident.
type Block [BlockSize]byte

func (b *Block) u16(off int) uint16 {
	return binary.LittleEndian.Uint16(b[off:])
}

func (b *Block) u32(off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

func (b *Block) putU16(off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:], v)
}

func (b *Block) putU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}

// entry returns the raw bytes of the directory entry with the given index (0-15).
func (b *Block) entry(index uint8) []byte {
	off := int(index&0xF) * DirEntrySize
	return b[off : off+DirEntrySize]
}

// Boot sector and MBR signature at offset 510.
const (
	bootSignatureOffset = 0x1FE
	bootSignature       = 0xAA55
)

// BPB is the BIOS parameter block at the start of every FAT boot sector.
type BPB struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSpecificData     [54]byte
}

type FAT16SpecificData struct {
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

type FAT32SpecificData struct {
	FATSize          uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfo           uint16
	BkBootSector     uint16
	Reserved         [12]byte
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// decodeBPB reads the BPB and the FAT32 specific part from a boot sector block.
// The FAT32 part is garbage for FAT12/16 volumes; only use it if FATSize16 is 0.
func decodeBPB(b *Block) (BPB, FAT32SpecificData, error) {
	bpb := BPB{}
	if err := binary.Read(bytes.NewReader(b[:]), binary.LittleEndian, &bpb); err != nil {
		return BPB{}, FAT32SpecificData{}, err
	}

	fat32 := FAT32SpecificData{}
	if err := binary.Read(bytes.NewReader(bpb.FATSpecificData[:]), binary.LittleEndian, &fat32); err != nil {
		return BPB{}, FAT32SpecificData{}, err
	}
	return bpb, fat32, nil
}

// encodeBPB writes bpb followed by its FAT specific data into the boot sector block.
func encodeBPB(b *Block, bpb BPB, specific interface{}) error {
	data := new(bytes.Buffer)
	if err := binary.Write(data, binary.LittleEndian, specific); err != nil {
		return err
	}
	copy(bpb.FATSpecificData[:], data.Bytes())

	data.Reset()
	if err := binary.Write(data, binary.LittleEndian, bpb); err != nil {
		return err
	}
	copy(b[:], data.Bytes())
	b.putU16(bootSignatureOffset, bootSignature)
	return nil
}

// PartitionEntry is one of the four entries of the MBR partition table.
type PartitionEntry struct {
	Boot         byte
	Type         byte
	FirstSector  uint32
	TotalSectors uint32
}

const partitionTableOffset = 0x1BE

// decodePartition returns the partition entry with the given number (1-4).
func decodePartition(b *Block, part int) PartitionEntry {
	off := partitionTableOffset + (part-1)*16
	return PartitionEntry{
		Boot:         b[off],
		Type:         b[off+4],
		FirstSector:  b.u32(off + 8),
		TotalSectors: b.u32(off + 12),
	}
}

func encodePartition(b *Block, part int, p PartitionEntry) {
	off := partitionTableOffset + (part-1)*16
	b[off] = p.Boot
	b[off+4] = p.Type
	b.putU32(off+8, p.FirstSector)
	b.putU32(off+12, p.TotalSectors)
}

// Directory entry attributes.
const (
	AttrReadOnly  byte = 0x01
	AttrHidden    byte = 0x02
	AttrSystem    byte = 0x04
	AttrVolumeID  byte = 0x08
	AttrDirectory byte = 0x10
	AttrArchive   byte = 0x20
	AttrLongName       = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// First name byte of unused directory entries.
const (
	// dirNameFree marks a free entry; no used entries follow it.
	dirNameFree byte = 0x00
	// dirNameDeleted marks a deleted entry.
	dirNameDeleted byte = 0xE5
)

const (
	// DirEntrySize is the size of one directory entry in bytes.
	DirEntrySize = 32
	// dirEntriesPerBlock is the number of directory entries in one block.
	dirEntriesPerBlock = BlockSize / DirEntrySize
)

// EntryHeader is the 32 byte short name directory entry.
type EntryHeader struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

func decodeEntry(raw []byte) EntryHeader {
	e := EntryHeader{}
	copy(e.Name[:], raw[0:11])
	e.Attribute = raw[11]
	e.NTReserved = raw[12]
	e.CreateTimeTenth = raw[13]
	e.CreateTime = binary.LittleEndian.Uint16(raw[14:])
	e.CreateDate = binary.LittleEndian.Uint16(raw[16:])
	e.LastAccessDate = binary.LittleEndian.Uint16(raw[18:])
	e.FirstClusterHI = binary.LittleEndian.Uint16(raw[20:])
	e.WriteTime = binary.LittleEndian.Uint16(raw[22:])
	e.WriteDate = binary.LittleEndian.Uint16(raw[24:])
	e.FirstClusterLO = binary.LittleEndian.Uint16(raw[26:])
	e.FileSize = binary.LittleEndian.Uint32(raw[28:])
	return e
}

func (e *EntryHeader) encode(raw []byte) {
	copy(raw[0:11], e.Name[:])
	raw[11] = e.Attribute
	raw[12] = e.NTReserved
	raw[13] = e.CreateTimeTenth
	binary.LittleEndian.PutUint16(raw[14:], e.CreateTime)
	binary.LittleEndian.PutUint16(raw[16:], e.CreateDate)
	binary.LittleEndian.PutUint16(raw[18:], e.LastAccessDate)
	binary.LittleEndian.PutUint16(raw[20:], e.FirstClusterHI)
	binary.LittleEndian.PutUint16(raw[22:], e.WriteTime)
	binary.LittleEndian.PutUint16(raw[24:], e.WriteDate)
	binary.LittleEndian.PutUint16(raw[26:], e.FirstClusterLO)
	binary.LittleEndian.PutUint32(raw[28:], e.FileSize)
}

// FirstCluster joins the high and low cluster fields.
func (e *EntryHeader) FirstCluster() uint32 {
	return uint32(e.FirstClusterHI)<<16 | uint32(e.FirstClusterLO)
}

func (e *EntryHeader) setFirstCluster(cluster uint32) {
	e.FirstClusterHI = uint16(cluster >> 16)
	e.FirstClusterLO = uint16(cluster)
}

// IsFree reports whether the entry is free or deleted and may be reused.
func (e *EntryHeader) IsFree() bool {
	return e.Name[0] == dirNameFree || e.Name[0] == dirNameDeleted
}

// IsFile reports whether the entry is a regular file.
func (e *EntryHeader) IsFile() bool {
	return e.Attribute&(AttrDirectory|AttrVolumeID) == 0
}

// IsSubdir reports whether the entry is a subdirectory.
func (e *EntryHeader) IsSubdir() bool {
	return e.Attribute&(AttrDirectory|AttrVolumeID) == AttrDirectory
}

// IsLongName reports whether the entry is part of a long file name.
func (e *EntryHeader) IsLongName() bool {
	return e.Attribute&AttrLongName == AttrLongName
}
