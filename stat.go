package sdlite

import (
	"os"
	"time"
)

// FileInfo returns the entry as os.FileInfo.
func (e EntryHeader) FileInfo() os.FileInfo {
	return entryHeaderFileInfo{e}
}

type entryHeaderFileInfo struct {
	entry EntryHeader
}

func (e entryHeaderFileInfo) Name() string {
	return shortName(e.entry.Name)
}

// Size returns the size of the file. It is always 0 for directories as their
// entry does not contain a size.
func (e entryHeaderFileInfo) Size() int64 {
	return int64(e.entry.FileSize)
}

func (e entryHeaderFileInfo) Mode() os.FileMode {
	mode := os.FileMode(0o666)
	if e.entry.Attribute&AttrReadOnly != 0 {
		mode = 0o444
	}

	if e.IsDir() {
		return mode | 0o111 | os.ModeDir
	}
	return mode
}

func (e entryHeaderFileInfo) ModTime() time.Time {
	// An invalid date results in time.Time{}.
	return ParseDateTime(e.entry.WriteDate, e.entry.WriteTime)
}

func (e entryHeaderFileInfo) IsDir() bool {
	return e.entry.Attribute&AttrDirectory == AttrDirectory
}

// Sys returns the EntryHeader.
func (e entryHeaderFileInfo) Sys() interface{} {
	return e.entry
}
