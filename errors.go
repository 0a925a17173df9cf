package sdlite

import "errors"

// Errors of the volume layer.
var (
	ErrNotMounted      = errors.New("volume is not mounted")
	ErrInvalidVolume   = errors.New("no valid FAT volume")
	ErrInvalidPart     = errors.New("invalid partition")
	ErrInvalidCluster  = errors.New("cluster out of range")
	ErrNoSpace         = errors.New("no free clusters")
	ErrCache           = errors.New("could not access the block cache")
	ErrInvalidGeometry = errors.New("invalid volume geometry")
)

// Errors of file and directory handles.
var (
	ErrNotOpen      = errors.New("file is not open")
	ErrAlreadyOpen  = errors.New("file is already open")
	ErrInvalidName  = errors.New("invalid 8.3 file name")
	ErrNotFound     = errors.New("file does not exist")
	ErrExist        = errors.New("file already exists")
	ErrReadOnly     = errors.New("file is read-only or a directory")
	ErrPermission   = errors.New("file was not opened with the required access")
	ErrNotDir       = errors.New("not a directory")
	ErrIsDir        = errors.New("is a directory")
	ErrDirFull      = errors.New("directory cannot grow")
	ErrCorruptDir   = errors.New("directory exceeds the size limit")
	ErrSeek         = errors.New("could not seek inside of the file")
	ErrReadFile     = errors.New("could not read file")
	ErrWriteFile    = errors.New("could not write file")
	ErrSyncFile     = errors.New("could not sync file")
	ErrEntryDeleted = errors.New("directory entry was deleted")
	ErrNotSupported = errors.New("operation not supported")
)
