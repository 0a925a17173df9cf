package sdlite

// BlockSize is the only block and sector size supported by the driver.
const BlockSize = 512

// BlockDevice is the storage a Volume lives on. Each call transfers exactly one
// 512 byte block; block numbers are logical block indexes regardless of the
// addressing mode of the underlying card.
//
// ReadStart, ReadData and ReadStop stream consecutive blocks without the per-block
// command overhead of ReadBlock:
//  dev.ReadStart(17)
//  dev.ReadData(buf[0:512])    // block 17
//  dev.ReadData(buf[512:1024]) // block 18
//  dev.ReadStop()
//
// Generated mock using mockgen:
//  mockgen -source=device.go -destination=device_mock_test.go -package sdlite
type BlockDevice interface {
	ReadBlock(block uint32, dst []byte) error
	WriteBlock(block uint32, src []byte) error
	ReadStart(block uint32) error
	ReadData(dst []byte) error
	ReadStop() error
}
