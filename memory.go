package flowbridge

// Memory is a view of a guest's linear memory (wasm32, little endian).
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// Allocator hands out blocks of guest memory through the guest's own
// malloc and free.
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	Free(ptr uint32)
}
