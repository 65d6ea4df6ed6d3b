package proto

const (
	// RootInodeID is the inode of "/". It always exists and is always a directory.
	RootInodeID = uint64(1)

	ReqIdKey = "req-id"
)

type (
	InodeID  = uint64
	HandleID = uint64
	Epoch    = uint64
)
