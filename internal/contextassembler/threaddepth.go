package contextassembler

// threadRootBytes is the length of the root marker at the start of every
// conversation index; each reply level after it is threadLevelBytes long.
const (
	threadRootBytes  = 22
	threadLevelBytes = 5
)

// DepthFromIndex computes a message's position in its thread from the mail
// provider's opaque conversation-index byte string: the first 22 bytes are
// the thread root, and each subsequent 5-byte group is one reply level.
// depth(concat(root22, levels*5B)) == len(levels), and a short or empty
// index is treated as thread root (depth 0).
func DepthFromIndex(index []byte) int {
	n := len(index) - threadRootBytes
	if n <= 0 {
		return 0
	}
	return n / threadLevelBytes
}
