// Package protocol owns the AT wire contract and the pack/unpack engine.
//
// Ownership boundary:
// - checksum/ body integrity code
// - frame/ fixed header primitives
// - transport/ full-buffer send and receive
// - payload/ call and result body encoding
// - engine: sequence allocation, pack/unpack, message read/write
//
// Wire layout (all integers big-endian):
//
//	offset 0  : uint16 protocol_tag (0x4154)
//	offset 2  : uint16 flags (REQUEST=0x1 RESPONSE=0x2 ERROR=0x4)
//	offset 4  : uint32 sequence
//	offset 8  : uint32 body_length
//	offset 12 : uint32 checksum over body
//	offset 16 : body
package protocol
