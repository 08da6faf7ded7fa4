// Package checksum computes the 32-bit body integrity code carried in every frame header.
//
// The code is CRC-32 over the reflected IEEE polynomial (0x04C11DB7), initial value
// 0xFFFFFFFF and final xor 0xFFFFFFFF. A Table is built once and shared by reference.
package checksum

import "hash/crc32"

// Polynomial is the unreflected generator polynomial.
const Polynomial uint32 = 0x04C11DB7

// Table is an immutable 256-entry lookup table.
type Table struct {
	t *crc32.Table
}

var defaultTable = New()

// New builds a lookup table for Polynomial.
func New() *Table {
	return &Table{t: crc32.MakeTable(Reflect(Polynomial, 32))}
}

// Default returns the process-wide table built at init.
func Default() *Table {
	return defaultTable
}

// Compute folds b a byte at a time through the table.
func (t *Table) Compute(b []byte) uint32 {
	return crc32.Checksum(b, t.t)
}

// Verify reports whether b hashes to want.
func (t *Table) Verify(b []byte, want uint32) bool {
	return t.Compute(b) == want
}

// Reflect mirrors the low n bits of v.
func Reflect(v uint32, n int) uint32 {
	var out uint32
	for bit := 0; bit < n; bit++ {
		if v&1 != 0 {
			out |= 1 << uint(n-1-bit)
		}
		v >>= 1
	}
	return out
}
