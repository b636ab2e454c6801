package crypto

import "hash/crc32"

// CRC32 is the IEEE-polynomial, reflected CRC-32 the container formats
// use. The standard library's hash/crc32 already ships a slice-by-8
// accelerated implementation (see crc32.IEEETable / crc32.update), so
// there's no reason to hand-roll the polynomial table.
type CRC32 struct {
	crc uint32
}

// NewCRC32 returns a fresh incremental CRC-32/IEEE state.
func NewCRC32() *CRC32 { return &CRC32{} }

// Update folds another chunk into the running checksum, supporting
// chunked streaming.
func (c *CRC32) Update(data []byte) {
	c.crc = crc32.Update(c.crc, crc32.IEEETable, data)
}

// Sum returns the checksum accumulated so far.
func (c *CRC32) Sum() uint32 { return c.crc }

// ChecksumIEEE is the one-shot form.
func ChecksumIEEE(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
