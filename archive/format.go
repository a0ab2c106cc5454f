package archive

import (
	"encoding/binary"
	"time"
)

// Record signatures.
const (
	localHeaderSignature     = 0x04034b50
	dataDescriptorSignature  = 0x08074b50
	centralHeaderSignature   = 0x02014b50
	endOfCentralDirSignature = 0x06054b50
)

// Fixed record sizes, excluding variable-length name, extra and comment fields.
const (
	localHeaderLen     = 30
	dataDescriptorLen  = 16
	centralHeaderLen   = 46
	endOfCentralDirLen = 22
)

const (
	// MethodStored is the only compression method written: no compression.
	MethodStored = 0

	// FlagDataDescriptor marks CRC and sizes as following the entry data.
	FlagDataDescriptor = 0x0008
	// FlagUTF8 marks the entry name as UTF-8.
	FlagUTF8 = 0x0800

	// 2.0 is the minimum version supporting data descriptors.
	versionNeeded = 20
	// unix host, spec version 2.0
	versionMadeBy = 3<<8 | versionNeeded

	// regular file, rw-r--r--
	externalAttrs = 0o100644 << 16

	uint16max = 1<<16 - 1
	uint32max = 1<<32 - 1
)

// defaultModTime is the DOS epoch. Using a fixed time keeps archives
// byte-identical across runs with identical inputs.
var defaultModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// dosTime converts t into MS-DOS date and time fields.
// Times before 1980 clamp to the DOS epoch.
func dosTime(t time.Time) (dosDate, dosClock uint16) {
	if t.Year() < 1980 {
		t = defaultModTime
	}
	dosDate = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	dosClock = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return dosDate, dosClock
}

// entryFlags returns the general-purpose flags for an entry name.
func entryFlags(name string) uint16 {
	flags := uint16(FlagDataDescriptor)
	for i := 0; i < len(name); i++ {
		if name[i] >= 0x80 {
			flags |= FlagUTF8
			break
		}
	}
	return flags
}

// buffer is a little-endian append helper for record encoding.
type buffer []byte

func (b *buffer) uint16(v uint16) { *b = binary.LittleEndian.AppendUint16(*b, v) }
func (b *buffer) uint32(v uint32) { *b = binary.LittleEndian.AppendUint32(*b, v) }
func (b *buffer) string(s string) { *b = append(*b, s...) }

// localHeader encodes a local file header with zeroed CRC and size fields.
// The real values follow the entry data in its data descriptor.
func localHeader(name string, flags, modDate, modClock uint16) []byte {
	b := make(buffer, 0, localHeaderLen+len(name))
	b.uint32(localHeaderSignature)
	b.uint16(versionNeeded)
	b.uint16(flags)
	b.uint16(MethodStored)
	b.uint16(modClock)
	b.uint16(modDate)
	b.uint32(0) // crc-32
	b.uint32(0) // compressed size
	b.uint32(0) // uncompressed size
	b.uint16(uint16(len(name)))
	b.uint16(0) // extra field length
	b.string(name)
	return b
}

// dataDescriptor encodes the trailer that follows an entry's data.
func dataDescriptor(crc uint32, size uint64) []byte {
	b := make(buffer, 0, dataDescriptorLen)
	b.uint32(dataDescriptorSignature)
	b.uint32(crc)
	b.uint32(uint32(size)) // compressed size; stored, so equal
	b.uint32(uint32(size))
	return b
}

// centralHeader encodes one central directory record.
func centralHeader(r recordFields) []byte {
	b := make(buffer, 0, centralHeaderLen+len(r.name))
	b.uint32(centralHeaderSignature)
	b.uint16(versionMadeBy)
	b.uint16(versionNeeded)
	b.uint16(r.flags)
	b.uint16(MethodStored)
	b.uint16(r.modClock)
	b.uint16(r.modDate)
	b.uint32(r.crc)
	b.uint32(uint32(r.compressed))
	b.uint32(uint32(r.uncompressed))
	b.uint16(uint16(len(r.name)))
	b.uint16(0) // extra field length
	b.uint16(0) // file comment length
	b.uint16(0) // disk number start
	b.uint16(0) // internal attributes
	b.uint32(externalAttrs)
	b.uint32(uint32(r.offset))
	b.string(r.name)
	return b
}

// endOfCentralDir encodes the end-of-central-directory record.
func endOfCentralDir(entries int, size, offset uint64, comment string) []byte {
	b := make(buffer, 0, endOfCentralDirLen+len(comment))
	b.uint32(endOfCentralDirSignature)
	b.uint16(0) // number of this disk
	b.uint16(0) // disk where central directory starts
	b.uint16(uint16(entries))
	b.uint16(uint16(entries))
	b.uint32(uint32(size))
	b.uint32(uint32(offset))
	b.uint16(uint16(len(comment)))
	b.string(comment)
	return b
}

// recordFields is the subset of entry metadata the central directory needs.
type recordFields struct {
	name         string
	flags        uint16
	modDate      uint16
	modClock     uint16
	crc          uint32
	compressed   uint64
	uncompressed uint64
	offset       uint64
}
