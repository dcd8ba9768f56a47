package msodump

import (
	"encoding/binary"
	"unicode/utf16"
)

const (
	testSectorSize  = 512
	testShortSize   = 64
	testIdsInSector = testSectorSize / 4
)

type testStream struct {
	name string
	data []byte
}

// testImage lays out a version 3 compound file. Streams smaller than
// cutoff go to the mini stream.
type testImage struct {
	cutoff  uint32
	streams []testStream

	// Filled in by build.
	first_sectors []SecID
}

func putU16(buf []byte, offset int, value uint16) {
	binary.LittleEndian.PutUint16(buf[offset:], value)
}

func putU32(buf []byte, offset int, value uint32) {
	binary.LittleEndian.PutUint32(buf[offset:], value)
}

func putSecID(buf []byte, offset int, value SecID) {
	putU32(buf, offset, uint32(value))
}

func sectorsFor(size, unit int) int {
	return (size + unit - 1) / unit
}

// putDirEntry writes a 128 byte directory record at offset.
func putDirEntry(buf []byte, offset int, name string, entry_type EntryType,
	first SecID, size uint32) {
	units := utf16.Encode([]rune(name))
	for i, unit := range units {
		putU16(buf, offset+i*2, unit)
	}
	if name != "" {
		putU16(buf, offset+64, uint16((len(units)+1)*2))
	}
	buf[offset+66] = byte(entry_type)
	buf[offset+67] = byte(Black)
	putU32(buf, offset+68, 0xFFFFFFFF)
	putU32(buf, offset+72, 0xFFFFFFFF)
	putU32(buf, offset+76, 0xFFFFFFFF)
	putSecID(buf, offset+116, first)
	putU32(buf, offset+120, size)
}

// putHeader writes a version 3 header with the given inline MSAT.
func putHeader(buf []byte, sat_ids []SecID, first_dir SecID,
	first_ssat SecID, ssat_count uint32, cutoff uint32) {
	copy(buf, OLE_SIGNATURE)
	putU16(buf, 24, 0x003E)
	putU16(buf, 26, 3)
	putU16(buf, 28, BYTE_ORDER_MARK)
	putU16(buf, 30, 9)
	putU16(buf, 32, 6)
	putU32(buf, 44, uint32(len(sat_ids)))
	putSecID(buf, 48, first_dir)
	putU32(buf, 56, cutoff)
	putSecID(buf, 60, first_ssat)
	putU32(buf, 64, ssat_count)
	putSecID(buf, 68, SecIDEndOfChain)
	for i := 0; i < MSAT_ENTRIES_INLINE; i++ {
		id := SecIDFree
		if i < len(sat_ids) {
			id = sat_ids[i]
		}
		putSecID(buf, 76+i*4, id)
	}
}

func linkChain(table []SecID, start SecID, count int) {
	for i := 0; i < count; i++ {
		id := start + SecID(i)
		if i == count-1 {
			table[id] = SecIDEndOfChain
		} else {
			table[id] = id + 1
		}
	}
}

func (self *testImage) build() []byte {
	var mini []byte
	var minifat []SecID
	var big_streams []int

	self.first_sectors = make([]SecID, len(self.streams))
	for i, stream := range self.streams {
		self.first_sectors[i] = SecIDEndOfChain
		if len(stream.data) == 0 {
			continue
		}

		if uint32(len(stream.data)) >= self.cutoff {
			big_streams = append(big_streams, i)
			continue
		}

		first := SecID(len(minifat))
		count := sectorsFor(len(stream.data), testShortSize)
		minifat = append(minifat, make([]SecID, count)...)
		linkChain(minifat, first, count)
		self.first_sectors[i] = first

		padded := make([]byte, count*testShortSize)
		copy(padded, stream.data)
		mini = append(mini, padded...)
	}

	dir_sectors := sectorsFor((len(self.streams)+1)*DIRECTORY_ENTRY_SIZE, testSectorSize)
	minifat_sectors := sectorsFor(len(minifat)*4, testSectorSize)
	mini_sectors := sectorsFor(len(mini), testSectorSize)

	others := dir_sectors + minifat_sectors + mini_sectors
	for _, i := range big_streams {
		others += sectorsFor(len(self.streams[i].data), testSectorSize)
	}

	sat_sectors := 1
	for sat_sectors+others > sat_sectors*testIdsInSector {
		sat_sectors++
	}
	total := sat_sectors + others

	sat := make([]SecID, sat_sectors*testIdsInSector)
	for i := range sat {
		sat[i] = SecIDFree
	}

	image := make([]byte, (total+1)*testSectorSize)
	sector_offset := func(id SecID) int {
		return (int(id) + 1) * testSectorSize
	}

	var sat_ids []SecID
	for i := 0; i < sat_sectors; i++ {
		sat[i] = SecIDSAT
		sat_ids = append(sat_ids, SecID(i))
	}

	next := SecID(sat_sectors)

	first_dir := next
	linkChain(sat, first_dir, dir_sectors)
	next += SecID(dir_sectors)

	first_ssat := SecIDEndOfChain
	if minifat_sectors > 0 {
		first_ssat = next
		linkChain(sat, first_ssat, minifat_sectors)
		for i := 0; i < minifat_sectors*testIdsInSector; i++ {
			id := SecIDFree
			if i < len(minifat) {
				id = minifat[i]
			}
			putSecID(image, sector_offset(first_ssat)+i*4, id)
		}
		next += SecID(minifat_sectors)
	}

	root_first := SecIDEndOfChain
	if mini_sectors > 0 {
		root_first = next
		linkChain(sat, root_first, mini_sectors)
		copy(image[sector_offset(root_first):], mini)
		next += SecID(mini_sectors)
	}

	for _, i := range big_streams {
		data := self.streams[i].data
		count := sectorsFor(len(data), testSectorSize)
		self.first_sectors[i] = next
		linkChain(sat, next, count)
		copy(image[sector_offset(next):], data)
		next += SecID(count)
	}

	for i, id := range sat {
		putSecID(image, sector_offset(SecID(i/testIdsInSector))+(i%testIdsInSector)*4, id)
	}

	dir_offset := sector_offset(first_dir)
	putDirEntry(image, dir_offset, "Root Entry", EntryRoot,
		root_first, uint32(len(mini)))
	for i, stream := range self.streams {
		putDirEntry(image, dir_offset+(i+1)*DIRECTORY_ENTRY_SIZE,
			stream.name, EntryStream, self.first_sectors[i],
			uint32(len(stream.data)))
	}
	for i := len(self.streams) + 1; i < dir_sectors*testSectorSize/DIRECTORY_ENTRY_SIZE; i++ {
		putDirEntry(image, dir_offset+i*DIRECTORY_ENTRY_SIZE, "", EntryEmpty,
			SecIDFree, 0)
	}

	putHeader(image, sat_ids, first_dir, first_ssat,
		uint32(minifat_sectors), self.cutoff)

	return image
}

// patternBytes returns size bytes of a repeating, position dependent
// pattern.
func patternBytes(size int, seed byte) []byte {
	result := make([]byte, size)
	for i := range result {
		result[i] = byte(i*7) ^ seed ^ byte(i>>8)
	}
	return result
}
