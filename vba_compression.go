package msodump

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MS-OVBA 2.4.1
const (
	VBA_SIGNATURE_BYTE = 0x01

	// Decompressed bytes per chunk.
	VBA_CHUNK_SIZE = 4096

	// Largest chunk the 12 bit size field can describe, header included.
	VBA_MAX_COMPRESSED_CHUNK = 4098

	chunkSizeMask      = 0x0FFF
	chunkSignatureBits = 0x3000
	chunkFlagBit       = 0x8000
)

// CopyTokenHelp splits a copy token for a position d bytes into the
// current decompressed chunk. The bit count is ceil(log2(d)) with a
// floor of 4.
func CopyTokenHelp(difference int) (length_mask int, offset_mask int,
	bit_count uint32, maximum_length int) {
	// Integer form of ceil(log2(difference)).
	for 1<<bit_count < difference {
		bit_count += 1
	}

	if bit_count < 4 {
		bit_count = 4
	}
	length_mask = int(uint16(0xFFFF) >> bit_count)
	offset_mask = ^length_mask & 0xFFFF
	maximum_length = length_mask + 3

	return length_mask, offset_mask, bit_count, maximum_length
}

func unpackCopyToken(token uint16, difference int) (offset int, length int) {
	length_mask, offset_mask, bit_count, _ := CopyTokenHelp(difference)
	length = (int(token) & length_mask) + 3
	offset = ((int(token) & offset_mask) >> (16 - bit_count)) + 1
	return offset, length
}

func packCopyToken(offset, length, difference int) uint16 {
	_, _, bit_count, _ := CopyTokenHelp(difference)
	return uint16(((offset - 1) << (16 - bit_count)) | (length - 3))
}

// Decompress expands a compressed container starting at offset.
func Decompress(compressed []byte, offset int) ([]byte, error) {
	cursor := NewCursor(compressed)
	if err := cursor.Seek(offset); err != nil {
		return nil, errors.Wrap(ErrCorruptStream, err.Error())
	}

	sig_byte, err := cursor.ReadU8()
	if err != nil {
		return nil, errors.Wrap(ErrCorruptStream, "missing signature byte")
	}

	if sig_byte != VBA_SIGNATURE_BYTE {
		return nil, errors.Wrapf(ErrInvalidSignature,
			"compressed container signature %#02x", sig_byte)
	}

	result := make([]byte, 0, 2*len(compressed))
	for cursor.Pos() < cursor.Len() {
		result, err = decompressChunk(cursor, result)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// decompressChunk appends one chunk's output to result.
func decompressChunk(cursor *Cursor, result []byte) ([]byte, error) {
	chunk_start := cursor.Pos()
	header, err := cursor.ReadU16()
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptStream,
			"truncated chunk header at %d", chunk_start)
	}

	// Size includes the two header bytes.
	chunk_size := int(header&chunkSizeMask) + 3
	is_compressed := header&chunkFlagBit != 0

	chunk_end := minInt(chunk_start+chunk_size, cursor.Len())

	DebugPrintf("chunk at %d: size %d compressed %v",
		chunk_start, chunk_size, is_compressed)

	if !is_compressed {
		raw, err := cursor.ReadBytes(VBA_CHUNK_SIZE)
		if err != nil {
			return nil, errors.Wrapf(ErrCorruptStream,
				"raw chunk at %d: %v", chunk_start, err)
		}
		return append(result, raw...), nil
	}

	decompressed_chunk_start := len(result)
	for cursor.Pos() < chunk_end {
		flag_byte, _ := cursor.ReadU8()

		for bit_index := uint(0); bit_index < 8; bit_index++ {
			if cursor.Pos() >= chunk_end {
				break
			}

			if flag_byte&(1<<bit_index) == 0 {
				literal, _ := cursor.ReadU8()
				result = append(result, literal)
				continue
			}

			if cursor.Pos()+2 > chunk_end {
				return nil, errors.Wrapf(ErrCorruptStream,
					"copy token at %d crosses chunk end %d",
					cursor.Pos(), chunk_end)
			}
			copy_token, _ := cursor.ReadU16()

			offset, length := unpackCopyToken(copy_token,
				len(result)-decompressed_chunk_start)
			copy_source := len(result) - offset
			if copy_source < 0 {
				return nil, errors.Wrapf(ErrCorruptStream,
					"copy token at %d reaches %d bytes before output start",
					cursor.Pos()-2, -copy_source)
			}

			// Source and destination may overlap.
			for i := 0; i < length; i++ {
				result = append(result, result[copy_source+i])
			}
		}
	}

	return result, nil
}

// Compress encodes data as a compressed container. Each 4096 byte
// window becomes one compressed chunk unless it cannot fit the
// chunk size field.
func Compress(data []byte) []byte {
	result := make([]byte, 0, len(data)+len(data)/8+8)
	result = append(result, VBA_SIGNATURE_BYTE)

	for current := 0; current < len(data); {
		result, current = compressChunk(result, data, current)
	}

	return result
}

// compressChunk encodes the window starting at chunk_start and
// returns the position where the next chunk starts.
func compressChunk(result []byte, data []byte, chunk_start int) ([]byte, int) {
	chunk_end := minInt(chunk_start+VBA_CHUNK_SIZE, len(data))

	header_pos := len(result)
	result = append(result, 0, 0)
	limit := header_pos + VBA_MAX_COMPRESSED_CHUNK

	current := chunk_start
	flag_pos := 0
	bit_index := uint(0)
	overflow := false

	for current < chunk_end {
		offset, length := findMatch(data, chunk_start, current, chunk_end)

		needed := 1
		if length > 0 {
			needed = 2
		}
		if bit_index == 0 {
			needed++
		}

		if len(result)+needed > limit {
			overflow = true
			break
		}

		if bit_index == 0 {
			flag_pos = len(result)
			result = append(result, 0)
		}

		if length > 0 {
			token := packCopyToken(offset, length, current-chunk_start)
			result = append(result, 0, 0)
			binary.LittleEndian.PutUint16(result[len(result)-2:], token)
			result[flag_pos] |= 1 << bit_index
			current += length
		} else {
			result = append(result, data[current])
			current++
		}

		bit_index = (bit_index + 1) % 8
	}

	// A full window that does not fit is stored raw.
	if overflow && chunk_end-chunk_start == VBA_CHUNK_SIZE {
		result = result[:header_pos]
		result = append(result, 0, 0)
		binary.LittleEndian.PutUint16(result[header_pos:],
			(VBA_CHUNK_SIZE-1)&chunkSizeMask|chunkSignatureBits)
		result = append(result, data[chunk_start:chunk_end]...)
		return result, chunk_end
	}

	size := len(result) - header_pos
	binary.LittleEndian.PutUint16(result[header_pos:],
		uint16(size-3)&chunkSizeMask|chunkSignatureBits|chunkFlagBit)

	return result, current
}

// findMatch searches the current chunk backwards from current for
// the longest run matching the bytes at current. The nearest
// candidate wins ties. Returns a zero length below 3 bytes.
func findMatch(data []byte, chunk_start, current, chunk_end int) (offset int, length int) {
	best_length := 0
	best_candidate := 0

	for candidate := current - 1; candidate >= chunk_start; candidate-- {
		c := candidate
		d := current
		run := 0
		for d < chunk_end && data[d] == data[c] {
			run++
			c++
			d++
		}

		if run > best_length {
			best_length = run
			best_candidate = candidate
		}
	}

	if best_length < 3 {
		return 0, 0
	}

	_, _, _, maximum_length := CopyTokenHelp(current - chunk_start)
	return current - best_candidate, minInt(best_length, maximum_length)
}
