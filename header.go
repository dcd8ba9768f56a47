package msodump

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"
	"github.com/pkg/errors"
)

const (
	OLE_SIGNATURE = "\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1"

	HEADER_SIZE          = 512
	MSAT_ENTRIES_INLINE  = 109
	BYTE_ORDER_MARK      = 0xFFFE
	MIN_SECTOR_SHIFT     = 7
	MAX_SECTOR_SHIFT     = 16
	DEFAULT_SECTOR_SHIFT = 9
)

// SecID addresses a sector (or short sector). Negative values are
// chain markers.
type SecID int32

const (
	SecIDFree       SecID = -1
	SecIDEndOfChain SecID = -2
	SecIDSAT        SecID = -3
	SecIDMSAT       SecID = -4
)

// Valid reports whether the id is a real sector or a known marker.
func (self SecID) Valid() bool {
	return self >= SecIDMSAT
}

func (self SecID) String() string {
	switch self {
	case SecIDFree:
		return "FREE"
	case SecIDEndOfChain:
		return "END_OF_CHAIN"
	case SecIDSAT:
		return "SAT"
	case SecIDMSAT:
		return "MSAT"
	}
	return fmt.Sprintf("%d", int32(self))
}

// Header is the fixed 512 byte compound file header.
type Header struct {
	Signature            [8]byte
	ClassID              [16]byte
	MinorVersion         uint16
	MajorVersion         uint16
	ByteOrder            uint16
	SectorShift          uint16
	ShortSectorShift     uint16
	Reserved             [6]byte
	DirSectorCount       uint32
	SATSectorCount       uint32
	FirstDirSector       SecID
	TransactionSignature uint32
	MinStdStreamSize     uint32
	FirstSSATSector      SecID
	SSATSectorCount      uint32
	FirstMSATSector      SecID
	MSATSectorCount      uint32
	MSAT                 [MSAT_ENTRIES_INLINE]SecID
}

func ParseHeader(data []byte) (*Header, error) {
	cursor := NewCursor(data)
	raw, err := cursor.ReadBytes(HEADER_SIZE)
	if err != nil {
		if len(data) < len(OLE_SIGNATURE) ||
			string(data[:len(OLE_SIGNATURE)]) != OLE_SIGNATURE {
			return nil, errors.Wrap(ErrInvalidSignature, "compound file header")
		}
		return nil, errors.Wrap(err, "compound file header")
	}

	if !bytes.Equal(raw[:len(OLE_SIGNATURE)], []byte(OLE_SIGNATURE)) {
		return nil, errors.Wrapf(ErrInvalidSignature,
			"compound file magic %x", raw[:len(OLE_SIGNATURE)])
	}

	self := &Header{}
	err = restruct.Unpack(raw, binary.LittleEndian, self)
	if err != nil {
		return nil, errors.Wrap(err, "unpacking compound file header")
	}

	if self.ByteOrder != BYTE_ORDER_MARK {
		return nil, errors.Wrapf(ErrInvalidHeader,
			"byte order mark %#04x", self.ByteOrder)
	}

	if self.SectorShift < MIN_SECTOR_SHIFT || self.SectorShift > MAX_SECTOR_SHIFT {
		return nil, errors.Wrapf(ErrInvalidHeader,
			"sector shift %d out of range", self.SectorShift)
	}

	if self.ShortSectorShift >= self.SectorShift {
		return nil, errors.Wrapf(ErrInvalidHeader,
			"short sector shift %d not smaller than sector shift %d",
			self.ShortSectorShift, self.SectorShift)
	}

	DebugDump("header", self)

	return self, nil
}

func (self *Header) SectorSize() int {
	return 1 << self.SectorShift
}

func (self *Header) ShortSectorSize() int {
	return 1 << self.ShortSectorShift
}

// SectorOffset is the file offset of a sector. The header occupies
// the first sector slot.
func (self *Header) SectorOffset(id SecID) int {
	return (int(id) + 1) << self.SectorShift
}

// InlineMSAT returns the MSAT entries held in the header, up to the
// first free slot.
func (self *Header) InlineMSAT() []SecID {
	result := make([]SecID, 0, MSAT_ENTRIES_INLINE)
	for _, id := range self.MSAT {
		if id == SecIDFree {
			break
		}
		result = append(result, id)
	}
	return result
}

// SectorCount is the number of whole or partial sectors in a file
// of the given length.
func (self *Header) SectorCount(file_size int) int {
	size := self.SectorSize()
	body := file_size - size
	if body <= 0 {
		return 0
	}
	return (body + size - 1) / size
}

// ReadSector returns the bytes of a sector. The final sector of a
// file may be short.
func (self *Header) ReadSector(data []byte, id SecID) ([]byte, error) {
	if id < 0 {
		return nil, errors.Wrapf(ErrCorruptChain, "reading sector %v", id)
	}

	start := self.SectorOffset(id)
	if start >= len(data) {
		return nil, errors.Wrapf(&OutOfBoundsError{
			Offset:    start,
			Requested: self.SectorSize(),
			Available: 0,
		}, "reading sector %v", id)
	}

	end := start + self.SectorSize()
	if end > len(data) {
		DebugPrintf("sector %v is truncated to %d bytes", id, len(data)-start)
		end = len(data)
	}
	return data[start:end], nil
}
