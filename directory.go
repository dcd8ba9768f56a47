package msodump

import (
	"encoding/binary"
	"time"

	"github.com/go-restruct/restruct"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

const (
	DIRECTORY_ENTRY_SIZE = 128
	MAX_NAME_UNITS       = 32

	// 100ns intervals between 1601-01-01 and 1970-01-01
	FILETIME_UNIX_DELTA = 116444736000000000
)

type EntryType uint8

const (
	EntryEmpty     EntryType = 0
	EntryStorage   EntryType = 1
	EntryStream    EntryType = 2
	EntryLockBytes EntryType = 3
	EntryProperty  EntryType = 4
	EntryRoot      EntryType = 5
)

func (self EntryType) String() string {
	switch self {
	case EntryEmpty:
		return "Empty"
	case EntryStorage:
		return "UserStorage"
	case EntryStream:
		return "UserStream"
	case EntryLockBytes:
		return "LockBytes"
	case EntryProperty:
		return "Property"
	case EntryRoot:
		return "RootStorage"
	}
	return "Unknown"
}

func (self EntryType) MarshalText() ([]byte, error) {
	return []byte(self.String()), nil
}

type Color uint8

const (
	Red   Color = 0
	Black Color = 1
)

func (self Color) MarshalText() ([]byte, error) {
	if self == Red {
		return []byte("Red"), nil
	}
	return []byte("Black"), nil
}

// StreamLocation says which allocation table holds a stream's chain.
type StreamLocation int

const (
	LocationSAT StreamLocation = iota
	LocationSSAT
)

func (self StreamLocation) String() string {
	if self == LocationSSAT {
		return "SSAT"
	}
	return "SAT"
}

func (self StreamLocation) MarshalText() ([]byte, error) {
	return []byte(self.String()), nil
}

// On disk directory record.
type rawDirectoryEntry struct {
	NameRunes      [MAX_NAME_UNITS * 2]byte
	NameLength     uint16
	Type           EntryType
	Color          Color
	LeftChild      uint32
	RightChild     uint32
	StorageRoot    uint32
	ClassID        [16]byte
	UserFlags      uint32
	CreateTime     uint64
	ModifyTime     uint64
	FirstSector    SecID
	StreamSize     uint32
	StreamSizeHigh uint32
}

// DirectoryEntry describes one storage or stream. The child fields
// are kept for display only; lookups use the flat entry list.
type DirectoryEntry struct {
	Index       int
	Name        string
	NameLength  uint16
	Type        EntryType
	Color       Color
	LeftChild   uint32
	RightChild  uint32
	StorageRoot uint32
	ClassID     uuid.UUID
	UserFlags   uint32
	Created     time.Time
	Modified    time.Time
	FirstSector SecID
	Size        uint32
}

func NewDirectoryEntry(data []byte, index int) (*DirectoryEntry, error) {
	raw := rawDirectoryEntry{}
	err := restruct.Unpack(data, binary.LittleEndian, &raw)
	if err != nil {
		return nil, errors.Wrapf(err, "directory entry %d", index)
	}

	name, err := decodeEntryName(raw.NameRunes[:], raw.NameLength)
	if err != nil {
		return nil, errors.Wrapf(err, "directory entry %d", index)
	}

	return &DirectoryEntry{
		Index:       index,
		Name:        name,
		NameLength:  raw.NameLength,
		Type:        raw.Type,
		Color:       raw.Color,
		LeftChild:   raw.LeftChild,
		RightChild:  raw.RightChild,
		StorageRoot: raw.StorageRoot,
		ClassID:     guidToUUID(raw.ClassID),
		UserFlags:   raw.UserFlags,
		Created:     filetimeToTime(raw.CreateTime),
		Modified:    filetimeToTime(raw.ModifyTime),
		FirstSector: raw.FirstSector,
		Size:        raw.StreamSize,
	}, nil
}

// The name length counts bytes including the UTF-16 terminator.
func decodeEntryName(runes []byte, length uint16) (string, error) {
	if length < 2 {
		return "", nil
	}

	units := (int(length) - 1) / 2
	if units > MAX_NAME_UNITS {
		units = MAX_NAME_UNITS
	}

	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).
		NewDecoder().Bytes(runes[:units*2])
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// Class ids are stored as Windows GUIDs with little endian leading
// fields.
func guidToUUID(guid [16]byte) uuid.UUID {
	var result uuid.UUID
	copy(result[:], guid[:])
	result[0], result[1], result[2], result[3] = guid[3], guid[2], guid[1], guid[0]
	result[4], result[5] = guid[5], guid[4]
	result[6], result[7] = guid[7], guid[6]
	return result
}

func filetimeToTime(filetime uint64) time.Time {
	if filetime == 0 {
		return time.Time{}
	}

	delta := int64(filetime) - FILETIME_UNIX_DELTA
	return time.Unix(delta/10000000, (delta%10000000)*100).UTC()
}

// ParseDirectoryEntries slices the directory stream into 128 byte
// records. A trailing partial record is ignored.
func ParseDirectoryEntries(data []byte) ([]*DirectoryEntry, error) {
	var result []*DirectoryEntry

	cursor := NewCursor(data)
	for index := 0; cursor.Len()-cursor.Pos() >= DIRECTORY_ENTRY_SIZE; index++ {
		record, err := cursor.ReadBytes(DIRECTORY_ENTRY_SIZE)
		if err != nil {
			return nil, err
		}

		entry, err := NewDirectoryEntry(record, index)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}

	return result, nil
}

// DirectoryTree holds the entries of one compound file in creation
// order.
type DirectoryTree struct {
	Entries []*DirectoryEntry

	// Root storage whose stream backs every short sector. Nil when
	// the file has none with a valid first sector.
	Root *DirectoryEntry
}

func NewDirectoryTree(data []byte) (*DirectoryTree, error) {
	entries, err := ParseDirectoryEntries(data)
	if err != nil {
		return nil, err
	}

	self := &DirectoryTree{Entries: entries}
	for _, entry := range entries {
		if entry.Type == EntryRoot && entry.FirstSector >= 0 {
			self.Root = entry
			break
		}
	}
	return self, nil
}

// FindEntry returns the first non empty entry called name.
func (self *DirectoryTree) FindEntry(name string) *DirectoryEntry {
	for _, entry := range self.Entries {
		if entry.Type != EntryEmpty && entry.Name == name {
			return entry
		}
	}
	return nil
}

// StreamLocation decides whether an entry lives in short sectors.
func (self *Header) StreamLocation(entry *DirectoryEntry) StreamLocation {
	if entry.Type != EntryRoot && entry.Size < self.MinStdStreamSize {
		return LocationSSAT
	}
	return LocationSAT
}
