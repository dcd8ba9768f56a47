package msodump

import (
	"io/ioutil"
	"sync"

	"github.com/pkg/errors"
)

// Container is an opened compound file held entirely in memory.
type Container struct {
	data      []byte
	header    *Header
	msat      *MSAT
	sat       *AllocationTable
	directory *DirectoryTree

	ssat_once sync.Once
	ssat      *AllocationTable
	ssat_err  error

	root_once sync.Once
	root      []byte
	root_err  error
}

func OpenFile(filename string) (*Container, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Open(data)
}

// Open parses the header, allocation tables and directory of a
// compound file.
func Open(data []byte) (*Container, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	msat, err := NewMSAT(header, data)
	if err != nil {
		return nil, err
	}

	sat, err := msat.SAT()
	if err != nil {
		return nil, err
	}

	self := &Container{
		data:   data,
		header: header,
		msat:   msat,
		sat:    sat,
	}

	dir_data, err := self.readChain(sat, header.FirstDirSector, -1)
	if err != nil {
		return nil, errors.Wrap(err, "directory")
	}

	self.directory, err = NewDirectoryTree(dir_data)
	if err != nil {
		return nil, err
	}

	if len(self.directory.Entries) == 0 {
		return nil, errors.Wrap(ErrStreamNotFound, "empty directory")
	}

	DebugPrintf("opened compound file: %d bytes, %d SAT entries, %d directory entries",
		len(data), len(sat.Entries), len(self.directory.Entries))

	return self, nil
}

func (self *Container) Header() *Header {
	return self.header
}

func (self *Container) MSAT() *MSAT {
	return self.msat
}

func (self *Container) SAT() *AllocationTable {
	return self.sat
}

func (self *Container) Directory() *DirectoryTree {
	return self.directory
}

func (self *Container) Entries() []*DirectoryEntry {
	return self.directory.Entries
}

// ShortSAT is built on first use.
func (self *Container) ShortSAT() (*AllocationTable, error) {
	self.ssat_once.Do(func() {
		self.ssat, self.ssat_err = NewShortSAT(self.header, self.sat, self.data)
	})
	return self.ssat, self.ssat_err
}

// RootStorageBytes materializes the stream of the root storage,
// which holds every short sector. Built on first use.
func (self *Container) RootStorageBytes() ([]byte, error) {
	self.root_once.Do(func() {
		root := self.directory.Root
		if root == nil {
			self.root_err = ErrNoRootStorage
			return
		}
		self.root, self.root_err = self.readChain(self.sat, root.FirstSector, -1)
		if self.root_err != nil {
			self.root_err = errors.Wrap(self.root_err, "root storage")
		}
	})
	return self.root, self.root_err
}

// ListStreamNames returns the names of all used entries in directory
// order. The root entry is included.
func (self *Container) ListStreamNames() []string {
	var result []string
	for _, entry := range self.directory.Entries {
		if entry.Type != EntryEmpty {
			result = append(result, entry.Name)
		}
	}
	return result
}

func (self *Container) FindEntry(name string) *DirectoryEntry {
	return self.directory.FindEntry(name)
}

// ReadStream returns the contents of the first entry called name.
func (self *Container) ReadStream(name string) ([]byte, error) {
	entry := self.directory.FindEntry(name)
	if entry == nil {
		return nil, errors.Wrapf(ErrStreamNotFound, "%q", name)
	}
	return self.ReadEntry(entry)
}

// ReadEntry returns an entry's stream truncated to its declared
// size.
func (self *Container) ReadEntry(entry *DirectoryEntry) ([]byte, error) {
	if entry.Size == 0 {
		return []byte{}, nil
	}

	if self.header.StreamLocation(entry) == LocationSAT {
		result, err := self.readChain(self.sat, entry.FirstSector, int(entry.Size))
		if err != nil {
			return nil, errors.Wrapf(err, "stream %q", entry.Name)
		}
		return result, nil
	}

	root, err := self.RootStorageBytes()
	if err != nil {
		return nil, errors.Wrapf(err, "stream %q", entry.Name)
	}

	ssat, err := self.ShortSAT()
	if err != nil {
		return nil, errors.Wrapf(err, "stream %q", entry.Name)
	}

	chain, err := ssat.SectorIDChain(entry.FirstSector)
	if err != nil {
		return nil, errors.Wrapf(err, "stream %q", entry.Name)
	}

	unit := ssat.UnitSize
	result := make([]byte, 0, minInt(len(chain)*unit, int(entry.Size)))
	for _, id := range chain {
		start := int(id) * unit
		if start+unit > len(root) {
			return nil, errors.Wrapf(&OutOfBoundsError{
				Offset:    start,
				Requested: unit,
				Available: maxInt(len(root)-start, 0),
			}, "short sector %v of stream %q", id, entry.Name)
		}
		result = append(result, root[start:start+unit]...)
	}

	return truncate(result, int(entry.Size)), nil
}

// readChain concatenates the big sectors of a chain into one buffer.
// A negative size keeps every sector's full payload.
func (self *Container) readChain(sat *AllocationTable, start SecID, size int) ([]byte, error) {
	chain, err := sat.SectorIDChain(start)
	if err != nil {
		return nil, err
	}

	capacity := len(chain) * sat.UnitSize
	if size >= 0 && size < capacity {
		capacity = size
	}

	result := make([]byte, 0, capacity)
	for _, id := range chain {
		sector_data, err := self.header.ReadSector(self.data, id)
		if err != nil {
			return nil, err
		}
		result = append(result, sector_data...)
	}

	if size >= 0 {
		if len(result) < size {
			DebugPrintf("chain from %v holds %d bytes, expected %d",
				start, len(result), size)
		}
		result = truncate(result, size)
	}
	return result, nil
}

func truncate(data []byte, size int) []byte {
	if len(data) > size {
		return data[:size]
	}
	return data
}
