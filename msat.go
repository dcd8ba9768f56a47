package msodump

import (
	"sync"

	"github.com/pkg/errors"
)

// MSAT lists the sectors holding the sector allocation table, in
// table order.
type MSAT struct {
	header *Header
	data   []byte
	ids    []SecID

	once sync.Once
	sat  *AllocationTable
	err  error
}

// NewMSAT collects the header's inline entries and then follows the
// chain of MSAT continuation sectors.
func NewMSAT(header *Header, data []byte) (*MSAT, error) {
	self := &MSAT{header: header, data: data}
	for _, id := range header.InlineMSAT() {
		if id < 0 {
			return nil, errors.Wrapf(ErrCorruptChain,
				"inline MSAT entry %v", id)
		}
		self.AppendSectorID(id)
	}

	per_sector := header.SectorSize()/4 - 1
	max_sectors := header.SectorCount(len(data))
	seen := make(map[SecID]bool)

	// Some writers terminate the chain with a free marker.
	sector := header.FirstMSATSector
	for sector != SecIDEndOfChain && sector != SecIDFree {
		if sector < 0 {
			return nil, errors.Wrapf(ErrCorruptChain,
				"MSAT continuation sector %v", sector)
		}

		if seen[sector] || len(seen) >= max_sectors {
			return nil, errors.Wrapf(ErrCorruptChain,
				"MSAT continuation loop at sector %v", sector)
		}
		seen[sector] = true

		sector_data, err := header.ReadSector(data, sector)
		if err != nil {
			return nil, errors.Wrap(err, "MSAT continuation")
		}

		cursor := NewCursor(sector_data)
		for i := 0; i < per_sector; i++ {
			id, err := cursor.ReadSecID()
			if err != nil {
				return nil, errors.Wrapf(err, "MSAT sector %v", sector)
			}

			if id == SecIDFree {
				continue
			}

			if id < 0 {
				return nil, errors.Wrapf(ErrCorruptChain,
					"MSAT sector %v holds %v", sector, id)
			}
			self.AppendSectorID(id)
		}

		next, err := cursor.ReadSecID()
		if err != nil {
			return nil, errors.Wrapf(err, "MSAT sector %v", sector)
		}
		sector = next
	}

	if header.MSATSectorCount != uint32(len(seen)) {
		DebugPrintf("header claims %d MSAT sectors, found %d",
			header.MSATSectorCount, len(seen))
	}

	if header.SATSectorCount != uint32(len(self.ids)) {
		DebugPrintf("header claims %d SAT sectors, MSAT lists %d",
			header.SATSectorCount, len(self.ids))
	}

	return self, nil
}

func (self *MSAT) AppendSectorID(id SecID) {
	self.ids = append(self.ids, id)
}

func (self *MSAT) SectorIDs() []SecID {
	return self.ids
}

// SAT builds the sector allocation table from every listed sector.
// The result is computed once.
func (self *MSAT) SAT() (*AllocationTable, error) {
	self.once.Do(func() {
		self.sat, self.err = self.buildSAT()
	})
	return self.sat, self.err
}

func (self *MSAT) buildSAT() (*AllocationTable, error) {
	sector_size := self.header.SectorSize()
	entries := make([]SecID, 0, len(self.ids)*sector_size/4)

	for _, id := range self.ids {
		sector_data, err := self.header.ReadSector(self.data, id)
		if err != nil {
			return nil, errors.Wrap(err, "SAT")
		}

		cursor := NewCursor(sector_data)
		for i := 0; i < sector_size/4; i++ {
			next, err := cursor.ReadSecID()
			if err != nil {
				return nil, errors.Wrapf(err, "SAT sector %v", id)
			}
			entries = append(entries, next)
		}
	}

	return NewAllocationTable(entries, sector_size), nil
}
