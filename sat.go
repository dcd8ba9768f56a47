package msodump

import (
	"github.com/pkg/errors"
)

// AllocationTable maps each sector to the next sector of its
// chain. The same structure serves the SAT (UnitSize is the sector
// size) and the short SAT (UnitSize is the short sector size).
type AllocationTable struct {
	Entries  []SecID
	UnitSize int
}

func NewAllocationTable(entries []SecID, unit_size int) *AllocationTable {
	return &AllocationTable{
		Entries:  entries,
		UnitSize: unit_size,
	}
}

// SectorIDChain follows the chain from start until the end of chain
// marker. Each id is visited at most once so the walk is bounded by
// the table length.
func (self *AllocationTable) SectorIDChain(start SecID) ([]SecID, error) {
	var result []SecID
	visited := make([]bool, len(self.Entries))

	for sector := start; sector != SecIDEndOfChain; {
		if sector < 0 || int(sector) >= len(self.Entries) {
			return nil, errors.Wrapf(ErrCorruptChain,
				"chain from %v reaches %v (table has %d entries)",
				start, sector, len(self.Entries))
		}

		if visited[sector] {
			return nil, errors.Wrapf(ErrCorruptChain,
				"chain from %v loops back to %v", start, sector)
		}
		visited[sector] = true

		result = append(result, sector)
		sector = self.Entries[sector]
	}

	return result, nil
}

// FreeChainEntries returns up to n indices at or after start whose
// entry is free.
func (self *AllocationTable) FreeChainEntries(n int, start int) []int {
	var result []int
	if start < 0 {
		start = 0
	}

	for i := start; i < len(self.Entries) && len(result) < n; i++ {
		if self.Entries[i] == SecIDFree {
			result = append(result, i)
		}
	}
	return result
}

// NewShortSAT reads the short sector allocation table, which is an
// ordinary SAT chain rooted at the header's first SSAT sector.
func NewShortSAT(header *Header, sat *AllocationTable, data []byte) (*AllocationTable, error) {
	if header.FirstSSATSector == SecIDFree {
		return NewAllocationTable(nil, header.ShortSectorSize()), nil
	}

	chain, err := sat.SectorIDChain(header.FirstSSATSector)
	if err != nil {
		return nil, errors.Wrap(err, "short SAT")
	}

	if header.SSATSectorCount != uint32(len(chain)) {
		DebugPrintf("header claims %d short SAT sectors, chain has %d",
			header.SSATSectorCount, len(chain))
	}

	sector_size := header.SectorSize()
	entries := make([]SecID, 0, len(chain)*sector_size/4)
	for _, id := range chain {
		sector_data, err := header.ReadSector(data, id)
		if err != nil {
			return nil, errors.Wrap(err, "short SAT")
		}

		cursor := NewCursor(sector_data)
		for i := 0; i < sector_size/4; i++ {
			next, err := cursor.ReadSecID()
			if err != nil {
				return nil, errors.Wrapf(err, "short SAT sector %v", id)
			}
			entries = append(entries, next)
		}
	}

	return NewAllocationTable(entries, header.ShortSectorSize()), nil
}
