package msodump

// EntryInfo annotates a directory entry with where its stream lives.
type EntryInfo struct {
	*DirectoryEntry
	Location   StreamLocation
	Chain      []SecID `json:",omitempty"`
	ChainError string  `json:",omitempty"`
}

// ContainerInfo summarizes the layout of a compound file for
// display.
type ContainerInfo struct {
	Header          *Header
	SectorSize      int
	ShortSectorSize int
	SectorCount     int
	MSAT            []SecID
	SATEntries      int
	ShortSATEntries int
	ShortSATError   string `json:",omitempty"`
	Entries         []*EntryInfo
}

// Describe resolves every entry's chain. Chain errors are recorded
// rather than returned so a damaged file can still be inspected.
func (self *Container) Describe() *ContainerInfo {
	result := &ContainerInfo{
		Header:          self.header,
		SectorSize:      self.header.SectorSize(),
		ShortSectorSize: self.header.ShortSectorSize(),
		SectorCount:     self.header.SectorCount(len(self.data)),
		MSAT:            self.msat.SectorIDs(),
		SATEntries:      len(self.sat.Entries),
	}

	ssat, err := self.ShortSAT()
	if err != nil {
		result.ShortSATError = err.Error()
	} else {
		result.ShortSATEntries = len(ssat.Entries)
	}

	for _, entry := range self.directory.Entries {
		if entry.Type == EntryEmpty {
			continue
		}

		info := &EntryInfo{
			DirectoryEntry: entry,
			Location:       self.header.StreamLocation(entry),
		}
		result.Entries = append(result.Entries, info)

		if entry.Type == EntryStorage {
			continue
		}

		table := self.sat
		if info.Location == LocationSSAT {
			if ssat == nil {
				info.ChainError = result.ShortSATError
				continue
			}
			table = ssat
		}

		if entry.Size == 0 {
			continue
		}

		info.Chain, err = table.SectorIDChain(entry.FirstSector)
		if err != nil {
			info.ChainError = err.Error()
		}
	}

	return result
}
