package tables

import "encoding/binary"

// Fixed portion layout of the BIOS information record (kind 0).
const biosInfoFixedSize = 24

// defaultBIOSInfoRecord builds a minimal BIOS information record with the
// three mandatory strings. The characteristics field only carries the
// "not supported" bit, everything else is left at its reserved zero
// value.
func defaultBIOSInfoRecord(config Config) []byte {
	record := make([]byte, biosInfoFixedSize)

	record[0] = BIOSInfoKind
	record[1] = biosInfoFixedSize
	binary.LittleEndian.PutUint16(record[2:], 0) // handle, assigned by the service
	record[4] = 1                                // vendor string
	record[5] = 2                                // version string
	binary.LittleEndian.PutUint16(record[6:], 0xe800) // BIOS segment
	record[8] = 3 // release date string
	record[9] = 0 // BIOS ROM size
	// characteristics: bit 3, characteristics not supported
	binary.LittleEndian.PutUint64(record[10:], 1<<3)
	// extension bytes, system BIOS releases and embedded controller
	// releases stay zero
	record[22] = 0xff
	record[23] = 0xff

	record = appendStrings(record, config.BIOSVendor, config.BIOSVersion, config.BIOSReleaseDate)
	return record
}

// appendStrings appends the NUL-terminated string area and the final
// terminating NUL that forms the double-NUL record end.
func appendStrings(record []byte, strings ...string) []byte {
	if len(strings) == 0 {
		return append(record, 0, 0)
	}
	for _, s := range strings {
		record = append(record, s...)
		record = append(record, 0)
	}
	return append(record, 0)
}
