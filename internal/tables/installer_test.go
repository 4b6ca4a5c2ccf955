package tables

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fwtables/tableloader/internal/loader"
	"github.com/fwtables/tableloader/internal/mem"
	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"
)

// mockService collects installed records and can fail on demand.
type mockService struct {
	records [][]byte
	err     error
}

func (m *mockService) Install(record []byte) (Handle, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.records = append(m.records, bytes.Clone(record))
	return Handle(len(m.records) - 1), nil
}

// record builds one framed table record: fixed portion of the given
// length filled with a pattern, then the NUL-terminated strings and the
// final NUL of the double-NUL terminator.
func record(kind uint8, fixedLength int, strs ...string) []byte {
	data := make([]byte, fixedLength)
	data[0] = kind
	data[1] = uint8(fixedLength)
	for i := headerSize; i < fixedLength; i++ {
		data[i] = byte(i)
	}
	if len(strs) == 0 {
		return append(data, 0, 0)
	}
	for _, s := range strs {
		data = append(data, s...)
		data = append(data, 0)
	}
	return append(data, 0)
}

func endMarker() []byte {
	return []byte{EndOfTableKind, headerSize, 0, 0, 0, 0}
}

func tableDirectory(t *testing.T, content ...[]byte) *loader.Directory {
	t.Helper()

	directory := loader.NewDirectory()
	for i, data := range content {
		buf := make([]byte, mem.PageSize)
		copy(buf, data)
		blob := &loader.Blob{
			Name:      string(rune('a' + i)),
			Size:      uint64(len(data)),
			Region:    mem.Region{Base: uint64(0x10000 * (i + 1)), Data: buf},
			TableData: true,
		}
		assert.NoError(t, directory.Insert(blob))
	}
	return directory
}

func testConfig() Config {
	config := DefaultConfig()
	config.SynthesizeDefaults = false
	return config
}

func TestInstallAllSplitsRecords(t *testing.T) {
	first := record(0, biosInfoFixedSize, "Vendor", "1.0", "01/01/2024")
	second := record(1, 27, "Maker", "Product")
	blob := bytes.Join([][]byte{first, second, endMarker()}, nil)

	service := &mockService{}
	installer := New(log.NewTestLogger(t), service, testConfig())

	installed, err := installer.InstallAll(tableDirectory(t, blob))
	assert.NoError(t, err)
	assert.Equal(t, 2, installed)
	assert.Len(t, service.records, 2)
	assert.Equal(t, first, service.records[0])
	assert.Equal(t, second, service.records[1])
}

func TestInstallAllStopsAtBlobEnd(t *testing.T) {
	// no end marker, the record set ends with the blob
	blob := record(1, 27, "Maker")

	service := &mockService{}
	installer := New(log.NewTestLogger(t), service, testConfig())

	installed, err := installer.InstallAll(tableDirectory(t, blob))
	assert.NoError(t, err)
	assert.Equal(t, 1, installed)
}

func TestInstallAllSkipsNonTableBlobs(t *testing.T) {
	directory := tableDirectory(t, record(1, 27, "Maker"))
	directory.Blobs()[0].TableData = false

	service := &mockService{}
	installer := New(log.NewTestLogger(t), service, testConfig())

	installed, err := installer.InstallAll(directory)
	assert.NoError(t, err)
	assert.Equal(t, 0, installed)
	assert.Len(t, service.records, 0)
}

func TestInstallAllRecordWithoutStrings(t *testing.T) {
	blob := bytes.Join([][]byte{record(32, 8), endMarker()}, nil)

	service := &mockService{}
	installer := New(log.NewTestLogger(t), service, testConfig())

	installed, err := installer.InstallAll(tableDirectory(t, blob))
	assert.NoError(t, err)
	assert.Equal(t, 1, installed)
	// fixed portion plus the empty double-NUL string area
	assert.Equal(t, 10, len(service.records[0]))
}

func TestInstallAllSynthesizesBIOSInfo(t *testing.T) {
	blob := bytes.Join([][]byte{record(1, 27, "Maker"), endMarker()}, nil)

	config := DefaultConfig()
	service := &mockService{}
	installer := New(log.NewTestLogger(t), service, config)

	installed, err := installer.InstallAll(tableDirectory(t, blob))
	assert.NoError(t, err)
	assert.Equal(t, 2, installed)

	synthesized := service.records[1]
	assert.Equal(t, uint8(BIOSInfoKind), synthesized[0])
	assert.Equal(t, uint8(biosInfoFixedSize), synthesized[1])
	assert.True(t, bytes.Contains(synthesized, []byte(config.BIOSVendor)))
	// string area terminated by double NUL
	assert.Equal(t, []byte{0, 0}, synthesized[len(synthesized)-2:])
}

func TestInstallAllSynthesisDisabled(t *testing.T) {
	blob := bytes.Join([][]byte{record(1, 27, "Maker"), endMarker()}, nil)

	service := &mockService{}
	installer := New(log.NewTestLogger(t), service, testConfig())

	installed, err := installer.InstallAll(tableDirectory(t, blob))
	assert.NoError(t, err)
	assert.Equal(t, 1, installed)
}

func TestInstallAllNoSynthesisWhenPresent(t *testing.T) {
	blob := bytes.Join([][]byte{
		record(BIOSInfoKind, biosInfoFixedSize, "Vendor", "1.0", "01/01/2024"),
		endMarker(),
	}, nil)

	config := DefaultConfig()
	service := &mockService{}
	installer := New(log.NewTestLogger(t), service, config)

	installed, err := installer.InstallAll(tableDirectory(t, blob))
	assert.NoError(t, err)
	assert.Equal(t, 1, installed)
}

func TestInstallAllMalformedRecords(t *testing.T) {
	unterminated := record(1, 27)
	unterminated = append(unterminated[:27], 'x', 'y', 'z')

	tests := []struct {
		name string
		blob []byte
	}{
		{"truncated header", []byte{1, 10}},
		{"length below header size", []byte{1, 2, 0, 0, 0, 0}},
		{"fixed portion overruns blob", []byte{1, 200, 0, 0, 0, 0}},
		{"unterminated string area", unterminated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &mockService{}
			installer := New(log.NewTestLogger(t), service, testConfig())

			_, err := installer.InstallAll(tableDirectory(t, tt.blob))
			assert.Error(t, err)
			assert.True(t, errors.Is(err, loader.ErrFormat))
		})
	}
}

func TestInstallAllServiceError(t *testing.T) {
	blob := bytes.Join([][]byte{record(1, 27, "Maker"), endMarker()}, nil)

	service := &mockService{err: errors.New("service unavailable")}
	installer := New(log.NewTestLogger(t), service, testConfig())

	_, err := installer.InstallAll(tableDirectory(t, blob))
	assert.Error(t, err)
}

func TestDirInstaller(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	installer, err := NewDirInstaller(dir)
	assert.NoError(t, err)

	first := record(0, biosInfoFixedSize, "Vendor", "1.0", "01/01/2024")
	handle, err := installer.Install(first)
	assert.NoError(t, err)
	assert.Equal(t, Handle(0), handle)

	handle, err = installer.Install(record(1, 27, "Maker"))
	assert.NoError(t, err)
	assert.Equal(t, Handle(1), handle)

	data, err := os.ReadFile(filepath.Join(dir, "000-type0.bin"))
	assert.NoError(t, err)
	assert.Equal(t, first, data)

	_, err = os.Stat(filepath.Join(dir, "001-type1.bin"))
	assert.NoError(t, err)
}
