// Package tables splits finished blobs into individual platform table
// records and hands them to the table-installation service. Records use
// the standard firmware framing: a small fixed header carrying kind and
// length, followed by a string area terminated by a double NUL.
package tables

import (
	"fmt"

	"github.com/fwtables/tableloader/internal/loader"
	"github.com/retroenv/retrogolib/log"
)

const (
	// headerSize covers the record kind, the fixed-portion length and the
	// record handle.
	headerSize = 4

	// EndOfTableKind terminates the record set of one blob.
	EndOfTableKind = 127

	// BIOSInfoKind is the mandatory baseline record kind. A default is
	// synthesized when a pass installs no record of this kind.
	BIOSInfoKind = 0
)

// Handle identifies one installed record at the installation service.
type Handle uint16

// Service registers one finished table record with the platform. It has
// no notion of blobs or scripts, it only sees finished byte buffers.
type Service interface {
	Install(record []byte) (Handle, error)
}

// Config controls the installer.
type Config struct {
	// SynthesizeDefaults permits installing a minimal default BIOS
	// information record when the blobs contain none. Test doubles
	// disable this to observe the raw record set.
	SynthesizeDefaults bool

	// Static content of the synthesized BIOS information record.
	BIOSVendor      string
	BIOSVersion     string
	BIOSReleaseDate string
}

// DefaultConfig returns the installer defaults used by the loader binary.
func DefaultConfig() Config {
	return Config{
		SynthesizeDefaults: true,
		BIOSVendor:         "Firmware",
		BIOSVersion:        "1.0",
		BIOSReleaseDate:    "01/01/2024",
	}
}

// Installer walks the finished table blobs and installs their records.
type Installer struct {
	logger  *log.Logger
	service Service
	config  Config

	sawBIOSInfo bool
	installed   int
}

// New creates an installer registering records with service.
func New(logger *log.Logger, service Service, config Config) *Installer {
	return &Installer{
		logger:  logger,
		service: service,
		config:  config,
	}
}

// InstallAll installs every record of every table-data blob, in blob
// directory order, and returns the number of installed records. Blobs
// not flagged as table data are skipped whole.
func (i *Installer) InstallAll(directory *loader.Directory) (int, error) {
	for _, blob := range directory.Blobs() {
		if !blob.TableData {
			i.logger.Debug("Skipping non-table blob", log.String("file", blob.Name))
			continue
		}
		if err := i.installBlob(blob); err != nil {
			return i.installed, fmt.Errorf("installing records of '%s': %w", blob.Name, err)
		}
	}

	if i.config.SynthesizeDefaults && !i.sawBIOSInfo {
		if err := i.installDefaultBIOSInfo(); err != nil {
			return i.installed, err
		}
	}

	return i.installed, nil
}

// installBlob splits one blob into records and installs each of them,
// stopping at the end-of-table record or when the blob is exhausted.
func (i *Installer) installBlob(blob *loader.Blob) error {
	data := blob.Data()
	cursor := 0

	for cursor < len(data) {
		if len(data)-cursor < headerSize {
			return fmt.Errorf("%w: truncated record header at offset 0x%x",
				loader.ErrFormat, cursor)
		}

		kind := data[cursor]
		if kind == EndOfTableKind {
			i.logger.Debug("End of table reached",
				log.String("file", blob.Name),
				log.Hex("offset", cursor))
			return nil
		}

		end, err := recordEnd(data, cursor)
		if err != nil {
			return err
		}

		handle, err := i.service.Install(data[cursor:end])
		if err != nil {
			return fmt.Errorf("installing record kind %d at offset 0x%x: %w",
				kind, cursor, err)
		}
		i.installed++
		if kind == BIOSInfoKind {
			i.sawBIOSInfo = true
		}

		i.logger.Debug("Installed table record",
			log.String("file", blob.Name),
			log.Int("kind", int(kind)),
			log.Int("handle", int(handle)),
			log.Hex("offset", cursor),
			log.Int("size", end-cursor))

		cursor = end
	}
	return nil
}

// recordEnd returns the offset one past the record starting at cursor.
// The length field covers only the fixed portion; the true end is found
// by scanning the trailing string area for its double NUL terminator.
func recordEnd(data []byte, cursor int) (int, error) {
	length := int(data[cursor+1])
	if length < headerSize {
		return 0, fmt.Errorf("%w: record length %d below header size at offset 0x%x",
			loader.ErrFormat, length, cursor)
	}
	if cursor+length > len(data) {
		return 0, fmt.Errorf("%w: record fixed portion exceeds blob at offset 0x%x",
			loader.ErrFormat, cursor)
	}

	scan := cursor + length
	for {
		if scan+1 >= len(data) {
			return 0, fmt.Errorf("%w: unterminated record string area at offset 0x%x",
				loader.ErrFormat, cursor)
		}
		if data[scan] == 0 && data[scan+1] == 0 {
			return scan + 2, nil
		}
		scan++
	}
}

// installDefaultBIOSInfo synthesizes and installs the minimal BIOS
// information record from the static configuration.
func (i *Installer) installDefaultBIOSInfo() error {
	record := defaultBIOSInfoRecord(i.config)

	handle, err := i.service.Install(record)
	if err != nil {
		return fmt.Errorf("installing default BIOS information record: %w", err)
	}
	i.installed++

	i.logger.Info("Installed default BIOS information record",
		log.Int("handle", int(handle)),
		log.String("vendor", i.config.BIOSVendor))
	return nil
}
