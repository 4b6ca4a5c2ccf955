// Package options contains the program options.
package options

// Parameters contains file path options.
type Parameters struct {
	Input  string // fw_cfg tree root directory
	Output string // directory the installed table records are written to
}

// Flags contains behavior options.
type Flags struct {
	Writable   string // comma separated names of writable fw_cfg items
	NoDefaults bool   // do not synthesize missing mandatory records
	Debug      bool
	Quiet      bool
}

// Program options of the table loader.
type Program struct {
	Parameters
	Flags
}
