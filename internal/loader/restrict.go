package loader

import (
	"github.com/fwtables/tableloader/internal/script"
	"github.com/retroenv/retrogolib/set"
)

// fullPointerSize is the widest pointer field the script can request. A
// narrower field cannot hold a full-width address, which restricts the
// pointee blob to the 32-bit address space.
const fullPointerSize = 8

// CollectRestrictions scans the script once and returns the names of all
// blobs that must not be allocated above the 32-bit boundary, because
// some pointer or write-pointer command patches their address into a
// narrower-than-full-width field.
//
// Name validation is deferred to command execution so that malformed
// names are reported uniformly there; this pass never fails on script
// content.
func CollectRestrictions(commands []script.Command) set.Set[string] {
	restricted := set.New[string]()

	for _, cmd := range commands {
		var pointee script.FileName
		var pointerSize uint8

		switch cmd.Kind {
		case script.CmdAddPointer:
			pointee = cmd.AddPointer.PointeeFile
			pointerSize = cmd.AddPointer.PointerSize
		case script.CmdWritePointer:
			pointee = cmd.WritePointer.PointeeFile
			pointerSize = cmd.WritePointer.PointerSize
		default:
			continue
		}

		if pointerSize >= fullPointerSize {
			continue
		}
		restricted[pointee.String()] = struct{}{}
	}

	return restricted
}
