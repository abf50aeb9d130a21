package debugapi

import (
	"fmt"

	"github.com/liveprobe/agent/internal/types"
)

// resolvedLocation is where a breakpoint ends up installed: the scanned
// or source-mapped output file plus 0-based line/column, already
// shifted for MODULE_WRAP_PREFIX_LENGTH when the resolved line is 1.
type resolvedLocation struct {
	file   string
	line0  int
	column0 int
}

// resolveLocation turns a breakpoint's source location into a concrete
// file/line/column the low-level debugger can install against:
// source-mapped paths translate through the Mapper, everything else goes
// through the scanner's fuzzy FindScripts, and a line-1 result gets the
// host module-wrapper prefix length added to its column.
func (a *API) resolveLocation(loc types.Location) (resolvedLocation, *types.Status) {
	if a.sourceMapper != nil && a.sourceMapper.HasMapping(loc.Path) {
		pos := a.sourceMapper.MappingInfo(loc.Path, loc.Line-1, loc.Column)
		if pos == nil {
			return resolvedLocation{}, types.NewErrorStatus(types.RefersSourceLocation,
				"Could not locate output file through source map for $0", loc.Path)
		}
		return a.shiftForWrapper(resolvedLocation{file: pos.File, line0: pos.Line0Based, column0: pos.Column0Based}), nil
	}

	matches := a.scanner.FindScripts(loc.Path, a.appPathRelativeToRepository)
	switch len(matches) {
	case 0:
		return resolvedLocation{}, types.NewErrorStatus(types.RefersSourceLocation,
			"Could not find file $0", loc.Path)
	case 1:
		// fall through
	default:
		return resolvedLocation{}, types.NewErrorStatus(types.RefersSourceLocation,
			"Ambiguous file $0 matched $1 files", loc.Path, fmt.Sprintf("%d", len(matches)))
	}

	file := matches[0]
	if stat, ok := a.scanner.Stat(file); ok && loc.Line > stat.LineCount {
		return resolvedLocation{}, types.NewErrorStatus(types.RefersSourceLocation,
			"Line $0 is beyond the end of file $1", fmt.Sprintf("%d", loc.Line), file)
	}

	return a.shiftForWrapper(resolvedLocation{file: file, line0: loc.Line - 1, column0: loc.Column}), nil
}

// shiftForWrapper adds moduleWrapPrefixLength to the column of a
// resolved location whose line is 1 (0-based line 0): runtimes that
// wrap each module's source in a function expression before executing
// it shift every column on the first line by the length of that
// wrapper prefix, so the debugger must compensate to land the
// breakpoint at the intended column.
func (a *API) shiftForWrapper(r resolvedLocation) resolvedLocation {
	if r.line0 == 0 {
		r.column0 += a.moduleWrapPrefixLength
	}
	return r
}
