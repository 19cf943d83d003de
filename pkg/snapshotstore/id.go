package snapshotstore

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldWidth is the zero-padded decimal width of each name field. 19 digits
// covers the full range of a non-negative int64, which is as large as any
// of index, term, or position can legitimately get.
const fieldWidth = 19

// ID identifies a snapshot, transient or persisted, by the tuple spec.md
// names: (processed_position, exported_position, index, term, ordinal).
// Its string form is the directory name: fields joined by "-", each
// zero-padded to fieldWidth digits, so that lexicographic sort of names
// matches tuple order exactly.
type ID struct {
	ProcessedPosition int64
	ExportedPosition  int64
	Index             uint64
	Term              uint64
	Ordinal           uint64
}

// CompactionBound is min(ProcessedPosition, ExportedPosition): the log
// position below which entries are safe to compact, since both the state
// machine and the exporter pipeline have consumed everything before it.
func (id ID) CompactionBound() int64 {
	if id.ProcessedPosition < id.ExportedPosition {
		return id.ProcessedPosition
	}
	return id.ExportedPosition
}

// String renders the content-addressed directory name.
func (id ID) String() string {
	return fmt.Sprintf("%0*d-%0*d-%0*d-%0*d-%0*d",
		fieldWidth, id.ProcessedPosition,
		fieldWidth, id.ExportedPosition,
		fieldWidth, id.Index,
		fieldWidth, id.Term,
		fieldWidth, id.Ordinal,
	)
}

// parseID parses a directory name produced by ID.String back into an ID.
// Returns an error if name isn't exactly five fieldWidth-digit fields
// joined by "-".
func parseID(name string) (ID, error) {
	parts := strings.Split(name, "-")
	if len(parts) != 5 {
		return ID{}, fmt.Errorf("snapshotstore: malformed snapshot name %q: want 5 fields, got %d", name, len(parts))
	}

	nums := make([]int64, 5)
	for i, p := range parts {
		if len(p) != fieldWidth {
			return ID{}, fmt.Errorf("snapshotstore: malformed snapshot name %q: field %d has width %d, want %d", name, i, len(p), fieldWidth)
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("snapshotstore: malformed snapshot name %q: %w", name, err)
		}
		nums[i] = n
	}

	return ID{
		ProcessedPosition: nums[0],
		ExportedPosition:  nums[1],
		Index:             uint64(nums[2]),
		Term:              uint64(nums[3]),
		Ordinal:           uint64(nums[4]),
	}, nil
}

// less reports whether id sorts strictly before other — equivalent to
// comparing id.String() < other.String() lexicographically, but done
// numerically to avoid relying on string comparison for the invariant.
func (id ID) less(other ID) bool {
	switch {
	case id.ProcessedPosition != other.ProcessedPosition:
		return id.ProcessedPosition < other.ProcessedPosition
	case id.ExportedPosition != other.ExportedPosition:
		return id.ExportedPosition < other.ExportedPosition
	case id.Index != other.Index:
		return id.Index < other.Index
	case id.Term != other.Term:
		return id.Term < other.Term
	default:
		return id.Ordinal < other.Ordinal
	}
}
