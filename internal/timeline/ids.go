package timeline

import (
	"strconv"
	"strings"
)

const (
	partGroupPrefix  = "part_group_"
	pieceGroupPrefix = "piece_group_"
	firstObjSuffix   = "_firstobject"
	infiniteSuffix   = "_infinite"
)

// PartGroupID is the id of the group wrapping a PartInstance.
func PartGroupID(partInstanceID string) string { return partGroupPrefix + partInstanceID }

// PartGroupFirstObjectID is the id of the callback marker inside a part group.
func PartGroupFirstObjectID(partInstanceID string) string {
	return PartGroupID(partInstanceID) + firstObjSuffix
}

// PieceGroupID is the id of the group wrapping a PieceInstance.
func PieceGroupID(pieceInstanceID string) string { return pieceGroupPrefix + pieceInstanceID }

// PieceGroupFirstObjectID is the id of the callback marker inside a piece group.
func PieceGroupFirstObjectID(pieceInstanceID string) string {
	return PieceGroupID(pieceInstanceID) + firstObjSuffix
}

// InfiniteGroupID is the id of the standalone group of an infinite continuation.
func InfiniteGroupID(pieceInstanceID string) string {
	return partGroupPrefix + pieceInstanceID + infiniteSuffix
}

// StartOf references the start of the object with the given id.
func StartOf(id string) string { return "#" + id + ".start" }

// EndOf references the end of the object with the given id.
func EndOf(id string) string { return "#" + id + ".end" }

// Offset appends a signed millisecond offset to an expression. A zero offset
// is written out so that expressions stay stable between rebuilds.
func Offset(expr string, ms int64) string {
	var b strings.Builder
	b.WriteString(expr)
	if ms < 0 {
		b.WriteString(" - ")
		b.WriteString(strconv.FormatInt(-ms, 10))
	} else {
		b.WriteString(" + ")
		b.WriteString(strconv.FormatInt(ms, 10))
	}
	return b.String()
}
