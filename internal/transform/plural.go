package transform

import "strings"

// irregularPlurals are node types whose subject collection keeps the
// singular name.
var irregularPlurals = map[string]bool{
	"molecular_analysis":           true,
	"secondary_malignant_neoplasm": true,
	"submitted_unaligned_reads":    true,
}

// Pluralize returns the subject child-collection name for a node type:
// irregulars map to themselves, trailing "y" becomes "ies" (histology ->
// histologies), everything else appends "s" (lab -> labs).
func Pluralize(nodeType string) string {
	if irregularPlurals[nodeType] {
		return nodeType
	}
	if strings.HasSuffix(nodeType, "y") {
		return nodeType[:len(nodeType)-1] + "ies"
	}
	return nodeType + "s"
}
