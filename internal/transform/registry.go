package transform

import "github.com/pedcommons/etl/internal/dictionary"

// BiospecimenStatusPresent is the sentinel written to a subject's
// biospecimen_status field once any biospecimen record attaches to it.
const BiospecimenStatusPresent = "COG Biopathology Center"

// BiospecimenStatusField is the subject-level field carrying the sentinel.
const BiospecimenStatusField = dictionary.NodeTypeBiospecimen + "_status"

// typeSpec is the per-node-type dispatch entry. Types without an entry get
// no special handling.
type typeSpec struct {
	// flattenOnePerSubject runs the one-record-per-parent dedup pass
	// before population.
	flattenOnePerSubject bool
	// postPopulate runs after field population on the new output record.
	postPopulate func(out Record)
	// onAttach runs once per parent subject the record attaches to.
	onAttach func(subject Record)
}

var typeRegistry = map[string]typeSpec{
	dictionary.NodeTypeSurvivalCharacteristic: {
		flattenOnePerSubject: true,
		postPopulate:         obfuscateLKSS,
	},
	dictionary.NodeTypeBiospecimen: {
		onAttach: func(subject Record) {
			subject[BiospecimenStatusField] = BiospecimenStatusPresent
		},
	},
}

// obfuscateLKSS derives lkss_obfuscated from a populated lkss value:
// Unknown stays Unknown, null/blank stays as is, anything else becomes
// Known. The index must expose whether a last-known survival status exists
// without leaking which one.
func obfuscateLKSS(out Record) {
	lkss, ok := out["lkss"]
	if !ok {
		return
	}
	if truthy(lkss) && lkss != "Unknown" {
		out["lkss_obfuscated"] = "Known"
		return
	}
	out["lkss_obfuscated"] = lkss
}
