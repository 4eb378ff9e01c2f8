package rules

import "strings"

// commonCommensals lists organisms treated as skin commensals for
// bloodstream-infection criteria. A single positive culture growing only a
// commensal is not sufficient evidence of infection; the same commensal must
// be recovered from two or more cultures drawn on separate occasions.
var commonCommensals = map[string]bool{
	"coagulase-negative staphylococcus": true,
	"staphylococcus epidermidis":        true,
	"staphylococcus hominis":            true,
	"staphylococcus haemolyticus":       true,
	"corynebacterium species":           true,
	"bacillus species":                  true,
	"micrococcus species":               true,
	"cutibacterium acnes":               true,
	"propionibacterium acnes":           true,
	"viridans group streptococcus":      true,
	"aerococcus species":                true,
	"rhodococcus species":               true,
}

// isCommensal reports whether the organism name matches the commensal list
func isCommensal(organism string) bool {
	return commonCommensals[strings.ToLower(strings.TrimSpace(organism))]
}
