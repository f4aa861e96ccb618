package intent

import "strings"

// CategorizeBlock classifies a block reason into a coarse attack
// category for the audit ledger's data.attack_category field. This is
// a supplemental feature beyond the original system's reason strings,
// giving the ledger something coarser-grained to aggregate on than a
// free-text reason.
func CategorizeBlock(reason string) string {
	lower := strings.ToLower(reason)

	switch {
	case strings.Contains(lower, "obfuscation"):
		return "obfuscation"
	case strings.Contains(lower, "semantic match"):
		return "known_pattern"
	case strings.Contains(lower, "social engineering") || strings.Contains(lower, "persona"):
		return "social_engineering"
	case strings.Contains(lower, "exfiltrat"):
		return "data_exfiltration"
	case strings.Contains(lower, "instructions") || strings.Contains(lower, "system prompt"):
		return "meta_probing"
	default:
		return "uncategorized"
	}
}
