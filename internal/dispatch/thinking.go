package dispatch

// ThinkingFromTemp discretizes a numeric temperature into the agent CLI's
// --thinking tier, per spec.md §4.2's threshold table.
func ThinkingFromTemp(t float64) string {
	switch {
	case t <= 0.15:
		return "minimal"
	case t <= 0.35:
		return "low"
	case t <= 0.60:
		return "medium"
	default:
		return "high"
	}
}

// thinkingRank gives the strict ordering minimal < low < medium < high used
// to assert ThinkingFromTemp's monotonicity in tests.
var thinkingRank = map[string]int{
	"minimal": 0,
	"low":     1,
	"medium":  2,
	"high":    3,
}

// ThinkingRank returns the ordinal rank of a thinking tier, or -1 if unknown.
func ThinkingRank(tier string) int {
	if r, ok := thinkingRank[tier]; ok {
		return r
	}
	return -1
}
