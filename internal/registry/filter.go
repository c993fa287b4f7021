package registry

// Applicable reports whether a responder bounded by maxTLP/maxPAP accepts an
// entity at the given sensitivity levels. A nil bound is unlimited; each
// axis is checked independently. Pure predicate, no side effects.
func Applicable(maxTLP, maxPAP *int, tlp, pap int) bool {
	if maxTLP != nil && *maxTLP < tlp {
		return false
	}
	if maxPAP != nil && *maxPAP < pap {
		return false
	}
	return true
}
