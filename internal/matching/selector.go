package matching

// selectionValue collapses a selector result set. Nothing selected yields
// "", a single node yields its bare value and several nodes yield the full
// list in document order.
func selectionValue(nodes []interface{}) interface{} {
	switch len(nodes) {
	case 0:
		return ""
	case 1:
		return nodes[0]
	default:
		return nodes
	}
}
