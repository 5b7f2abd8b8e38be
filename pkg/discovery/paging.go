package discovery

// ComputeReturned returns how many records a page of at most maxRecords
// starting at the 1-based position start holds when total records match.
// A window interior to the result set is full; one that spills past the
// end holds the remaining tail, never less than zero.
func ComputeReturned(total, maxRecords, start int) int {
	if total-(start+maxRecords) >= 0 {
		return maxRecords
	}
	return max(0, total-(start-1))
}

// ComputeNext returns the 1-based position of the first record of the next
// page, or 0 when the window reaches the end of the result set.
func ComputeNext(total, maxRecords, start int) int {
	if total-(start+maxRecords) < 0 {
		return 0
	}
	return start + maxRecords
}
