package fabric

// findCycle searches the wait-graph for a rotation that would let start
// (whose destination currently has no free slot) and a prefix of already
// queued transfers all become admissible together. Vertices are devices;
// a queued transfer T waiting on WaitQueue(dst(T)) induces an edge from
// dst(T) to src(T). The search follows edges outward from start's source
// device and reports a cycle the instant it finds an edge whose target is
// start's own destination.
//
// The returned slice is the chain in the order it should be processed:
// start first, then each transfer discovered one level deeper, ending
// with the transfer whose source device closes the loop back to start's
// destination. It is nil if no such cycle exists. Ties within a device's
// queue are broken by FIFO order, and the first cycle found in DFS order
// is used with no further canonicalization (spec Q2).
func findCycle(queues map[string]*waitQueue, start Transfer) []Transfer {
	visited := make(map[string]bool)
	var path []Transfer
	if dfsCycle(queues, start, start, &path, visited) {
		return path
	}
	return nil
}

func dfsCycle(queues map[string]*waitQueue, first, current Transfer, path *[]Transfer, visited map[string]bool) bool {
	dst, _ := current.DestinationDevice()
	visited[dst] = true
	*path = append(*path, current)

	src, hasSrc := current.SourceDevice()
	if !hasSrc {
		*path = (*path)[:len(*path)-1]
		return false
	}

	q, ok := queues[src]
	if !ok {
		*path = (*path)[:len(*path)-1]
		return false
	}

	firstDst, _ := first.DestinationDevice()
	for _, entry := range *q {
		next := entry.transfer
		nextSrc, nextHasSrc := next.SourceDevice()
		if !nextHasSrc {
			continue
		}
		if nextSrc == firstDst {
			*path = append(*path, next)
			return true
		}
		if !visited[nextSrc] && dfsCycle(queues, first, next, path, visited) {
			return true
		}
	}

	*path = (*path)[:len(*path)-1]
	return false
}
