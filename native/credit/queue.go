package credit

// The repayment queue is an ordered list of position ids. The front slot is
// always the repayment target: entry points never let the borrower choose
// which lender to service first.

// promoteOnDraw moves id forward past positions that still have zero
// principal, preserving relative order among already-drawn positions. A single
// left-to-right scan tracks the most recently seen undrawn slot; when the
// target is reached it is swapped into that slot.
func promoteOnDraw(queue [][32]byte, id [32]byte, drawn func([32]byte) bool) [][32]byte {
	undrawnAt := -1
	for i, candidate := range queue {
		if candidate == id {
			if undrawnAt >= 0 {
				queue[i] = queue[undrawnAt]
				queue[undrawnAt] = id
			}
			return queue
		}
		if undrawnAt < 0 && !drawn(candidate) {
			undrawnAt = i
		}
	}
	return queue
}

// stepQueue rotates the front position to the back once its principal has been
// fully repaid, advancing the next position into the repayment slot.
func stepQueue(queue [][32]byte) [][32]byte {
	if len(queue) < 2 {
		return queue
	}
	front := queue[0]
	copy(queue, queue[1:])
	queue[len(queue)-1] = front
	return queue
}

// removeFromQueue deletes id, preserving the relative order of the remainder.
func removeFromQueue(queue [][32]byte, id [32]byte) [][32]byte {
	for i, candidate := range queue {
		if candidate == id {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}
