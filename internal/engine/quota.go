package engine

// stepQuota bounds the number of items one instance dispatches.
//
// Behaviors that keep rescheduling each other (a replicator with a huge
// count, a ChildClosed that restarts its child) would otherwise drain
// forever. A limit of 0 disables the check.
type stepQuota struct {
	max     int
	current int
}

// Check counts one dispatch and fails once the limit is passed.
func (q *stepQuota) Check() error {
	q.current++
	if q.max > 0 && q.current > q.max {
		return NewQuotaError(q.current, q.max)
	}
	return nil
}

// Current returns the number of dispatches counted so far.
func (q *stepQuota) Current() int {
	return q.current
}
