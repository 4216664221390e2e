package domain

// JobChrono is a monotonic 32-bit counter advanced only on end-of-job
// transitions (§4.5, "Chronology"). It is allowed to wrap around; ordering
// comparisons use modular arithmetic anchored on a sliding reference rather
// than plain integer comparison.
type JobChrono uint32

// Before reports whether a happened-before b under wrap-around-aware
// modular arithmetic: the difference is interpreted as a signed 32-bit
// value, so a counter that has wrapped past b is still correctly ordered
// as long as the true distance is less than 2^31.
func (a JobChrono) Before(b JobChrono) bool {
	return int32(a-b) < 0 //nolint:gosec // intentional wrap-around comparison
}

// After reports whether a happened-after b.
func (a JobChrono) After(b JobChrono) bool {
	return b.Before(a)
}

// ReqChrono identifies the oldest Req for which a node's state is still
// coherent; it is advanced the same way as JobChrono and compared the same
// way.
type ReqChrono uint32

// Before reports whether a happened-before b under the same wrap-around
// rule as JobChrono.Before.
func (a ReqChrono) Before(b ReqChrono) bool {
	return int32(a-b) < 0 //nolint:gosec // intentional wrap-around comparison
}

// chronoCounter is the shared increment-and-read primitive behind both
// JobChrono and ReqChrono sequences; the make loop owns one of each.
type chronoCounter struct {
	next uint32
}

// Advance increments the counter and returns the new value. Wrap-around at
// the uint32 boundary is intentional and handled by Before/After.
func (c *chronoCounter) Advance() uint32 {
	c.next++
	return c.next
}

// NewJobChronoCounter returns a fresh JobChrono sequence starting at 0.
func NewJobChronoCounter() *JobChronoCounter {
	return &JobChronoCounter{}
}

// JobChronoCounter hands out successive JobChrono values on job-end.
type JobChronoCounter struct {
	c chronoCounter
}

// Advance returns the next JobChrono value.
func (c *JobChronoCounter) Advance() JobChrono {
	return JobChrono(c.c.Advance())
}

// NewReqChronoCounter returns a fresh ReqChrono sequence starting at 0.
func NewReqChronoCounter() *ReqChronoCounter {
	return &ReqChronoCounter{}
}

// ReqChronoCounter hands out successive ReqChrono values.
type ReqChronoCounter struct {
	c chronoCounter
}

// Advance returns the next ReqChrono value.
func (c *ReqChronoCounter) Advance() ReqChrono {
	return ReqChrono(c.c.Advance())
}
