package rotation

import (
	"errors"
	"fmt"
)

// MaxConsecutiveTimeouts is the number of timeouts in a row after which a
// target is dropped from the rotation.
const MaxConsecutiveTimeouts = 10

// ErrEmptyRotation is returned by Next when no targets are left.
var ErrEmptyRotation = errors.New("rotation is empty")

// Target is a single probe endpoint.
type Target struct {
	URL                 string
	ConsecutiveTimeouts int
}

func (t *Target) String() string {
	return fmt.Sprintf("(url=%s, timeouts=%d)", t.URL, t.ConsecutiveTimeouts)
}

// Rotation hands out targets one at a time in a fixed circular order.
// It is not safe for concurrent use; take a Snapshot to inspect it elsewhere.
type Rotation struct {
	targets []*Target
	current int
}

// New builds a rotation with one target per URL, preserving order.
func New(urls []string) *Rotation {
	targets := make([]*Target, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, &Target{URL: u})
	}
	return &Rotation{targets: targets}
}

// Next returns the target under the cursor and advances it, wrapping to the start.
func (r *Rotation) Next() (*Target, error) {
	if len(r.targets) == 0 {
		return nil, ErrEmptyRotation
	}
	if r.current >= len(r.targets) {
		r.current = 0
	}
	t := r.targets[r.current]
	r.current++
	return t, nil
}

// Remove drops the first target identical to t. Unknown targets are ignored.
func (r *Rotation) Remove(t *Target) {
	idx := -1
	for i, candidate := range r.targets {
		if candidate == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	r.targets = append(r.targets[:idx], r.targets[idx+1:]...)
	// keep the cursor on the same upcoming target
	if idx < r.current {
		r.current--
	}
	if r.current >= len(r.targets) {
		r.current = 0
	}
}

// Len reports the number of targets left.
func (r *Rotation) Len() int {
	return len(r.targets)
}

// Snapshot returns a deep copy that carries the cursor along with the targets.
func (r *Rotation) Snapshot() *Rotation {
	clone := &Rotation{
		targets: make([]*Target, len(r.targets)),
		current: r.current,
	}
	for i, t := range r.targets {
		copied := *t
		clone.targets[i] = &copied
	}
	return clone
}

// Targets returns value copies of the targets in rotation order.
func (r *Rotation) Targets() []Target {
	out := make([]Target, len(r.targets))
	for i, t := range r.targets {
		out[i] = *t
	}
	return out
}

// Upcoming returns the index of the target the next call to Next will return.
func (r *Rotation) Upcoming() int {
	if r.current >= len(r.targets) {
		return 0
	}
	return r.current
}
