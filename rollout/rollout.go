// Package rollout provides deterministic percentage gating: the same
// identifier always lands in the same bucket, so a flag at N percent
// admits a stable N percent of identifiers across restarts and processes.
package rollout

import (
	"fmt"
	"hash/fnv"
)

// Flag gates a feature at a fixed percentage.
type Flag struct {
	name    string
	percent uint32
}

// NewFlag creates a flag admitting percent of identifiers, 0..100.
func NewFlag(name string, percent int) (*Flag, error) {
	if percent < 0 || percent > 100 {
		return nil, fmt.Errorf("rollout: percentage %d out of range [0,100]", percent)
	}
	return &Flag{name: name, percent: uint32(percent)}, nil
}

// Name returns the flag name.
func (f *Flag) Name() string { return f.name }

// Percent returns the configured percentage.
func (f *Flag) Percent() int { return int(f.percent) }

// Enabled reports whether identifier falls inside the rollout. The bucket
// is FNV-1a over name and identifier mod 100, never the runtime's
// randomized hash, so placement is stable across processes.
func (f *Flag) Enabled(identifier string) bool {
	if f.percent == 0 {
		return false
	}
	if f.percent >= 100 {
		return true
	}
	return Bucket(f.name, identifier) < f.percent
}

// Bucket returns the stable bucket 0..99 for an identifier under a flag
// name.
func Bucket(name, identifier string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(identifier))
	return h.Sum32() % 100
}
