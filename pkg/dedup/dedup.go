package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

// Deduper remembers message keys for a TTL and reports repeats.
type Deduper struct {
	ttl  time.Duration
	max  int
	seen *cache.Cache
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: cache.New(ttl, 2*ttl)}
}

// ShouldProcess returns false when id was already seen within the TTL.
// Empty ids are always processed.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	// Add fails when the key is present and not yet expired.
	if err := d.seen.Add(id, struct{}{}, d.ttl); err != nil {
		return false
	}
	if d.seen.ItemCount() > d.max {
		d.seen.DeleteExpired()
	}
	return true
}

// ShouldProcessPayload dedups on the SHA-256 of the raw bytes, which is how
// QoS1 redeliveries of the same message are recognised.
func (d *Deduper) ShouldProcessPayload(payload []byte) bool {
	h := sha256.Sum256(payload)
	return d.ShouldProcess(hex.EncodeToString(h[:]))
}

// Len reports how many keys are currently remembered (expired ones included
// until the next cleanup).
func (d *Deduper) Len() int {
	return d.seen.ItemCount()
}
