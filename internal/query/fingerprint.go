package query

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/xtxerr/quarry/internal/cache"
)

// fingerprint digests the canonicalized plan fields: sorted sensor and
// asset sets, range endpoints truncated to the bucket grain, bucket width,
// aggregation and tier. Queries with equal fingerprints must produce
// identical payloads.
func fingerprint(p Plan) cache.Fingerprint {
	d := xxhash.New()

	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		d.Write(buf[:])
	}
	writeStr := func(s string) {
		d.WriteString(s)
		d.Write([]byte{0})
	}

	for _, s := range p.Sensors {
		writeStr(s)
	}
	d.Write([]byte{0xff})
	for _, a := range p.Assets {
		writeStr(a)
	}
	d.Write([]byte{0xff})

	rng := p.EffectiveRange.Truncate(p.BucketWidth)
	writeU64(uint64(rng.Start.UnixNano()))
	writeU64(uint64(rng.End.UnixNano()))
	writeU64(uint64(p.BucketWidth))
	writeU64(uint64(p.Aggregation))
	writeU64(uint64(p.Tier))

	return cache.Fingerprint(d.Sum64())
}
