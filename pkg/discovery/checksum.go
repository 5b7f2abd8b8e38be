package discovery

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Checksum hashes the searchable content of a record. Stores compare it to
// skip rewriting records a harvest brought back unchanged.
func Checksum(r *Record) uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%v\x00%s\x00%v\x00%v\x00",
		r.ID, r.TypeName, r.Title, r.Abstract, r.Type, r.Format, r.Subjects,
		r.Modified.UTC(), r.BBox, r.Properties)
	_, _ = h.Write(r.Raw)
	return h.Sum64()
}
