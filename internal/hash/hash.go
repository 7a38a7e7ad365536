package hash

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Inputs produces a stable hash of a step's resolved inputs. Keys are
// hashed in sorted order so two maps with the same content always produce
// the same digest regardless of iteration order.
func Inputs(values map[string]interface{}) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	digest := xxhash.New()
	for _, k := range keys {
		_, _ = digest.WriteString(k)
		_, _ = digest.WriteString("=")
		encoded, err := json.Marshal(values[k])
		if err != nil {
			// Non-serialisable values still need a stable representation.
			encoded = []byte(fmt.Sprintf("%v", values[k]))
		}
		_, _ = digest.Write(encoded)
		_, _ = digest.WriteString(";")
	}
	return fmt.Sprintf("%016x", digest.Sum64())
}
