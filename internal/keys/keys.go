// Package keys builds the Redis keys that hold limiter state.
//
// A key has the shape
//
//	{prefix:resource:subject}:tag[:epoch][:suffix]
//
// where each identity component is escaped so that distinct identities can never produce the
// same key, and tag names the algorithm owning the key. The braces form a Redis Cluster hash
// tag: every key of one identity hashes to the same slot, which multi-key scripts require.
package keys

import (
	"strconv"
	"strings"
)

const separator = ":"

var escaper = strings.NewReplacer(`\`, `\\`, separator, `\`+separator)

// Identity is the caller tuple a limit is tracked against.
type Identity struct {
	Prefix   string
	Resource string
	Subject  string
}

// String renders the identity in its escaped form, without hash-tag braces.
func (id Identity) String() string {
	return escaper.Replace(id.Prefix) + separator +
		escaper.Replace(id.Resource) + separator +
		escaper.Replace(id.Subject)
}

// Key is a partially built store key.
type Key struct {
	b strings.Builder
}

// For starts a key for id owned by the algorithm tag.
func For(id Identity, tag string) *Key {
	k := &Key{}
	k.b.WriteByte('{')
	k.b.WriteString(id.String())
	k.b.WriteByte('}')
	k.b.WriteString(separator)
	k.b.WriteString(escaper.Replace(tag))

	return k
}

// Epoch appends a window epoch.
func (k *Key) Epoch(epoch int64) *Key {
	k.b.WriteString(separator)
	k.b.WriteString(strconv.FormatInt(epoch, 10))

	return k
}

// Suffix appends a fixed suffix such as "last_set_time".
func (k *Key) Suffix(suffix string) *Key {
	k.b.WriteString(separator)
	k.b.WriteString(escaper.Replace(suffix))

	return k
}

func (k *Key) String() string {
	return k.b.String()
}
