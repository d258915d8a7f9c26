// Package namegen assigns a short, human-readable display name to a newly
// registered session, deterministically derived from its client_id. This is
// intentionally not the product's public display-name generator (that is
// explicitly out of scope, spec §1) — just enough of a stand-in that a
// registered session has a label to show in the response.
package namegen

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

var adjectives = []string{
	"amber", "brisk", "cedar", "dusty", "ember", "fleet", "gentle", "hollow",
	"indigo", "jade", "keen", "lunar", "misty", "nimble", "opal", "plain",
	"quiet", "rapid", "slate", "terse", "umber", "vivid", "willow", "xenial",
}

var nouns = []string{
	"falcon", "otter", "birch", "ridge", "comet", "delta", "ember", "fern",
	"grove", "heron", "ibis", "juniper", "kestrel", "lynx", "meadow", "nettle",
	"osprey", "pebble", "quail", "reed", "sparrow", "thistle", "urchin", "wren",
}

// For seeds client_id into a display name. Given the same client_id it
// always returns the same name, without a table round-trip.
func For(clientID uuid.UUID) string {
	seed := int64(clientID[0])<<56 | int64(clientID[1])<<48 | int64(clientID[2])<<40 |
		int64(clientID[3])<<32 | int64(clientID[4])<<24 | int64(clientID[5])<<16 |
		int64(clientID[6])<<8 | int64(clientID[7])

	r := rand.New(rand.NewSource(seed))
	adj := adjectives[r.Intn(len(adjectives))]
	noun := nouns[r.Intn(len(nouns))]
	suffix := r.Intn(100)

	return fmt.Sprintf("%s-%s-%02d", adj, noun, suffix)
}
