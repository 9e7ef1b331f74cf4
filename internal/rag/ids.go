package rag

import (
	"strconv"

	"github.com/google/uuid"
)

// IDPolicy selects how chunk identities are derived.
type IDPolicy string

const (
	// IDDeterministic derives the id from (source, index) only, so re-ingesting
	// a source overwrites its previous entries.
	IDDeterministic IDPolicy = "deterministic"
	// IDRandom mixes a per-run salt into the id, so every ingestion run
	// produces a new generation of entries.
	IDRandom IDPolicy = "random"
)

// Valid reports whether p is a known policy.
func (p IDPolicy) Valid() bool {
	return p == IDDeterministic || p == IDRandom
}

// chunkNamespace scopes the UUIDv5 ids produced by ChunkID.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragpipe:chunk"))

// ChunkID returns the identity of the chunk at index within source. Ids are
// UUID strings so every index backend accepts them as primary keys.
func ChunkID(policy IDPolicy, source string, index int, salt string) string {
	name := source + "\x00" + strconv.Itoa(index)
	if policy == IDRandom {
		name += "\x00" + salt
	}
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// NewRunID returns a fresh identifier for one ingestion run.
func NewRunID() string {
	return uuid.NewString()
}
