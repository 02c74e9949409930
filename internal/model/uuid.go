package model

import "github.com/google/uuid"

// NSChunkUUID is the fixed namespace for chunk UUIDv5 derivation. Fixed
// once; must never change after the first production write, or every
// existing chunk uuid becomes unaddressable.
var NSChunkUUID = uuid.MustParse("c9c59d3e-3a1b-4e3a-9a2e-6f9a2f1f6b63")

// ChunkUUID derives the deterministic uuid for a chunk from its parent
// document uid and its local chunk_id.
func ChunkUUID(parentUID, chunkID string) uuid.UUID {
	return uuid.NewSHA1(NSChunkUUID, []byte(parentUID+":"+chunkID))
}
