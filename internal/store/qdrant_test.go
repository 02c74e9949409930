package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQdrantDistance_MapsMetricNames(t *testing.T) {
	cases := map[string]qdrant.Distance{
		"cosine":    qdrant.Distance_Cosine,
		"cos":       qdrant.Distance_Cosine,
		"":          qdrant.Distance_Cosine,
		"l2":        qdrant.Distance_Euclid,
		"euclidean": qdrant.Distance_Euclid,
		"ip":        qdrant.Distance_Dot,
		"dot":       qdrant.Distance_Dot,
		"manhattan": qdrant.Distance_Manhattan,
	}
	for metric, want := range cases {
		assert.Equal(t, want, qdrantDistance(metric), "metric %q", metric)
	}
}

func TestPointID_PassesThroughUUIDs(t *testing.T) {
	// Given: an id that is already a valid UUID (a chunk's uuid)
	id := uuid.NewString()

	// When: deriving a point id
	pid, payload := pointID(id)

	// Then: the UUID passes through unchanged and no payload is needed
	require.NotNil(t, pid)
	assert.Equal(t, id, pid.GetUuid())
	assert.Nil(t, payload)
}

func TestPointID_DerivesUUIDForNonUUIDIDs(t *testing.T) {
	// Given: a non-UUID id
	id := "pubmed:12345678"

	// When: deriving a point id
	pid, payload := pointID(id)

	// Then: a deterministic UUID is derived and the original id is carried
	// in the payload so it can be recovered from search results
	require.NotNil(t, pid)
	assert.NotEqual(t, id, pid.GetUuid())
	require.NotNil(t, payload)
	assert.Equal(t, id, payload[qdrantOriginalIDField])

	// And: deriving it again yields the same UUID (deterministic)
	pid2, _ := pointID(id)
	assert.Equal(t, pid.GetUuid(), pid2.GetUuid())
}
