package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestGeneratorNewRunIDRoundTripsThroughFormat(t *testing.T) {
	t.Parallel()

	runID, err := NewUUIDGenerator().NewRunID()
	require.NoError(t, err)
	require.NotEqual(t, [16]byte{}, runID)

	parsed, err := goUUID.Parse(Format(runID))
	require.NoError(t, err)
	require.Equal(t, runID, [16]byte(parsed))
}
