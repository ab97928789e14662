package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestForURLIsStable(t *testing.T) {
	t.Parallel()

	a := ForURL("https://www.airbnb.com/help/article/1")
	require.Equal(t, a, ForURL("https://www.airbnb.com/help/article/1"))
	require.NotEqual(t, a, ForURL("https://www.airbnb.com/help/article/2"))

	parsed, err := goUUID.Parse(a)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(5), parsed.Version())
}
