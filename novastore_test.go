package novastore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuannm99/novastore"
)

func TestFacade_OpenInsertFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facade")

	rm, err := novastore.Open(path, novastore.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	id, err := rm.Insert([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, rm.Commit())
	require.NoError(t, rm.Close())

	rm, err = novastore.Open(path, novastore.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer func() { require.NoError(t, rm.Close()) }()

	got, err := rm.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	_, err = rm.Root(novastore.RootCount)
	require.ErrorIs(t, err, novastore.ErrRootOutOfRange)
}
