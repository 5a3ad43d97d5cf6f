package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/storetest"

	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Storage {
		s, err := Open(context.Background(), filepath.Join(t.TempDir(), "rag.db"))
		require.NoError(t, err)
		return s
	})
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()

	idx, err := s.ListIndexes(context.Background())
	require.NoError(t, err)
	require.Empty(t, idx)
}
