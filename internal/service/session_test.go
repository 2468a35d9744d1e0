package service_test

import (
	"testing"

	"github.com/CZERTAINLY/Recon/internal/model"
	"github.com/CZERTAINLY/Recon/internal/service"

	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore(t *testing.T) {
	t.Parallel()
	store := service.NewMemorySessionStore()

	_, ok := store.Active()
	require.False(t, ok)
	_, ok = store.Take()
	require.False(t, ok)

	store.SetActive(model.NewSession("a.example"))
	store.SetActive(model.NewSession("b.example"))

	s, ok := store.Active()
	require.True(t, ok)
	require.Equal(t, "b.example", s.Domain)
	require.Equal(t, "b.example_data", s.Folder)

	s, ok = store.Take()
	require.True(t, ok)
	require.Equal(t, "b.example", s.Domain)

	_, ok = store.Active()
	require.False(t, ok)
}
