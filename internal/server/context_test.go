package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinhojae/savewise-mcp-server/internal/readwise"
)

type nopCreator struct{}

func (nopCreator) CreateHighlights(context.Context, string, []readwise.Highlight) ([]readwise.CreateResponse, error) {
	return nil, nil
}

func TestNewServerContext_Defaults(t *testing.T) {
	sc := NewServerContext(context.Background())

	assert.NotNil(t, sc.Readwise())
	assert.IsType(t, &readwise.Client{}, sc.Readwise())
	assert.Empty(t, sc.ReadwiseToken())
	assert.Equal(t, "dev", sc.Version())
	assert.NotNil(t, sc.Logger())
	assert.Nil(t, sc.Metrics())
	assert.Nil(t, sc.AuditLogger())
	assert.False(t, sc.IsShutdown())
}

func TestNewServerContext_Options(t *testing.T) {
	creator := nopCreator{}
	sc := NewServerContext(context.Background(),
		WithReadwise(creator, "rw-token"),
		WithVersion("2.0.0"))

	assert.Equal(t, creator, sc.Readwise())
	assert.Equal(t, "rw-token", sc.ReadwiseToken())
	assert.Equal(t, "2.0.0", sc.Version())
}

func TestServerContext_Shutdown(t *testing.T) {
	sc := NewServerContext(context.Background())

	require.NoError(t, sc.Shutdown())
	assert.True(t, sc.IsShutdown())
	assert.ErrorIs(t, sc.Context().Err(), context.Canceled)

	// Idempotent
	require.NoError(t, sc.Shutdown())
}
