package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubObjectStorage(t *testing.T) {
	s := NewStubObjectStorage()
	ctx := context.Background()

	payload := []byte("hello")
	require.NoError(t, s.Upload(ctx, "u1/a.png", payload, "image/png"))
	payload[0] = 'j'

	data, err := s.Download(ctx, "u1/a.png")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data), "stored copy must not alias the caller's slice")
	assert.Equal(t, []string{"u1/a.png"}, s.Keys())

	require.NoError(t, s.DeleteByURL(ctx, "https://host/storage/v1/object/public/images/u1/a.png"))
	_, err = s.Download(ctx, "u1/a.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	assert.Error(t, s.Upload(ctx, "", nil, ""))
	assert.NoError(t, s.DeleteObject(ctx, "missing"))
}
