package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryS3Client_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryS3Client()

	require.NoError(t, c.Upload(ctx, "reports", "sb253/2024/v1.pdf", strings.NewReader("%PDF")))

	body, err := c.Download(ctx, "reports", "sb253/2024/v1.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))

	url, err := c.GetPresignedURL(ctx, "reports", "sb253/2024/v1.pdf", 0)
	require.NoError(t, err)
	assert.Equal(t, "memory://reports/sb253/2024/v1.pdf", url)

	require.NoError(t, c.Delete(ctx, "reports", "sb253/2024/v1.pdf"))
	_, err = c.Download(ctx, "reports", "sb253/2024/v1.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
