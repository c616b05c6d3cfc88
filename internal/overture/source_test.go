package overture

import (
	"context"
	stderrors "errors"
	"io/fs"
	"path/filepath"
	"testing"

	"overture-lists/internal/logger"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnavailableMatchesBothErrorPackages(t *testing.T) {
	err := Unavailable(fs.ErrNotExist, "open part-0.parquet")
	assert.True(t, stderrors.Is(err, ErrSourceUnavailable))
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.True(t, stderrors.Is(err, fs.ErrNotExist))
	assert.Contains(t, err.Error(), "open part-0.parquet")

	var ue *UnavailableError
	require.True(t, stderrors.As(err, &ue))
	assert.Same(t, err, Unavailable(err, "again"))
	assert.Nil(t, Unavailable(nil, "noop"))
}

func TestEmptyDatasetDirIsUnavailableToStdlibCallers(t *testing.T) {
	logger.Set(logger.Discard())
	src, err := NewParquetSource(context.Background(), Options{DivisionPath: filepath.Join(t.TempDir(), "*.parquet")})
	require.NoError(t, err)

	_, err = src.Countries(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrSourceUnavailable))
	assert.False(t, stderrors.Is(err, ErrDivisionNotFound))
}
