package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID        int64
	CreatedAt time.Time
}

func TestBuildCursorPageInfoTrimsExtraRow(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []*row{{1, now}, {2, now.Add(time.Second)}, {3, now.Add(2 * time.Second)}}

	page, info := BuildCursorPageInfo(rows, 2, func(r *row) Cursor { return NewCursor(r.ID, r.CreatedAt) })
	require.Len(t, page, 2)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	id, createdAt, err := cursor.After()
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
	assert.True(t, createdAt.Equal(now.Add(time.Second)))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 10_000}.Limit())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}
