package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaginationRoundTrip(t *testing.T) {
	data := []int{1, 2, 3, 4}
	page, info := BuildOffsetPageInfo(data, 10, 3)
	require.Equal(t, []int{1, 2, 3}, page)
	require.True(t, info.HasMore)

	offset, err := Pagination{PageToken: info.NextPageToken}.Offset()
	require.NoError(t, err)
	require.Equal(t, 13, offset)

	page, info = BuildOffsetPageInfo(data[:2], 0, 3)
	require.Len(t, page, 2)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextPageToken)
}

func TestPaginationLimitAndBadToken(t *testing.T) {
	require.Equal(t, DefaultPageSize, Pagination{}.Limit())
	require.Equal(t, MaxPageSize, Pagination{PageSize: 10_000}.Limit())
	require.Equal(t, 7, Pagination{PageSize: 7}.Limit())

	_, err := Pagination{PageToken: "%%%"}.Offset()
	require.ErrorIs(t, err, ErrInvalidPageToken)
}
