package storage

import (
	"strings"
	"testing"

	mytesting "byggarportalen/internal/testing"

	"github.com/stretchr/testify/require"
)

func TestMemberRows(t *testing.T) {
	rows, err := memberRows("p1", []NewMember{
		{UserID: "u1", Role: mytesting.Ptr(" elektriker ")},
		{UserID: "u2", Role: mytesting.Ptr("  ")},
		{UserID: "u3"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, "p1", rows[0][0])
	require.Equal(t, "u1", rows[0][1])
	require.Equal(t, "elektriker", *rows[0][2].(*string))
	require.Nil(t, rows[1][2])
	require.Nil(t, rows[2][2])
}

func TestMemberRowsRejects(t *testing.T) {
	_, err := memberRows("p1", nil)
	require.Equal(t, ErrBulkEmpty, err)

	_, err = memberRows("p1", []NewMember{{UserID: "u1"}, {UserID: "u1"}})
	require.Equal(t, ErrBulkDuplicate, err)

	many := make([]NewMember, MaxBulkMembers+1)
	for i := range many {
		many[i].UserID = strings.Repeat("u", i+1)
	}
	_, err = memberRows("p1", many)
	require.Equal(t, ErrBulkTooMany, err)
}

func TestLikePattern(t *testing.T) {
	require.Equal(t, "%anna%", likePattern("anna"))
	require.Equal(t, `%50\%\_off\\%`, likePattern(`50%_off\`))
}
