package sliceutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoveDuplicates(t *testing.T) {
	require.Equal(t, []int{3, 1, 2}, RemoveDuplicates([]int{3, 1, 3, 2, 1}))
	require.Empty(t, RemoveDuplicates([]string{}))
}

func TestSplitList(t *testing.T) {
	require.Equal(t,
		[]string{"10.0.0.1:2379", "10.0.0.2:2379"},
		SplitList(" 10.0.0.1:2379,,10.0.0.2:2379, 10.0.0.1:2379 "))
	require.Empty(t, SplitList(""))
}
