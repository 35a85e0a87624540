package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	q := NewQueue()
	require.False(t, q.Contains(1))

	q.Add(1)
	q.Add(2)
	require.True(t, q.Contains(1))
	require.Equal(t, 2, q.Len())

	q.Delete(1)
	require.False(t, q.Contains(1))
	require.Equal(t, 1, q.Len())
}

func TestTransactionIsDeployment(t *testing.T) {
	to := common.HexToAddress("0x01")
	require.True(t, Transaction{}.IsDeployment())
	require.False(t, Transaction{To: &to}.IsDeployment())
}
