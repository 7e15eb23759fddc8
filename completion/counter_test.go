package completion_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/openethereum/rpcharness/completion"
)

func TestCounterReachesZero(t *testing.T) {
	for _, n := range []int64{0, 1, 3, 100, 2500} {
		c := completion.NewCounter(n)
		var eg errgroup.Group
		for i := int64(0); i < n; i++ {
			eg.Go(func() error {
				c.Decrement()
				return nil
			})
		}
		require.NoError(t, eg.Wait())
		require.Zero(t, c.Remaining(), "n=%d", n)
		select {
		case <-c.Done():
		default:
			t.Fatalf("done not closed for n=%d", n)
		}
	}
}

func TestCounterShortfall(t *testing.T) {
	c := completion.NewCounter(10)
	var eg errgroup.Group
	for i := 0; i < 7; i++ {
		eg.Go(func() error {
			c.Decrement()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.Equal(t, int64(3), c.Remaining())
	select {
	case <-c.Done():
		t.Fatal("done closed with callbacks outstanding")
	default:
	}
}

func TestCounterClampsAtZero(t *testing.T) {
	c := completion.NewCounter(2)
	var eg errgroup.Group
	results := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		eg.Go(func() error {
			results <- c.Decrement()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	close(results)

	var accepted int
	for ok := range results {
		if ok {
			accepted++
		}
	}
	require.Equal(t, 2, accepted)
	require.Zero(t, c.Remaining())
}

func TestCounterNegativeSize(t *testing.T) {
	c := completion.NewCounter(-4)
	require.Zero(t, c.Remaining())
	require.False(t, c.Decrement())
}
