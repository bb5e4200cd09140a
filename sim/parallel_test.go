package sim

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelEach_ErrorsStayInTheirSlot(t *testing.T) {
	// GIVEN enough items to spread over several chunks
	items := make([]int, 200)
	for i := range items {
		items[i] = i
	}
	var calls atomic.Int64

	// WHEN every seventh item fails
	errs := parallelEach(newWorkerPool(4), items, func(i int) error {
		calls.Add(1)
		if i%7 == 0 {
			return fmt.Errorf("item %d", i)
		}
		return nil
	})

	// THEN each failure is reported at its own index and every item ran once
	assert.Equal(t, int64(len(items)), calls.Load())
	for i, err := range errs {
		if i%7 == 0 {
			assert.EqualError(t, err, fmt.Sprintf("item %d", i))
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestParallelEach_SmallInputRunsInline(t *testing.T) {
	var order []int
	parallelEach(newWorkerPool(8), []int{1, 2, 3}, func(i int) error {
		order = append(order, i)
		return nil
	})
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Empty(t, parallelEach(newWorkerPool(8), []int(nil), func(int) error { return nil }))
}

func TestNewWorkerPool_ZeroMeansGOMAXPROCS(t *testing.T) {
	assert.Positive(t, newWorkerPool(0).Width())
	assert.Equal(t, 3, newWorkerPool(3).Width())
}

func TestSequentialEach_PreservesOrder(t *testing.T) {
	var order []string
	errs := sequentialEach([]string{"a", "b"}, func(s string) error {
		order = append(order, s)
		return nil
	})
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Len(t, errs, 2)
}
