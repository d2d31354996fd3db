package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	assert.Nil(t, Split(0, 4))
	r := Split(10, 3)
	assert.Equal(t, []Range{{0, 4, 0}, {4, 7, 1}, {7, 10, 2}}, r)
	assert.Len(t, Split(2, 8), 2)
	assert.Equal(t, []Range{{0, 5, 0}}, Split(5, 0))
}

func TestEachVisitsEveryIndexOnce(t *testing.T) {
	var hits [1000]int32
	Each(len(hits), 7, func(i int) {
		atomic.AddInt32(&hits[i], 1)
	})
	for i, h := range hits {
		if h != 1 {
			t.Errorf("index %d visited %d times", i, h)
		}
	}
}
