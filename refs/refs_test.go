package refs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinygo-org/heapscan/edge"
)

func TestTableDeduplicates(t *testing.T) {
	tab := NewTable()
	a := edge.ObjectReference(0x1000)
	b := edge.ObjectReference(0x2000)

	tab.AddWeakCandidate(a)
	tab.AddWeakCandidate(b)
	tab.AddWeakCandidate(a)
	tab.AddSoftCandidate(a)

	assert.Equal(t, []edge.ObjectReference{a, b}, tab.Candidates(Weak))
	assert.Equal(t, 1, tab.Len(Soft))
	assert.Equal(t, 0, tab.Len(Phantom))

	tab.Reset()
	assert.Empty(t, tab.Candidates(Weak))
	tab.AddWeakCandidate(a)
	assert.Equal(t, 1, tab.Len(Weak))
}

func TestTableConcurrent(t *testing.T) {
	tab := NewTable()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 100; i++ {
				tab.AddPhantomCandidate(edge.ObjectReference(i * 16))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, tab.Len(Phantom))
}
