package health

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker_Transitions(t *testing.T) {
	c := NewChecker()

	assert.Equal(t, "starting", c.State())
	assert.False(t, c.IsReady())

	c.SetReady()
	assert.Equal(t, "ready", c.State())
	assert.True(t, c.IsReady())

	c.SetDraining()
	assert.Equal(t, "draining", c.State())
	assert.False(t, c.IsReady())
}

func TestChecker_ConcurrentAccess(t *testing.T) {
	c := NewChecker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.SetReady()
		}()
		go func() {
			defer wg.Done()
			_ = c.State()
		}()
	}
	wg.Wait()

	assert.True(t, c.IsReady())
}
