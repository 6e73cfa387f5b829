package level

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Defaults(t *testing.T) {
	ctx := NewContext()

	assert.False(t, ctx.Get().Loaded())
	assert.Equal(t, "unloaded", ctx.Name())
}

func TestContext_SetAndClear(t *testing.T) {
	ctx := NewContext()

	ctx.Set(Level{Name: "docks", Host: true})
	l := ctx.Get()
	assert.Equal(t, "docks", ctx.Name())
	assert.True(t, l.Host)
	assert.False(t, l.LoadedAt.IsZero())

	ctx.Clear()
	assert.False(t, ctx.Get().Loaded())
}

func TestContext_ThreadSafe(t *testing.T) {
	ctx := NewContext()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx.Set(Level{Name: "quarry"})
		}()
		go func() {
			defer wg.Done()
			_ = ctx.Name()
		}()
	}
	wg.Wait()
	assert.Equal(t, "quarry", ctx.Name())
}
