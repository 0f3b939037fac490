package console

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPending_KeepsOrder(t *testing.T) {
	var p pending
	p.add("1:0x4F0 20 0x0")
	p.add("00000000: 00,00\n00000010: 00\n")
	p.add("Read Page Fault at 00000800")

	assert.Equal(t, []string{
		"1:0x4F0 20 0x0",
		"00000000: 00,00",
		"00000010: 00",
		"Read Page Fault at 00000800",
	}, p.take())
	assert.Empty(t, p.take())
}

// lines added while callbacks drain the queue come out once, in order
func TestPending_ConcurrentTake(t *testing.T) {
	var p pending
	var got []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		p.add(fmt.Sprintf("%d", i))
		wg.Add(1)
		// callbacks may run in any order, each prints what is queued
		go func() {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			got = append(got, p.take()...)
		}()
	}
	wg.Wait()
	got = append(got, p.take()...)

	want := make([]string, 200)
	for i := range want {
		want[i] = fmt.Sprintf("%d", i)
	}
	assert.Equal(t, want, got)
}
