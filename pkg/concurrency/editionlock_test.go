package concurrency

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEditionMutexMapSerializesSameEdition(t *testing.T) {
	m := NewEditionMutexMap()
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := m.Lock("edition-1")
			defer unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, order, 5)
}

func TestEditionMutexMapAllowsDifferentEditionsConcurrently(t *testing.T) {
	m := NewEditionMutexMap()
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	go func() {
		unlock := m.Lock("edition-a")
		started <- struct{}{}
		<-release
		unlock()
	}()
	go func() {
		unlock := m.Lock("edition-b")
		started <- struct{}{}
		<-release
		unlock()
	}()

	timeout := time.After(time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-timeout:
			t.Fatal("expected both distinct-edition locks to acquire without blocking each other")
		}
	}
	close(release)
}
