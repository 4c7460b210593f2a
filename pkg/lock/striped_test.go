package lock

import (
	"sync"
	"testing"
)

func TestStriped_SerializesSameKey(t *testing.T) {
	s := NewStriped(4)

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("card_1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("Expected 50, got %d", counter)
	}
}

func TestStriped_Deterministic(t *testing.T) {
	s := NewStriped(DefaultStripes)
	if s.stripe("card_1") != s.stripe("card_1") {
		t.Error("Same key mapped to different stripes")
	}
}

func TestNewStriped_Default(t *testing.T) {
	if n := len(NewStriped(0).stripes); n != DefaultStripes {
		t.Errorf("Expected %d stripes, got %d", DefaultStripes, n)
	}
	if n := len(NewStriped(-3).stripes); n != DefaultStripes {
		t.Errorf("Expected %d stripes, got %d", DefaultStripes, n)
	}
}

// A dispute stripe and a card stripe never share a mutex, even for equal keys.
func TestLocks_Independent(t *testing.T) {
	locks := NewLocks(1)

	unlockDispute := locks.Disputes.Lock("x")
	unlockCard := locks.Cards.Lock("x")
	unlockCard()
	unlockDispute()
}
