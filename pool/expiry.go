package pool

import (
	"sync"
	"time"
)

// expiryScheduler runs a sweep on a fixed period until stopped.
type expiryScheduler struct {
	period   time.Duration
	sweep    func()
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func startExpiryScheduler(period time.Duration, sweep func()) *expiryScheduler {
	s := &expiryScheduler{
		period:   period,
		sweep:    sweep,
		stopChan: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.loop()

	return s
}

func (s *expiryScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return

		case <-ticker.C:
			s.sweep()
		}
	}
}

// stop cancels future sweeps and waits for a running one to finish.
func (s *expiryScheduler) stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}
