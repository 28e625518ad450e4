package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and recurring job scheduling.
type Clock interface {
	Now() time.Time

	// Every runs fn every interval until the returned job is stopped.
	Every(interval time.Duration, fn func()) Job
}

// Job is a handle to a scheduled recurring function.
type Job interface {
	Stop()
}

type systemClock struct{}

// System returns the wall-clock implementation backed by time.Ticker.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Every(interval time.Duration, fn func()) Job {
	job := &systemJob{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-job.ticker.C:
				fn()
			case <-job.done:
				return
			}
		}
	}()

	return job
}

type systemJob struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (j *systemJob) Stop() {
	j.once.Do(func() {
		j.ticker.Stop()
		close(j.done)
	})
}
