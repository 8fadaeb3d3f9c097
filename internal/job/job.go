// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Job represents a named task that runs at a fixed interval and never overlaps with
// itself (singleton mode).
type Job struct {
	name     string
	interval time.Duration
	task     func(context.Context)
	runs     atomic.Uint64
}

// New creates a new Job with the given name, interval and task.
func New(name string, interval time.Duration, task func(context.Context)) *Job {
	return &Job{
		name:     name,
		interval: interval,
		task:     task,
	}
}

// Name returns the name of the Job.
func (j *Job) Name() string {
	return j.name
}

// Runs returns how often the task has been executed.
func (j *Job) Runs() uint64 {
	return j.runs.Load()
}

// Start executes the job on the given context and returns when the context is cancelled
// and the last run has returned. If a tick fires while a previous run is still executing,
// that tick is skipped.
func (j *Job) Start(ctx context.Context) {
	if j.task == nil || j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	// sem is a 1-slot semaphore that guards "is a run in progress?"
	sem := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case sem <- struct{}{}:
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					if ctx.Err() != nil {
						return
					}
					j.task(ctx)
					j.runs.Add(1)
				}()
			default:
			}
		}
	}
}

// Go starts the job in the background. The returned function stops the job and waits for
// it to return. Calling it more than once is safe.
func (j *Job) Go(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Start(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}
