// Package scheduler runs periodic application jobs, such as the node's
// uplink timer, on a timing wheel served by a small worker pool.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/R3DPanda1/LWN-Node/node/metrics"
)

type Job struct {
	ID       int
	Execute  func()
	Interval time.Duration
}

type bucket struct {
	mu   sync.Mutex
	jobs []*Job
}

type Scheduler struct {
	wheel      []*bucket
	resolution time.Duration
	current    int
	active     map[int]*Job
	workQueue  chan *Job
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	mu         sync.Mutex
}

func New(resolution time.Duration, numBuckets int, workerCount int, queueSize int) *Scheduler {
	if numBuckets <= 0 {
		numBuckets = 1
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	s := &Scheduler{
		wheel:      make([]*bucket, numBuckets),
		resolution: resolution,
		active:     make(map[int]*Job),
		workQueue:  make(chan *Job, queueSize),
		stopCh:     make(chan struct{}),
	}
	for i := range s.wheel {
		s.wheel[i] = &bucket{}
	}

	for i := 0; i < workerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.wg.Add(1)
	go s.tick()

	return s
}

// Schedule registers job; it first runs one Interval from now and then
// repeats until removed. Scheduling an ID again replaces the old job.
func (s *Scheduler) Schedule(job *Job) {
	s.mu.Lock()
	s.active[job.ID] = job
	s.mu.Unlock()
	s.place(job)
}

func (s *Scheduler) place(job *Job) {
	ticks := int(job.Interval / s.resolution)
	if ticks <= 0 {
		ticks = 1
	}

	s.mu.Lock()
	idx := (s.current + ticks) % len(s.wheel)
	s.mu.Unlock()

	b := s.wheel[idx]
	b.mu.Lock()
	b.jobs = append(b.jobs, job)
	b.mu.Unlock()
}

// Remove stops job ID. A run already in progress completes.
func (s *Scheduler) Remove(jobID int) {
	s.mu.Lock()
	delete(s.active, jobID)
	s.mu.Unlock()
}

func (s *Scheduler) Scheduled(jobID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[jobID]
	return ok
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) live(job *Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[job.ID] == job
}

func (s *Scheduler) tick() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.current = (s.current + 1) % len(s.wheel)
			b := s.wheel[s.current]
			s.mu.Unlock()

			b.mu.Lock()
			jobs := b.jobs
			b.jobs = nil
			b.mu.Unlock()

			for _, job := range jobs {
				if !s.live(job) {
					continue
				}
				select {
				case s.workQueue <- job:
				default:
					slog.Warn("work queue full, dropping job", "component", "scheduler", "job_id", job.ID)
					s.place(job)
				}
			}

		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.workQueue:
			start := time.Now()
			job.Execute()
			metrics.ScheduledJobDuration.Observe(time.Since(start).Seconds())
			if s.live(job) {
				s.place(job)
			}
		case <-s.stopCh:
			return
		}
	}
}
