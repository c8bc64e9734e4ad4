// Package engine implements the concurrent bulk-resolution core of bulkdns.
// It enumerates one job per (target, nameserver, attempt) triple, drains the
// job queue with a bounded pool of workers, merges every outcome into a
// shared target→result-set cache under a single lock, and classifies targets
// that never resolved as dead hosts. All mutation of the cache is serialized
// through the merge step; lookups themselves run outside the lock.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/lc/bulkdns/internal/log"
	"github.com/lc/bulkdns/internal/lookup"
)

// _maxWorkers caps the pool size. It reflects an OS-level ceiling on
// concurrently in-flight lookups, not a tuning knob.
const _maxWorkers = 510

var (
	// ErrNoNameservers is returned when targets are configured without any nameserver.
	ErrNoNameservers = errors.New("no nameservers configured")
	// ErrInvalidTries is returned when the attempt count is below 1.
	ErrInvalidTries = errors.New("tries must be at least 1")
	// ErrInvalidTimeout is returned when the per-lookup timeout is not positive.
	ErrInvalidTimeout = errors.New("timeout must be positive")
)

// Set is an unordered set of result strings (IPs or hostnames).
type Set map[string]struct{}

// Add inserts v into the set.
func (s Set) Add(v string) { s[v] = struct{}{} }

// Contains reports whether v is in the set.
func (s Set) Contains(v string) bool {
	_, ok := s[v]
	return ok
}

// Slice returns the set's members sorted, for stable output.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Cache maps each target to the set of results merged for it so far.
// A key mapped to an empty set means every job for that target failed;
// a missing key means the target was never attempted.
type Cache map[string]Set

// job is one (target, nameserver) resolution attempt. Jobs carry no
// identity beyond their fields and are consumed exactly once.
type job struct {
	target     string
	nameserver string
}

// Engine owns the configuration, the shared cache and the worker pool for
// bulk resolution runs. The zero value is not usable; construct with New.
type Engine struct {
	resolver lookup.Clienter

	mu          sync.Mutex // guards config and run state below
	targets     []string   // deduplicated, sorted
	nameservers []string
	domain      string
	tries       int
	timeout     time.Duration
	runDone     chan struct{} // non-nil while a run is draining

	cacheMu sync.Mutex // serializes every cache mutation
	cache   Cache
	dead    Set

	lookups  atomic.Int64 // jobs completed, success or failure
	failures atomic.Int64 // jobs that produced zero results
}

// New creates an Engine with an empty cache. The cache persists across
// Resolve calls on the same instance until Clear is invoked.
func New(resolver lookup.Clienter) *Engine {
	return &Engine{
		resolver: resolver,
		cache:    make(Cache),
		tries:    1,
		timeout:  5 * time.Second,
	}
}

// Configure replaces the engine configuration for subsequent runs.
// Duplicate targets collapse and target order is normalized. The existing
// cache is left untouched. Invalid combinations fail fast here rather than
// surfacing later as an all-dead cache.
func (e *Engine) Configure(targets, nameservers []string, domain string, tries int, timeout time.Duration) error {
	if err := validate(targets, nameservers, tries, timeout); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.targets = dedupe(targets)
	e.nameservers = append([]string(nil), nameservers...)
	e.domain = domain
	e.tries = tries
	e.timeout = timeout
	return nil
}

// Resolve runs every enumerated job to completion and returns a snapshot of
// the cache. Results only ever accumulate: calling Resolve again without
// Clear re-enumerates jobs from the current configuration and merges fresh
// results into the existing entries.
//
// If a run is already active on this engine, Resolve does not start a second
// pool; it waits for the active run to drain and returns the cache.
//
// Cancellation of ctx is the only fatal condition: the wait is aborted
// immediately and ctx's error returned, with partial results already merged
// kept intact. Individual lookup failures are recovered per job and never
// abort the run.
func (e *Engine) Resolve(ctx context.Context) (Cache, error) {
	e.mu.Lock()
	if err := validate(e.targets, e.nameservers, e.tries, e.timeout); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	if e.runDone != nil {
		// A pool is already draining the queue; just wait on it.
		done := e.runDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return e.Snapshot(), ctx.Err()
		}
		return e.Snapshot(), nil
	}

	jobs := e.enumerateLocked()
	done := make(chan struct{})
	e.runDone = done
	e.mu.Unlock()

	runID := uuid.NewString()
	log.Infof("engine: run %s: %d lookups across %d workers", runID, len(jobs), poolSize(len(jobs)))

	runErr := e.drain(ctx, jobs)

	e.cacheMu.Lock()
	e.dead = deadLocked(e.cache)
	snapshot := snapshotLocked(e.cache)
	deadCount := len(e.dead)
	e.cacheMu.Unlock()

	e.mu.Lock()
	e.runDone = nil
	e.mu.Unlock()
	close(done)

	if runErr != nil {
		log.Warnf("engine: run %s aborted: %v", runID, runErr)
		return snapshot, runErr
	}

	log.Infof("engine: run %s complete: %d hosts cached, %d dead", runID, len(snapshot), deadCount)
	return snapshot, nil
}

// drain feeds jobs to a bounded worker pool and blocks until every job has
// been marked done or ctx is cancelled. Completion is tracked per job, not
// by queue emptiness, so a job dequeued but still in flight keeps the run
// open.
func (e *Engine) drain(ctx context.Context, jobs []job) error {
	queue := make(chan job)

	var pending sync.WaitGroup
	pending.Add(len(jobs))

	var workers sync.WaitGroup
	n := poolSize(len(jobs))
	workers.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer workers.Done()
			e.runWorker(ctx, queue, &pending)
		}()
	}

	// Enqueue everything, then close so idle workers exit. With zero jobs
	// the pool still starts at full size and drains the closed channel
	// immediately; nothing blocks on an empty queue.
	go func() {
		defer close(queue)
		for _, j := range jobs {
			select {
			case queue <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	drained := make(chan struct{})
	go func() {
		pending.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		workers.Wait() // no worker outlives the run
		return nil
	case <-ctx.Done():
		// Workers notice the cancellation through their own ctx checks and
		// unwind on their own; the caller is unblocked right away.
		return ctx.Err()
	}
}

// runWorker drains the queue, one lookup per job. The cache lock is scoped
// strictly to the merge step; it is never held across a lookup.
func (e *Engine) runWorker(ctx context.Context, queue <-chan job, pending *sync.WaitGroup) {
	for {
		select {
		case j, ok := <-queue:
			if !ok {
				return
			}
			e.process(ctx, j)
			pending.Done()
		case <-ctx.Done():
			return
		}
	}
}

// process performs one lookup and merges its outcome. A failed lookup
// contributes zero results for the target; it is never fatal to the worker.
func (e *Engine) process(ctx context.Context, j job) {
	e.mu.Lock()
	timeout, domain := e.timeout, e.domain
	e.mu.Unlock()

	results, err := e.resolver.Lookup(ctx, j.target, j.nameserver, timeout, domain)
	e.lookups.Inc()
	if err != nil {
		e.failures.Inc()
		log.Debugf("engine: lookup %q @ %s failed: %v", j.target, j.nameserver, err)
		e.merge(j.target, nil)
		return
	}
	e.merge(j.target, results)
}

// merge unions results into target's cache entry, creating an empty entry
// if the target has none yet. Merging an empty result set marks the target
// attempted-but-unresolved without ever shrinking an existing entry.
func (e *Engine) merge(target string, results []string) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	set, ok := e.cache[target]
	if !ok {
		set = make(Set)
		e.cache[target] = set
	}
	for _, r := range results {
		if r != "" {
			set.Add(r)
		}
	}
}

// enumerateLocked produces the full job multiset: every (target, nameserver)
// pair appears exactly tries times. Callers hold e.mu.
func (e *Engine) enumerateLocked() []job {
	jobs := make([]job, 0, len(e.targets)*len(e.nameservers)*e.tries)
	for attempt := 0; attempt < e.tries; attempt++ {
		for _, t := range e.targets {
			for _, ns := range e.nameservers {
				jobs = append(jobs, job{target: t, nameserver: ns})
			}
		}
	}
	return jobs
}

// Snapshot returns a deep copy of the current cache.
func (e *Engine) Snapshot() Cache {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return snapshotLocked(e.cache)
}

// DeadHosts returns the targets whose cache entry was an empty set when the
// last Resolve call finished. The snapshot is invalidated by any later
// cache mutation.
func (e *Engine) DeadHosts() Set {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	out := make(Set, len(e.dead))
	for t := range e.dead {
		out.Add(t)
	}
	return out
}

// Clear empties the target list and run handles, starting a logically fresh
// session on the same instance. With resetCache the accumulated cache and
// dead-host snapshot are wiped as well.
func (e *Engine) Clear(resetCache bool) {
	e.mu.Lock()
	e.targets = nil
	e.runDone = nil
	e.mu.Unlock()

	if resetCache {
		e.cacheMu.Lock()
		e.cache = make(Cache)
		e.dead = nil
		e.cacheMu.Unlock()
	}
}

// Stats returns the cumulative number of completed and failed lookups.
func (e *Engine) Stats() (lookups, failures int64) {
	return e.lookups.Load(), e.failures.Load()
}

func snapshotLocked(c Cache) Cache {
	out := make(Cache, len(c))
	for t, set := range c {
		cp := make(Set, len(set))
		for v := range set {
			cp.Add(v)
		}
		out[t] = cp
	}
	return out
}

func deadLocked(c Cache) Set {
	dead := make(Set)
	for t, set := range c {
		if len(set) == 0 {
			dead.Add(t)
		}
	}
	return dead
}

// poolSize is min(total jobs, the worker cap). A zero-job run still gets a
// full-capacity pool; the closed queue guarantees it terminates promptly.
func poolSize(jobs int) int {
	if jobs == 0 || jobs > _maxWorkers {
		return _maxWorkers
	}
	return jobs
}

func validate(targets, nameservers []string, tries int, timeout time.Duration) error {
	if len(targets) > 0 && len(nameservers) == 0 {
		return ErrNoNameservers
	}
	if tries < 1 {
		return ErrInvalidTries
	}
	if timeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
