// Package engine provides concurrent bulk DNS resolution with a shared,
// monotonically growing result cache.
//
// The engine enumerates one job per (target, nameserver) pair per attempt,
// drains the job set with a bounded worker pool, and merges every outcome
// into a target→result-set cache. Targets for which every job failed end up
// with an empty set and are reported as dead hosts.
//
// # Basic Usage
//
// Configure and run a resolution:
//
//	eng := engine.New(lookup.New())
//	err := eng.Configure(
//		[]string{"www", "mail", "8.8.8.8"},
//		[]string{"8.8.8.8", "1.1.1.1"},
//		"example.com", // search domain for unqualified names
//		2,             // attempts per target/nameserver pair
//		5*time.Second, // per-lookup timeout
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	cache, err := eng.Resolve(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for host, results := range cache {
//		fmt.Printf("%s -> %v\n", host, results.Slice())
//	}
//	fmt.Println("dead:", eng.DeadHosts().Slice())
//
// # Cache Semantics
//
// The cache persists across Resolve calls on the same engine:
//
//   - A key is present once any job for that target completed.
//   - An empty set means every job for the target failed (dead host);
//     a missing key means the target was never attempted.
//   - Merging only ever adds results. Repeated Resolve calls without Clear
//     grow entries, never shrink or reset them.
//   - Clear(true) wipes the cache for a fresh session.
//
// # Concurrency
//
// Worker count is min(total jobs, 510). Workers share one job queue and one
// cache; the cache is protected by a single mutex whose scope is strictly
// the merge step, so slow network lookups never run under the lock.
// Completion is tracked per job: Resolve returns only after every enqueued
// job has been marked done, not merely when the queue is empty.
//
// Calling Resolve while a run is active does not start a second pool; the
// call waits for the active run to drain.
//
// # Error Handling
//
// A failed lookup contributes zero results for its target and never aborts
// the pool. Configuration problems (targets without nameservers, tries < 1,
// non-positive timeout) fail fast from Configure and Resolve. Cancellation
// of the Resolve context is the only fatal runtime condition: the wait is
// aborted immediately and partial results are kept.
package engine
