package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"
)

// fakeResolver implements lookup.Clienter with a pluggable lookup func.
type fakeResolver struct {
	fn    func(target, nameserver string) ([]string, error)
	calls atomic.Int64
}

func (f *fakeResolver) Lookup(ctx context.Context, target, nameserver string, _ time.Duration, _ string) ([]string, error) {
	f.calls.Inc()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.fn(target, nameserver)
}

func answers(m map[string][]string) func(string, string) ([]string, error) {
	return func(target, _ string) ([]string, error) {
		if rs, ok := m[target]; ok {
			return rs, nil
		}
		return nil, errors.New("lookup failed")
	}
}

type EngineTestSuite struct {
	suite.Suite
}

func (s *EngineTestSuite) newEngine(fn func(string, string) ([]string, error)) (*Engine, *fakeResolver) {
	fake := &fakeResolver{fn: fn}
	return New(fake), fake
}

func (s *EngineTestSuite) TestResolveEmptyTargets() {
	testCases := []struct {
		name        string
		nameservers []string
		tries       int
	}{
		{name: "no nameservers", nameservers: nil, tries: 1},
		{name: "one nameserver", nameservers: []string{"8.8.8.8"}, tries: 1},
		{name: "many nameservers many tries", nameservers: []string{"8.8.8.8", "1.1.1.1"}, tries: 5},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			eng, fake := s.newEngine(answers(nil))
			s.Require().NoError(eng.Configure(nil, tc.nameservers, "", tc.tries, time.Second))

			// Must terminate promptly despite the full-capacity idle pool.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			cache, err := eng.Resolve(ctx)
			s.Require().NoError(err)
			s.Empty(cache)
			s.Empty(eng.DeadHosts())
			s.Zero(fake.calls.Load())
		})
	}
}

func (s *EngineTestSuite) TestResolveClassification() {
	eng, _ := s.newEngine(answers(map[string][]string{
		"www": {"1.2.3.4"},
	}))
	s.Require().NoError(eng.Configure(
		[]string{"www", "mail"},
		[]string{"8.8.8.8"},
		"google.com", 1, time.Second,
	))

	cache, err := eng.Resolve(context.Background())
	s.Require().NoError(err)

	s.Len(cache, 2)
	s.True(cache["www"].Contains("1.2.3.4"))
	s.Empty(cache["mail"], "every job failed, entry must be an empty set, not absent")

	dead := eng.DeadHosts()
	s.True(dead.Contains("mail"))
	s.False(dead.Contains("www"))
}

func (s *EngineTestSuite) TestJobEnumeration() {
	eng, fake := s.newEngine(answers(nil))
	s.Require().NoError(eng.Configure(
		[]string{"a", "b"},
		[]string{"8.8.8.8", "1.1.1.1"},
		"", 3, time.Second,
	))

	_, err := eng.Resolve(context.Background())
	s.Require().NoError(err)

	// 2 targets x 2 nameservers x 3 tries.
	s.EqualValues(12, fake.calls.Load())

	lookups, failures := eng.Stats()
	s.EqualValues(12, lookups)
	s.EqualValues(12, failures)
}

func (s *EngineTestSuite) TestDuplicateTargetsCollapse() {
	eng, fake := s.newEngine(answers(nil))
	s.Require().NoError(eng.Configure(
		[]string{"a", "a", "a"},
		[]string{"8.8.8.8"},
		"", 1, time.Second,
	))

	_, err := eng.Resolve(context.Background())
	s.Require().NoError(err)
	s.EqualValues(1, fake.calls.Load())
}

func (s *EngineTestSuite) TestMonotonicMerge() {
	replies := map[string][]string{"www": {"1.1.1.1"}}
	eng, _ := s.newEngine(answers(replies))
	s.Require().NoError(eng.Configure([]string{"www"}, []string{"8.8.8.8"}, "", 1, time.Second))

	cache, err := eng.Resolve(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"1.1.1.1"}, cache["www"].Slice())

	// Second run answers differently; the entry must only grow.
	replies["www"] = []string{"2.2.2.2"}
	cache, err = eng.Resolve(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"1.1.1.1", "2.2.2.2"}, cache["www"].Slice())

	// Third run fails entirely; the non-empty entry must not reset.
	delete(replies, "www")
	cache, err = eng.Resolve(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"1.1.1.1", "2.2.2.2"}, cache["www"].Slice())
	s.False(eng.DeadHosts().Contains("www"))
}

func (s *EngineTestSuite) TestClear() {
	eng, _ := s.newEngine(answers(map[string][]string{"www": {"1.1.1.1"}}))
	s.Require().NoError(eng.Configure([]string{"www"}, []string{"8.8.8.8"}, "", 1, time.Second))

	_, err := eng.Resolve(context.Background())
	s.Require().NoError(err)
	s.NotEmpty(eng.Snapshot())

	eng.Clear(false)
	s.NotEmpty(eng.Snapshot(), "clearing without cache reset keeps results")

	eng.Clear(true)
	s.Empty(eng.Snapshot())
	s.Empty(eng.DeadHosts())

	// Repopulates from scratch after reconfiguring.
	s.Require().NoError(eng.Configure([]string{"www"}, []string{"8.8.8.8"}, "", 1, time.Second))
	cache, err := eng.Resolve(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"1.1.1.1"}, cache["www"].Slice())
}

func (s *EngineTestSuite) TestConcurrentMergeSafety() {
	const nTargets = 25

	var targets []string
	for i := 0; i < nTargets; i++ {
		targets = append(targets, fmt.Sprintf("host%02d", i))
	}
	nameservers := []string{"ns1", "ns2", "ns3", "ns4"}

	// Every (target, nameserver) job reports a distinct result, so a lost
	// update is directly observable as a missing set member.
	eng, _ := s.newEngine(func(target, nameserver string) ([]string, error) {
		return []string{target + "@" + nameserver}, nil
	})
	s.Require().NoError(eng.Configure(targets, nameservers, "", 1, time.Second))

	cache, err := eng.Resolve(context.Background())
	s.Require().NoError(err)

	s.Len(cache, nTargets)
	for _, t := range targets {
		set := cache[t]
		s.Require().Len(set, len(nameservers), "target %s lost results", t)
		for _, ns := range nameservers {
			s.True(set.Contains(t+"@"+ns), "missing %s@%s", t, ns)
		}
	}
	s.Empty(eng.DeadHosts())
}

func (s *EngineTestSuite) TestConfigureValidation() {
	testCases := []struct {
		name        string
		targets     []string
		nameservers []string
		tries       int
		timeout     time.Duration
		wantErr     error
	}{
		{
			name:        "targets without nameservers",
			targets:     []string{"www"},
			nameservers: nil,
			tries:       1,
			timeout:     time.Second,
			wantErr:     ErrNoNameservers,
		},
		{
			name:        "zero tries",
			targets:     []string{"www"},
			nameservers: []string{"8.8.8.8"},
			tries:       0,
			timeout:     time.Second,
			wantErr:     ErrInvalidTries,
		},
		{
			name:        "zero timeout",
			targets:     []string{"www"},
			nameservers: []string{"8.8.8.8"},
			tries:       1,
			timeout:     0,
			wantErr:     ErrInvalidTimeout,
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			eng, _ := s.newEngine(answers(nil))
			err := eng.Configure(tc.targets, tc.nameservers, "", tc.tries, tc.timeout)
			s.ErrorIs(err, tc.wantErr)
		})
	}
}

func (s *EngineTestSuite) TestResolveWhileRunning() {
	release := make(chan struct{})
	fake := &fakeResolver{fn: nil}
	fake.fn = func(target, _ string) ([]string, error) {
		<-release
		return []string{"1.1.1.1"}, nil
	}
	eng := New(fake)
	s.Require().NoError(eng.Configure([]string{"www"}, []string{"8.8.8.8"}, "", 1, time.Second))

	first := make(chan error, 1)
	go func() {
		_, err := eng.Resolve(context.Background())
		first <- err
	}()

	// Give the first run time to start its pool, then issue a second
	// Resolve: it must wait on the active run, not start another pool.
	time.Sleep(50 * time.Millisecond)
	second := make(chan error, 1)
	go func() {
		_, err := eng.Resolve(context.Background())
		second <- err
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	s.Require().NoError(<-first)
	s.Require().NoError(<-second)
	s.EqualValues(1, fake.calls.Load(), "second Resolve must not enqueue new jobs")
}

func (s *EngineTestSuite) TestResolveCancellation() {
	eng, _ := s.newEngine(func(target, _ string) ([]string, error) {
		time.Sleep(10 * time.Second)
		return nil, errors.New("too slow")
	})
	s.Require().NoError(eng.Configure([]string{"www", "mail"}, []string{"8.8.8.8"}, "", 1, time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := eng.Resolve(ctx)
	s.Require().ErrorIs(err, context.Canceled)
	s.Less(time.Since(start), 5*time.Second, "cancellation must unblock the caller immediately")
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestPoolSize(t *testing.T) {
	testCases := []struct {
		jobs int
		want int
	}{
		{jobs: 0, want: _maxWorkers},
		{jobs: 1, want: 1},
		{jobs: 12, want: 12},
		{jobs: _maxWorkers, want: _maxWorkers},
		{jobs: _maxWorkers + 1, want: _maxWorkers},
		{jobs: 100000, want: _maxWorkers},
	}

	for _, tc := range testCases {
		if got := poolSize(tc.jobs); got != tc.want {
			t.Errorf("poolSize(%d) = %d, want %d", tc.jobs, got, tc.want)
		}
	}
}

func TestEnumerateComplete(t *testing.T) {
	eng := New(&fakeResolver{})
	if err := eng.Configure(
		[]string{"b", "a"},
		[]string{"ns1", "ns2"},
		"", 2, time.Second,
	); err != nil {
		t.Fatal(err)
	}

	eng.mu.Lock()
	jobs := eng.enumerateLocked()
	eng.mu.Unlock()

	if len(jobs) != 8 {
		t.Fatalf("expected 8 jobs, got %d", len(jobs))
	}

	// Every (target, nameserver) pair appears exactly `tries` times.
	counts := make(map[job]int)
	for _, j := range jobs {
		counts[j]++
	}
	for _, target := range []string{"a", "b"} {
		for _, ns := range []string{"ns1", "ns2"} {
			j := job{target: target, nameserver: ns}
			if counts[j] != 2 {
				t.Errorf("pair %v enumerated %d times, want 2", j, counts[j])
			}
		}
	}
}

func TestMergeContract(t *testing.T) {
	eng := New(&fakeResolver{})

	// Merging an empty result set creates an attempted-but-unresolved entry.
	eng.merge("dead", nil)
	snap := eng.Snapshot()
	if set, ok := snap["dead"]; !ok || len(set) != 0 {
		t.Fatalf("expected empty entry for dead, got %v (present=%v)", set, ok)
	}

	// A later empty merge never resets a populated entry.
	eng.merge("live", []string{"1.1.1.1", ""})
	eng.merge("live", nil)
	snap = eng.Snapshot()
	if got := snap["live"].Slice(); len(got) != 1 || got[0] != "1.1.1.1" {
		t.Fatalf("expected [1.1.1.1], got %v", got)
	}
}
