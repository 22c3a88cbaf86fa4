package aggregation

import (
	"github.com/codefang-labs/taskgraph/internal/event"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// Job is the closed set of work items the update queue processes (spec.md
// §4.2 "AggregationUpdateQueue is a FIFO of jobs of the following kinds").
type Job interface {
	isJob()
}

// JobUpdateAggregationNumber raises a task's effective aggregation number,
// promoting it to a root if it crosses the root threshold.
type JobUpdateAggregationNumber struct {
	Task        taskgraph.TaskId
	Base        uint32
	HasDistance bool
	Distance    uint32
}

// JobInnerHasNewFollower integrates a newly reachable follower under each
// of a set of uppers.
type JobInnerHasNewFollower struct {
	UpperIDs    []taskgraph.TaskId
	NewFollower taskgraph.TaskId
}

// JobFindAndScheduleDirty descends the dirty containers rooted at TaskIDs
// and schedules every dirty leaf it finds for execution.
type JobFindAndScheduleDirty struct {
	TaskIDs []taskgraph.TaskId
}

// JobDataUpdate propagates an aggregated delta one step upward from Task.
type JobDataUpdate struct {
	Task   taskgraph.TaskId
	Update AggregatedDataUpdate
}

func (JobUpdateAggregationNumber) isJob() {}
func (JobInnerHasNewFollower) isJob()     {}
func (JobFindAndScheduleDirty) isJob()    {}
func (JobDataUpdate) isJob()              {}

// Graph is the subset of the task registry the queue needs: resolving a
// TaskId to its storage. *storage.TaskMap satisfies it directly.
type Graph interface {
	GetOrCreate(id taskgraph.TaskId) *storage.TaskStorage
}

// UpdateQueue is the FIFO described in spec.md §4.2. It holds no reference
// to the task graph itself; Process is handed the graph, event registry,
// and scheduling callback on each call so the queue value stays small
// enough to embed in a persisted operation state.
type UpdateQueue struct {
	jobs []Job
}

// NewUpdateQueue returns an empty queue.
func NewUpdateQueue() *UpdateQueue {
	return &UpdateQueue{}
}

// Push enqueues a job.
func (q *UpdateQueue) Push(j Job) {
	q.jobs = append(q.jobs, j)
}

// IsEmpty reports whether the queue has no pending work.
func (q *UpdateQueue) IsEmpty() bool {
	return len(q.jobs) == 0
}

// Len reports the number of pending jobs.
func (q *UpdateQueue) Len() int {
	return len(q.jobs)
}

// Process pops and applies a single job, pushing whatever derived jobs
// result, and reports whether the queue is now empty. Processing one job
// per call is what lets an ExecuteContext treat a job boundary as a
// suspension point (spec.md §4.3 "Suspension points ... correspond to the
// boundary between aggregation-update jobs").
//
// schedule is invoked for every task JobFindAndScheduleDirty determines
// needs (re-)execution; it is supplied by the backend rather than this
// package to avoid a dependency from aggregation onto the scheduler.
func (q *UpdateQueue) Process(graph Graph, events *event.Registry, schedule func(taskgraph.TaskId)) (done bool) {
	if len(q.jobs) == 0 {
		return true
	}

	job := q.jobs[0]
	q.jobs = q.jobs[1:]

	switch j := job.(type) {
	case JobUpdateAggregationNumber:
		q.processUpdateAggregationNumber(graph, j)
	case JobInnerHasNewFollower:
		q.processInnerHasNewFollower(graph, j)
	case JobFindAndScheduleDirty:
		q.processFindAndScheduleDirty(graph, j, schedule)
	case JobDataUpdate:
		q.processDataUpdate(graph, events, j)
	}

	return len(q.jobs) == 0
}

func (q *UpdateQueue) processUpdateAggregationNumber(graph Graph, j JobUpdateAggregationNumber) {
	ts := graph.GetOrCreate(j.Task)

	maxUpperEffective := uint32(0)

	hasUpper := false

	Uppers(ts, func(upper taskgraph.TaskId) {
		hasUpper = true

		upperNumber := GetNumber(graph.GetOrCreate(upper))
		if upperNumber.Effective > maxUpperEffective || IsRoot(upperNumber) {
			maxUpperEffective = upperNumber.Effective
		}
	})

	current := GetNumber(ts)

	distance := current.Distance
	if j.HasDistance {
		distance = j.Distance
	}

	newEffective := j.Base
	if hasUpper {
		newEffective = Effective(j.Base, distance, maxUpperEffective)
	}

	changed := SetNumber(ts, Number{Base: j.Base, Distance: distance, Effective: newEffective})
	if !changed {
		return
	}

	// Re-evaluate any follower whose distance budget this task's new
	// effective number may have exceeded, per spec.md "possibly promoting
	// followers to inner edges when their distance is exceeded".
	Followers(ts, func(follower taskgraph.TaskId) {
		q.Push(JobUpdateAggregationNumber{Task: follower, Base: GetNumber(graph.GetOrCreate(follower)).Base})
	})
}

func (q *UpdateQueue) processInnerHasNewFollower(graph Graph, j JobInnerHasNewFollower) {
	followerTS := graph.GetOrCreate(j.NewFollower)

	for _, upper := range j.UpperIDs {
		if !AddUpper(followerTS, upper) {
			continue
		}

		upperTS := graph.GetOrCreate(upper)
		AddFollower(upperTS, j.NewFollower)

		q.Push(JobUpdateAggregationNumber{Task: j.NewFollower, Base: GetNumber(followerTS).Base})
	}
}

func (q *UpdateQueue) processFindAndScheduleDirty(graph Graph, j JobFindAndScheduleDirty, schedule func(taskgraph.TaskId)) {
	for _, id := range j.TaskIDs {
		ts := graph.GetOrCreate(id)

		if ts.HasKey(storage.ItemKey{Kind: storage.KindDirty}) {
			if schedule != nil {
				schedule(id)
			}
		}

		if AggregatedDirtyCount(ts) == 0 {
			continue
		}

		var descendants []taskgraph.TaskId

		Followers(ts, func(follower taskgraph.TaskId) {
			descendants = append(descendants, follower)
		})

		if len(descendants) > 0 {
			q.Push(JobFindAndScheduleDirty{TaskIDs: descendants})
		}
	}
}

func (q *UpdateQueue) processDataUpdate(graph Graph, events *event.Registry, j JobDataUpdate) {
	ts := graph.GetOrCreate(j.Task)

	propagated := Apply(ts, j.Update)

	if IsRootTask(ts) && AggregatedDirtyCount(ts) == 0 {
		if item, ok := ts.Get(storage.ItemKey{Kind: storage.KindAggregateRoot}); ok && events != nil {
			if ev, ok := events.Get(item.AggregateRoot.AllCleanEventID); ok {
				ev.Notify(event.NotifyAll)
			}
		}
	}

	if propagated.IsZero() {
		return
	}

	Uppers(ts, func(upper taskgraph.TaskId) {
		q.Push(JobDataUpdate{Task: upper, Update: propagated})
	})
}
