package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Worker is an interface that can perform a job with args of type T. A
// typical implementation is a struct that embeds WorkerDefaults, implements
// Work, and is registered with AddWorker:
//
//	type SendReceiptArgs struct {
//		OrderID string `json:"orderId"`
//	}
//
//	func (SendReceiptArgs) Kind() string { return "send-receipt" }
//
//	type SendReceiptWorker struct {
//		jobqueue.WorkerDefaults[SendReceiptArgs]
//	}
//
//	func (w *SendReceiptWorker) Work(ctx context.Context, job *jobqueue.Job[SendReceiptArgs]) error {
//		...
//	}
type Worker[T JobArgs] interface {
	// Timeout is the maximum amount of time a single attempt of the job may
	// run before its context is cancelled. Zero (the default) inherits the
	// client-level timeout; -1 disables the timeout entirely.
	Timeout(job *Job[T]) time.Duration

	// Work performs the job. Returning nil marks the job completed;
	// returning an error (or panicking) marks the attempt failed and the
	// queue's retry policy decides what happens next.
	Work(ctx context.Context, job *Job[T]) error
}

// WorkerDefaults is an empty struct that can be embedded in a worker struct
// to make it fulfill the Worker interface with default values.
type WorkerDefaults[T JobArgs] struct{}

// Timeout returns 0, deferring to the client-level job timeout.
func (w WorkerDefaults[T]) Timeout(*Job[T]) time.Duration { return 0 }

// Workers is a registry of available job workers, keyed by job kind. A
// worker must be registered for each kind of job the process consumes.
type Workers struct {
	workersMap map[string]workerInfo
}

type workerInfo struct {
	jobArgs         JobArgs
	workUnitFactory workUnitFactory
}

// NewWorkers initializes a new registry of available job workers.
func NewWorkers() *Workers {
	return &Workers{workersMap: make(map[string]workerInfo)}
}

func (w *Workers) add(jobArgs JobArgs, factory workUnitFactory) error {
	kind := jobArgs.Kind()

	if _, ok := w.workersMap[kind]; ok {
		return fmt.Errorf("worker for kind %q is already registered", kind)
	}

	w.workersMap[kind] = workerInfo{jobArgs: jobArgs, workUnitFactory: factory}
	return nil
}

func (w *Workers) factoryFor(kind string) workUnitFactory {
	info, ok := w.workersMap[kind]
	if !ok {
		return nil
	}
	return info.workUnitFactory
}

// AddWorker registers a Worker on the provided Workers bundle. Panics if a
// worker for the same job kind was already registered, which makes invalid
// hardcoded configuration fail at startup rather than at claim time.
func AddWorker[T JobArgs](workers *Workers, worker Worker[T]) {
	if err := AddWorkerSafely(workers, worker); err != nil {
		panic(err)
	}
}

// AddWorkerSafely registers a worker on the provided Workers bundle,
// returning an error instead of panicking on duplicate registration.
func AddWorkerSafely[T JobArgs](workers *Workers, worker Worker[T]) error {
	var jobArgs T
	return workers.add(jobArgs, &workUnitFactoryWrapper[T]{worker: worker})
}

// WorkFunc wraps a function to implement the Worker interface. An args
// struct implementing JobArgs is still required to specify a Kind.
func WorkFunc[T JobArgs](f func(context.Context, *Job[T]) error) Worker[T] {
	return &workFunc[T]{f: f}
}

type workFunc[T JobArgs] struct {
	WorkerDefaults[T]
	f func(context.Context, *Job[T]) error
}

func (wf *workFunc[T]) Work(ctx context.Context, job *Job[T]) error {
	return wf.f(ctx, job)
}

// workUnit is a single prepared execution of a job, bridging the generic
// Worker[T] world and the untyped executor.
type workUnit interface {
	Timeout() time.Duration
	UnmarshalJob() error
	Work(ctx context.Context) error
}

// workUnitFactory makes a workUnit from a raw job row.
type workUnitFactory interface {
	MakeUnit(jobRow *JobRow) workUnit
}

type workUnitFactoryWrapper[T JobArgs] struct {
	worker Worker[T]
}

func (w *workUnitFactoryWrapper[T]) MakeUnit(jobRow *JobRow) workUnit {
	return &wrapperWorkUnit[T]{jobRow: jobRow, worker: w.worker}
}

type wrapperWorkUnit[T JobArgs] struct {
	job    *Job[T] // set when UnmarshalJob is invoked
	jobRow *JobRow
	worker Worker[T]
}

func (w *wrapperWorkUnit[T]) Timeout() time.Duration { return w.worker.Timeout(w.job) }

func (w *wrapperWorkUnit[T]) UnmarshalJob() error {
	job := &Job[T]{JobRow: w.jobRow}
	if err := json.Unmarshal(w.jobRow.EncodedArgs, &job.Args); err != nil {
		return fmt.Errorf("unmarshaling args for job kind %q: %w", w.jobRow.Kind, err)
	}

	w.job = job
	return nil
}

func (w *wrapperWorkUnit[T]) Work(ctx context.Context) error {
	return w.worker.Work(ctx, w.job)
}
