package server

import (
	"encoding/binary"
	"sync"

	"github.com/zeebo/xxh3"
)

// Runnable is a unit of work executed by an Executor
type Runnable interface {
	Run()
	AssociationKey() uint64
}

// Executor runs tasks on a fixed number of worker goroutines
type Executor interface {
	// Submit queues a task, it blocks while all queues are full
	Submit(task Runnable)
	// Close stops accepting tasks and waits until the queued tasks are done
	Close()
}

// taskQueueLen is the number of tasks buffered per worker
const taskQueueLen = 256

// NewExecutor creates an executor with the given number of workers. If ordered is
// set, tasks with the same association key run on the same worker in submission order.
func NewExecutor(workers int, ordered bool) Executor {
	if workers < 1 {
		workers = 1
	}
	if ordered {
		return newKeyedExecutor(workers)
	}
	return newPoolExecutor(workers)
}

// --------------------------------------------------------------------------
// Shared queue
// --------------------------------------------------------------------------

type poolExecutor struct {
	tasks chan Runnable
	wg    sync.WaitGroup
	once  sync.Once
}

func newPoolExecutor(workers int) *poolExecutor {
	e := &poolExecutor{tasks: make(chan Runnable, workers*taskQueueLen)}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go worker(e.tasks, &e.wg)
	}
	return e
}

func (e *poolExecutor) Submit(task Runnable) {
	e.tasks <- task
}

func (e *poolExecutor) Close() {
	e.once.Do(func() {
		close(e.tasks)
		e.wg.Wait()
	})
}

// --------------------------------------------------------------------------
// One queue per worker
// --------------------------------------------------------------------------

type keyedExecutor struct {
	queues []chan Runnable
	wg     sync.WaitGroup
	once   sync.Once
}

func newKeyedExecutor(workers int) *keyedExecutor {
	e := &keyedExecutor{queues: make([]chan Runnable, workers)}
	e.wg.Add(workers)
	for i := range e.queues {
		e.queues[i] = make(chan Runnable, taskQueueLen)
		go worker(e.queues[i], &e.wg)
	}
	return e
}

// route picks the worker of an association key
func (e *keyedExecutor) route(key uint64) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], key)
	return int(xxh3.Hash(b[:]) % uint64(len(e.queues)))
}

func (e *keyedExecutor) Submit(task Runnable) {
	e.queues[e.route(task.AssociationKey())] <- task
}

func (e *keyedExecutor) Close() {
	e.once.Do(func() {
		for _, q := range e.queues {
			close(q)
		}
		e.wg.Wait()
	})
}

func worker(tasks <-chan Runnable, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range tasks {
		task.Run()
	}
}
