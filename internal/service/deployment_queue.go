package service

import (
	"context"
	"log"
	"sync"
)

type deploymentTask struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	run       func(context.Context)
}

// DeploymentQueue runs session tasks on a fixed number of workers. A session
// has at most one queued or running task; its context is cancelled by Stop.
type DeploymentQueue struct {
	workers int
	queue   chan *deploymentTask
	done    chan struct{}
	cancels *CancelMap[string]

	wg sync.WaitGroup
	mu sync.Mutex
}

func NewDeploymentQueue(workers int, maxQueued int64) *DeploymentQueue {
	return &DeploymentQueue{
		workers: max(1, workers),
		queue:   make(chan *deploymentTask, maxQueued),
		done:    make(chan struct{}),
		cancels: NewCancelMap[string](),
	}
}

// Enqueue schedules run for the session. It fails with ErrSessionBusy while
// the session has another task and with ErrDeploymentQueueFull when no slot
// is left.
func (dq *DeploymentQueue) Enqueue(sessionID string, run func(context.Context)) error {
	ctx, cancel := context.WithCancel(context.Background())
	if !dq.cancels.AddCancel(sessionID, cancel) {
		cancel()
		return ErrSessionBusy
	}
	select {
	case dq.queue <- &deploymentTask{sessionID: sessionID, ctx: ctx, cancel: cancel, run: run}:
		return nil
	default:
		dq.cancels.RemoveCancel(sessionID)
		cancel()
		return NewErrDeploymentQueueFull()
	}
}

// Stop cancels the session's queued or running task and reports whether
// there was one.
func (dq *DeploymentQueue) Stop(sessionID string) bool {
	return dq.cancels.Call(sessionID)
}

func (dq *DeploymentQueue) Active(sessionID string) bool {
	return dq.cancels.Has(sessionID)
}

func (dq *DeploymentQueue) Start() {
	for range dq.workers {
		dq.wg.Go(dq.work)
	}
}

// Shutdown cancels every task and waits for the workers to return.
func (dq *DeploymentQueue) Shutdown() {
	dq.mu.Lock()
	select {
	case <-dq.done:
	default:
		close(dq.done)
	}
	dq.mu.Unlock()
	dq.cancels.CallAll()
	dq.wg.Wait()
}

func (dq *DeploymentQueue) work() {
	for {
		select {
		case task := <-dq.queue:
			dq.process(task)
		case <-dq.done:
			return
		}
	}
}

func (dq *DeploymentQueue) process(task *deploymentTask) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("deployment task of session %s panicked: %v\n", task.sessionID, r)
		}
		dq.cancels.RemoveCancel(task.sessionID)
		task.cancel()
	}()
	if task.ctx.Err() != nil {
		log.Printf("deployment task of session %s cancelled before start\n", task.sessionID)
		return
	}
	task.run(task.ctx)
}
