// Package notify delivers in-app notifications off the request path.
// Publishing never blocks and never fails the caller: a full queue drops the
// notification with a log line.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"magnus/internal/domain"
	"magnus/internal/repo"
)

const defaultQueueSize = 256

type Dispatcher struct {
	Repo repo.Repo
	Now  func() time.Time

	queue chan domain.Notification
	once  sync.Once
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewDispatcher(r repo.Repo) *Dispatcher {
	return &Dispatcher{
		Repo:  r,
		Now:   time.Now,
		queue: make(chan domain.Notification, defaultQueueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the delivery goroutine. Safe to call more than once.
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		d.wg.Add(1)
		go d.run()
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.done:
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n domain.Notification) {
	if err := d.Repo.InsertNotification(context.Background(), n); err != nil {
		log.Printf("notify: insert %s failed: %v", n.Title, err)
	}
}

// Publish enqueues a notification. It fills in id and timestamp, returns
// immediately, and drops the notification when the queue is full.
func (d *Dispatcher) Publish(n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt == "" {
		now := d.Now
		if now == nil {
			now = time.Now
		}
		n.CreatedAt = now().UTC().Format(time.RFC3339)
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityMedium
	}
	if n.Type == "" {
		n.Type = domain.NotifyInfo
	}
	select {
	case d.queue <- n:
	default:
		log.Printf("notify: queue full, dropping %s", n.Title)
	}
}

// Close drains the queue and stops the delivery goroutine.
func (d *Dispatcher) Close() {
	close(d.done)
	d.wg.Wait()
}
