package notify

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"eyeclinic/internal/metrics"

	"github.com/rs/zerolog"
)

// HandleSink stores the handle of a freshly scheduled reminder so the next
// amendment can cancel it.
type HandleSink interface {
	SaveReminderHandle(ctx context.Context, appointmentID string, handle Handle) error
}

// DispatcherOptions tunes the delivery queue.
type DispatcherOptions struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// Dispatcher delivers messages asynchronously. Enqueue never blocks; failures
// are logged and counted, never returned to the caller.
//
// Messages about one appointment always go to the same worker, in the order
// they were enqueued, so a superseding message sees the reminder handle issued
// before it even when the handle has not reached the sink yet.
type Dispatcher struct {
	notifier Notifier
	queues   []chan Message
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu     sync.RWMutex
	sink   HandleSink
	closed bool
	wg     sync.WaitGroup

	issuedMu sync.Mutex
	issued   map[string]issuedReminder
}

type issuedReminder struct {
	handle Handle
	sendAt time.Time
}

// NewDispatcher creates a dispatcher; call Start to begin delivering.
func NewDispatcher(notifier Notifier, opts DispatcherOptions, logger *zerolog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	perWorker := (opts.QueueSize + opts.Workers - 1) / opts.Workers
	queues := make([]chan Message, opts.Workers)
	for i := range queues {
		queues[i] = make(chan Message, perWorker)
	}
	return &Dispatcher{
		notifier: notifier,
		queues:   queues,
		timeout:  opts.Timeout,
		now:      time.Now,
		logger:   logger.With().Str("component", "notify").Logger(),
		issued:   make(map[string]issuedReminder),
	}
}

// SetSink wires the reminder handle store.
func (d *Dispatcher) SetSink(sink HandleSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// Start launches the workers. They exit when Stop drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, queue := range d.queues {
		d.wg.Add(1)
		go func(queue <-chan Message) {
			defer d.wg.Done()
			for msg := range queue {
				d.deliver(ctx, msg)
			}
		}(queue)
	}
}

// Stop closes the queue and waits for queued messages to be delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Enqueue schedules msg for delivery and reports whether it was accepted.
func (d *Dispatcher) Enqueue(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queueFor(msg.Appointment.ID) <- msg:
		return true
	default:
		metrics.IncNotification(string(msg.Kind), "dropped")
		d.logger.Warn().
			Str("kind", string(msg.Kind)).
			Str("appointment_id", msg.Appointment.ID).
			Msg("notification queue full, dropping message")
		return false
	}
}

func (d *Dispatcher) queueFor(appointmentID string) chan Message {
	h := fnv.New32a()
	_, _ = h.Write([]byte(appointmentID))
	return d.queues[h.Sum32()%uint32(len(d.queues))]
}

// takeIssued removes and returns the reminder last issued for an appointment.
func (d *Dispatcher) takeIssued(appointmentID string) (issuedReminder, bool) {
	d.issuedMu.Lock()
	defer d.issuedMu.Unlock()
	r, ok := d.issued[appointmentID]
	delete(d.issued, appointmentID)
	return r, ok
}

func (d *Dispatcher) recordIssued(appointmentID string, handle Handle, sendAt time.Time) {
	d.issuedMu.Lock()
	defer d.issuedMu.Unlock()
	now := d.now()
	for id, r := range d.issued {
		if r.sendAt.Before(now) {
			delete(d.issued, id)
		}
	}
	d.issued[appointmentID] = issuedReminder{handle: handle, sendAt: sendAt}
}

func (d *Dispatcher) deliver(parent context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()

	var (
		superseded issuedReminder
		took       bool
	)
	if msg.Supersedes {
		// The handle issued in this process is newer than anything the
		// caller could read back from the store.
		if superseded, took = d.takeIssued(msg.Appointment.ID); took {
			msg.Previous = superseded.handle
		}
	}

	handle, err := d.notifier.Notify(ctx, msg)
	if err != nil {
		if took {
			// Still outstanding; a later message can cancel it.
			d.recordIssued(msg.Appointment.ID, superseded.handle, superseded.sendAt)
		}
		metrics.IncNotification(string(msg.Kind), "failed")
		d.logger.Error().Err(err).
			Str("kind", string(msg.Kind)).
			Str("appointment_id", msg.Appointment.ID).
			Msg("notification failed")
		return
	}
	metrics.IncNotification(string(msg.Kind), "sent")

	if msg.Kind != KindReminder || handle == "" {
		return
	}
	d.recordIssued(msg.Appointment.ID, handle, msg.SendAt)

	d.mu.RLock()
	sink := d.sink
	d.mu.RUnlock()
	if sink == nil {
		return
	}
	if err := sink.SaveReminderHandle(ctx, msg.Appointment.ID, handle); err != nil {
		d.logger.Warn().Err(err).
			Str("appointment_id", msg.Appointment.ID).
			Msg("failed to store reminder handle")
	}
}
