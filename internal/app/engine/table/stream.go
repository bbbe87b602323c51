package table

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventKind names a change-stream record's kind.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventModify EventKind = "MODIFY"
	EventRemove EventKind = "REMOVE"
)

// ViewType selects which images a change record carries.
type ViewType string

const (
	ViewKeysOnly     ViewType = "KEYS_ONLY"
	ViewNewImage     ViewType = "NEW_IMAGE"
	ViewOldImage     ViewType = "OLD_IMAGE"
	ViewNewAndOld    ViewType = "NEW_AND_OLD_IMAGES"
)

// DefaultBatchWindow and DefaultMaxBatch match the source dispatcher's
// defaults (100ms window, 100-record batches).
const (
	DefaultBatchWindow = 100 * time.Millisecond
	DefaultMaxBatch    = 100
)

// Record is one change-stream event.
type Record struct {
	EventID        string
	Kind           EventKind
	Table          string
	Keys           Item
	NewImage       Item
	OldImage       Item
	SequenceNumber uint64
	CreatedAt      time.Time
}

// Subscriber receives a sequence-ordered batch of records for a table it
// registered interest in. Handler errors are logged and isolated from
// peers; they never block or cancel other subscribers' delivery.
type Subscriber struct {
	Name    string
	Handler func(batch []Record) error
}

// StreamConfig is a table's change-stream configuration.
type StreamConfig struct {
	View ViewType
}

// Dispatcher buffers change records per the batching window described in
// spec.md 4.2 and fans each completed batch out to every subscriber
// registered for the record's table, concurrently and with per-subscriber
// error isolation.
//
// Grounded on
// _examples/original_source/src/lws/providers/dynamodb/streams.py
// (StreamDispatcher): a single background loop alternates between
// collecting for a fixed window (or until MAX_BATCH is reached) and
// flushing whatever accumulated, draining the queue non-blockingly before
// each flush.
type Dispatcher struct {
	window   time.Duration
	maxBatch int

	mu          sync.Mutex
	configs     map[string]StreamConfig
	subscribers map[string][]Subscriber
	pending     chan Record
	stop        chan struct{}
	stopped     chan struct{}
	seq         uint64
	log         *logrus.Entry
}

// NewDispatcher constructs a stream dispatcher with the given batching
// parameters. A zero window or maxBatch falls back to the defaults.
func NewDispatcher(window time.Duration, maxBatch int, log *logrus.Entry) *Dispatcher {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		window:      window,
		maxBatch:    maxBatch,
		configs:     make(map[string]StreamConfig),
		subscribers: make(map[string][]Subscriber),
		pending:     make(chan Record, 4096),
		log:         log,
	}
}

// Configure registers or replaces a table's change-stream view selector.
func (d *Dispatcher) Configure(table string, cfg StreamConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs[table] = cfg
}

// Subscribe registers a subscriber for a table's change stream.
func (d *Dispatcher) Subscribe(table string, sub Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[table] = append(d.subscribers[table], sub)
}

// Start launches the background batching loop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.stop != nil {
		d.mu.Unlock()
		return
	}
	d.stop = make(chan struct{})
	d.stopped = make(chan struct{})
	d.mu.Unlock()

	go d.loop()
}

// Stop halts the background loop and flushes any remaining records.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	stop := d.stop
	stopped := d.stopped
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

// Emit constructs and enqueues a change record for table, applying the
// table's configured view filter. It is a no-op if the table has no
// stream configuration or no subscribers.
func (d *Dispatcher) Emit(kind EventKind, table string, keys, newImage, oldImage Item) {
	d.mu.Lock()
	cfg, configured := d.configs[table]
	_, hasSubs := d.subscribers[table]
	d.mu.Unlock()
	if !configured || !hasSubs {
		return
	}

	filteredNew, filteredOld := filterImages(cfg.View, newImage, oldImage)
	record := Record{
		EventID:        uuid.NewString(),
		Kind:           kind,
		Table:          table,
		Keys:           keys,
		NewImage:       filteredNew,
		OldImage:       filteredOld,
		SequenceNumber: atomic.AddUint64(&d.seq, 1),
		CreatedAt:      time.Now(),
	}
	d.pending <- record
}

func filterImages(view ViewType, newImage, oldImage Item) (Item, Item) {
	switch view {
	case ViewKeysOnly:
		return nil, nil
	case ViewNewImage:
		return newImage, nil
	case ViewOldImage:
		return nil, oldImage
	default: // ViewNewAndOld and unset
		return newImage, oldImage
	}
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)
	var collected []Record
	for {
		select {
		case <-d.stop:
			collected = d.drain(collected)
			d.flush(collected)
			return
		default:
		}

		collected = d.collectForWindow(collected)
		d.flush(collected)
		collected = nil
	}
}

func (d *Dispatcher) collectForWindow(collected []Record) []Record {
	deadline := time.Now().Add(d.window)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return d.drain(collected)
		}
		timer := time.NewTimer(remaining)
		select {
		case rec := <-d.pending:
			timer.Stop()
			collected = append(collected, rec)
			if len(collected) >= d.maxBatch {
				return d.drain(collected)
			}
		case <-timer.C:
			return d.drain(collected)
		case <-d.stop:
			timer.Stop()
			return d.drain(collected)
		}
	}
}

// drain empties whatever is immediately available in the pending channel
// without blocking, matching the source dispatcher's non-blocking drain
// before every flush.
func (d *Dispatcher) drain(collected []Record) []Record {
	for {
		select {
		case rec := <-d.pending:
			collected = append(collected, rec)
		default:
			return collected
		}
	}
}

func (d *Dispatcher) flush(records []Record) {
	if len(records) == 0 {
		return
	}

	byTable := make(map[string][]Record)
	for _, r := range records {
		byTable[r.Table] = append(byTable[r.Table], r)
	}

	var wg sync.WaitGroup
	for table, tableRecords := range byTable {
		d.mu.Lock()
		subs := append([]Subscriber(nil), d.subscribers[table]...)
		d.mu.Unlock()
		if len(subs) == 0 {
			continue
		}
		for _, batch := range splitBatches(tableRecords, d.maxBatch) {
			for _, sub := range subs {
				wg.Add(1)
				go func(sub Subscriber, batch []Record) {
					defer wg.Done()
					d.invoke(sub, batch)
				}(sub, batch)
			}
		}
	}
	wg.Wait()
}

func (d *Dispatcher) invoke(sub Subscriber, batch []Record) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("subscriber", sub.Name).Errorf("stream handler panicked: %v", r)
		}
	}()
	if err := sub.Handler(batch); err != nil {
		d.log.WithField("subscriber", sub.Name).WithError(err).Error("stream handler error")
	}
}

func splitBatches(records []Record, maxBatch int) [][]Record {
	var batches [][]Record
	for i := 0; i < len(records); i += maxBatch {
		end := i + maxBatch
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[i:end])
	}
	return batches
}
