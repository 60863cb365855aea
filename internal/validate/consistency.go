package validate

import (
	"container/list"
	"fmt"
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"pbcollector/internal/telemetry"
)

// DefaultConsistencyCapacity bounds the number of events a Consistency holds while waiting for
// their counterparts.
const DefaultConsistencyCapacity = 4096

// recordComparer ignores timestamps, which legitimately differ between endpoints, and compares
// tags as a set.
var recordComparer = cmp.Options{
	cmpopts.IgnoreFields(telemetry.Record{}, "TimeSec", "TimeUsec"),
	cmpopts.IgnoreFields(telemetry.Response{}, "QueryTimeSec", "QueryTimeUsec"),
	cmpopts.SortSlices(func(a, b string) bool { return a < b }),
}

// EventKey identifies one logical event across endpoints. A query and its response share a
// message id, so the kind is part of the key.
type EventKey struct {
	MessageID string
	Kind      telemetry.Kind
}

// KeyOf returns the event key of a record.
func KeyOf(rec *telemetry.Record) EventKey {
	return EventKey{MessageID: string(rec.MessageID), Kind: rec.Kind}
}

// String renders the key for log lines.
func (k EventKey) String() string {
	return fmt.Sprintf("message_id=%x kind=%s", k.MessageID, k.Kind)
}

// Mismatch describes the same logical event decoding differently at two endpoints.
type Mismatch struct {
	Key       EventKey
	Endpoints [2]string
	Left      *telemetry.Record
	Right     *telemetry.Record
	// Diff is a human-readable (-left +right) diff.
	Diff string
}

// Error implements the error interface.
func (m Mismatch) Error() string {
	return fmt.Sprintf(
		"consistency mismatch: %s endpoints=%s,%s diff:\n%s",
		m.Key,
		m.Endpoints[0],
		m.Endpoints[1],
		m.Diff,
	)
}

// Missing describes an event that some endpoint never delivered, while at least one other
// endpoint did. Loss is legitimate under backpressure or after a malformed frame, so it is
// reported separately from mismatches.
type Missing struct {
	Key      EventKey
	Endpoint string
	// Seen is the record as delivered by another endpoint.
	Seen *telemetry.Record
}

// Error implements the error interface.
func (m Missing) Error() string {
	return fmt.Sprintf("consistency missing: %s endpoint=%s", m.Key, m.Endpoint)
}

// Diff compares two records, ignoring timestamps. It returns an empty string if they are equal.
func Diff(left *telemetry.Record, right *telemetry.Record) string {
	return cmp.Diff(left, right, recordComparer)
}

// event is one logical event waiting for every endpoint to deliver or skip it.
type event struct {
	key     EventKey
	records map[string]*telemetry.Record
	// seq is each delivering endpoint's arrival position for this event.
	seq    map[string]uint64
	absent map[string]struct{}
	elem   *list.Element
}

// Consistency compares the records that several endpoints fed by the same exporter receive for
// the same event. Records are matched by message id and kind. Each endpoint's stream is ordered,
// so once an endpoint delivers an event that another endpoint saw after some earlier event, the
// earlier event is known to be missing at that endpoint. It is safe for concurrent use.
type Consistency struct {
	endpoints  []string
	capacity   int
	events     map[EventKey]*event
	order      *list.List
	arrivals   map[string]uint64
	mismatches []Mismatch
	missing    []Missing
	mutex      sync.Mutex
}

// NewConsistency creates a checker over the named endpoints. The first endpoint is the reference
// every other endpoint is compared against. At most capacity events are held waiting for
// counterparts; the oldest is resolved as missing when the bound is exceeded. A non-positive
// capacity selects DefaultConsistencyCapacity.
func NewConsistency(capacity int, endpoints ...string) *Consistency {
	if capacity <= 0 {
		capacity = DefaultConsistencyCapacity
	}

	arrivals := make(map[string]uint64, len(endpoints))
	for _, name := range endpoints {
		arrivals[name] = 0
	}

	return &Consistency{
		endpoints: append([]string(nil), endpoints...),
		capacity:  capacity,
		events:    make(map[EventKey]*event),
		order:     list.New(),
		arrivals:  arrivals,
	}
}

// Observe records the next record of an endpoint's stream. It returns the mismatches and missing
// events this record resolved.
func (c *Consistency) Observe(endpoint string, rec *telemetry.Record) ([]Mismatch, []Missing, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	seq, ok := c.arrivals[endpoint]
	if !ok {
		return nil, nil, fmt.Errorf("consistency: unknown endpoint: endpoint=%s", endpoint)
	}
	c.arrivals[endpoint] = seq + 1

	var mismatches []Mismatch
	var missing []Missing

	resolve := func(ev *event) {
		mm, ms := c.resolve(ev)
		mismatches = append(mismatches, mm...)
		missing = append(missing, ms...)
	}

	key := KeyOf(rec)
	ev, exists := c.events[key]

	if exists {
		if _, dup := ev.records[endpoint]; dup {
			// The endpoint delivered this event twice; settle the first occurrence
			resolve(c.evict(ev))
			exists = false
		}
	}

	if !exists {
		ev = &event{
			key:     key,
			records: make(map[string]*telemetry.Record, len(c.endpoints)),
			seq:     make(map[string]uint64, len(c.endpoints)),
			absent:  make(map[string]struct{}),
		}
		ev.elem = c.order.PushBack(ev)
		c.events[key] = ev
	}

	ev.records[endpoint] = rec
	ev.seq[endpoint] = seq

	for _, stale := range c.skipped(ev) {
		resolve(c.evict(stale))
	}

	if c.settled(ev) {
		resolve(c.evict(ev))
	}

	for c.order.Len() > c.capacity {
		resolve(c.evict(c.order.Front().Value.(*event)))
	}

	c.mismatches = append(c.mismatches, mismatches...)
	c.missing = append(c.missing, missing...)

	return mismatches, missing, nil
}

// Flush resolves every waiting event, reporting each as missing at the endpoints that have not
// delivered it. It is called at the end of an observation window.
func (c *Consistency) Flush() ([]Mismatch, []Missing) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var mismatches []Mismatch
	var missing []Missing

	for c.order.Len() > 0 {
		mm, ms := c.resolve(c.evict(c.order.Front().Value.(*event)))
		mismatches = append(mismatches, mm...)
		missing = append(missing, ms...)
	}

	c.mismatches = append(c.mismatches, mismatches...)
	c.missing = append(c.missing, missing...)

	return mismatches, missing
}

// Mismatches returns every mismatch found so far.
func (c *Consistency) Mismatches() []Mismatch {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]Mismatch(nil), c.mismatches...)
}

// Missing returns every event found missing at some endpoint so far.
func (c *Consistency) Missing() []Missing {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]Missing(nil), c.missing...)
}

// Pending reports, per endpoint, how many of its records are waiting for their counterparts at
// other endpoints.
func (c *Consistency) Pending() map[string]int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	counts := make(map[string]int, len(c.endpoints))
	for _, name := range c.endpoints {
		counts[name] = 0
	}

	for _, ev := range c.events {
		for name := range ev.records {
			counts[name]++
		}
	}

	return counts
}

// skipped marks waiting events as absent at endpoints that are known to have lost them, and
// returns those that became settled. An endpoint that delivered ev has lost every event it has
// not delivered that another endpoint delivered before ev.
func (c *Consistency) skipped(ev *event) []*event {
	var settled []*event

	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		other := elem.Value.(*event)
		if other == ev {
			continue
		}

		marked := false
		for lost := range ev.records {
			if _, ok := other.records[lost]; ok {
				continue
			}
			if _, ok := other.absent[lost]; ok {
				continue
			}

			for witness, seq := range ev.seq {
				if otherSeq, ok := other.seq[witness]; ok && otherSeq < seq {
					other.absent[lost] = struct{}{}
					marked = true
					break
				}
			}
		}

		if marked && c.settled(other) {
			settled = append(settled, other)
		}
	}

	return settled
}

// settled reports whether every endpoint has delivered or skipped ev.
func (c *Consistency) settled(ev *event) bool {
	for _, name := range c.endpoints {
		_, delivered := ev.records[name]
		_, skipped := ev.absent[name]
		if !delivered && !skipped {
			return false
		}
	}

	return true
}

func (c *Consistency) evict(ev *event) *event {
	c.order.Remove(ev.elem)
	delete(c.events, ev.key)
	return ev
}

// resolve compares the delivered records of an event against the first delivering endpoint in
// configuration order and reports every other endpoint as missing.
func (c *Consistency) resolve(ev *event) ([]Mismatch, []Missing) {
	var mismatches []Mismatch
	var missing []Missing

	reference := ""
	for _, name := range c.endpoints {
		if _, ok := ev.records[name]; ok {
			reference = name
			break
		}
	}

	for _, name := range c.endpoints {
		rec, ok := ev.records[name]
		if !ok {
			missing = append(missing, Missing{Key: ev.key, Endpoint: name, Seen: ev.records[reference]})
			continue
		}
		if name == reference {
			continue
		}

		if diff := Diff(ev.records[reference], rec); diff != "" {
			mismatches = append(mismatches, Mismatch{
				Key:       ev.key,
				Endpoints: [2]string{reference, name},
				Left:      ev.records[reference],
				Right:     rec,
				Diff:      diff,
			})
		}
	}

	return mismatches, missing
}

// CompareStreams compares complete per-endpoint streams event by event. Endpoints are compared in
// name order.
func CompareStreams(streams map[string][]*telemetry.Record) ([]Mismatch, []Missing) {
	names := make([]string, 0, len(streams))
	total := 0
	for name, stream := range streams {
		names = append(names, name)
		total += len(stream)
	}
	sort.Strings(names)

	if len(names) < 2 {
		return nil, nil
	}

	c := NewConsistency(total, names...)

	// Interleave the streams so that no endpoint races ahead of the others
	for i := 0; ; i++ {
		progressed := false
		for _, name := range names {
			if i < len(streams[name]) {
				progressed = true
				// Every name is known to c
				_, _, _ = c.Observe(name, streams[name][i])
			}
		}
		if !progressed {
			break
		}
	}

	c.Flush()

	return c.Mismatches(), c.Missing()
}
