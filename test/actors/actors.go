package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"corebridge/ack"
	"corebridge/event"
)

// Dice is a seeded random source safe for concurrent actors, so a failing
// run can be replayed with the same -seed.
type Dice struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewDice(seed int64) *Dice {
	return &Dice{r: rand.New(rand.NewSource(seed))}
}

func (d *Dice) Intn(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.r.Intn(n)
}

// Catalog is a small fixed set of event contents so that concurrent
// ingestors keep colliding on the same signatures.
type Catalog struct {
	events []event.Event
}

func NewCatalog(size int, origins []string) *Catalog {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &Catalog{}
	for i := 0; i < size; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		origin := origins[i%len(origins)]
		c.events = append(c.events, event.New(
			fmt.Sprintf("StressEvent%d", i%7),
			map[string]any{"seq": fmt.Sprint(i), "origin": origin},
			ts, origin, ts))
	}
	return c
}

// Pick returns a fresh copy of a random catalog entry with a new id, as a
// resubmission from a client would look.
func (c *Catalog) Pick(dice *Dice) event.Event {
	tmpl := c.events[dice.Intn(len(c.events))]
	return event.New(tmpl.Type, tmpl.Payload, tmpl.Timestamp, tmpl.OriginModule, tmpl.Timestamp)
}

// Tally counts ack calls per (event, consumer) pair.
type Tally struct {
	mu       sync.Mutex
	ok       map[[2]string]int
	failed   map[[2]string]int
	eventIDs []string
}

func NewTally() *Tally {
	return &Tally{ok: make(map[[2]string]int), failed: make(map[[2]string]int)}
}

func (t *Tally) record(eventID, consumer string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := [2]string{eventID, consumer}
	if err != nil {
		t.failed[k]++
		return
	}
	t.ok[k]++
}

func (t *Tally) addEvent(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, known := range t.eventIDs {
		if known == id {
			return
		}
	}
	t.eventIDs = append(t.eventIDs, id)
}

func (t *Tally) randomEvent(dice *Dice) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.eventIDs) == 0 {
		return "", false
	}
	return t.eventIDs[dice.Intn(len(t.eventIDs))], true
}

// Bounds returns, per pair, the successful and failed call counts.
func (t *Tally) Bounds() map[[2]string][2]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[[2]string][2]int, len(t.ok)+len(t.failed))
	for k, n := range t.ok {
		b := out[k]
		b[0] = n
		out[k] = b
	}
	for k, n := range t.failed {
		b := out[k]
		b[1] = n
		out[k] = b
	}
	return out
}

// Ingestor saves catalog events; duplicates must collapse onto one row.
// Store errors are expected while chaos kills backends and are only counted.
func Ingestor(ctx context.Context, dice *Dice, store event.Store, catalog *Catalog, tally *Tally, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		saved, err := store.Save(ctx, catalog.Pick(dice))
		if err == nil {
			tally.addEvent(saved.ID)
		}
		time.Sleep(time.Duration(5+dice.Intn(15)) * time.Millisecond)
	}
}

// Acker acknowledges random known events as one of the consumers.
func Acker(ctx context.Context, dice *Dice, ledger *ack.Ledger, tally *Tally, consumers []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, ok := tally.randomEvent(dice)
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		consumer := consumers[dice.Intn(len(consumers))]
		_, err := ledger.Ack(ctx, id, consumer, nil)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tally.record(id, consumer, err)
		time.Sleep(time.Duration(dice.Intn(10)) * time.Millisecond)
	}
}

// Deliverer flips random events to DELIVERED the way the forwarder does.
func Deliverer(ctx context.Context, dice *Dice, store event.Store, tally *Tally, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if id, ok := tally.randomEvent(dice); ok {
			_ = store.UpdateStatus(ctx, id, event.StatusDelivered)
		}
		time.Sleep(time.Duration(20+dice.Intn(30)) * time.Millisecond)
	}
}

// Lister reads by status while writers run.
func Lister(ctx context.Context, dice *Dice, store event.Store, stop <-chan struct{}) error {
	statuses := []event.Status{event.StatusReceived, event.StatusDelivered}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = store.ListByStatus(ctx, statuses[dice.Intn(len(statuses))])
		time.Sleep(time.Duration(30+dice.Intn(50)) * time.Millisecond)
	}
}
