package stores

import (
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Events from multiple devices are shaped into day buckets of "runs" for
// bubble-run rendering: a run is a maximal consecutive group of same-day,
// same-provenance, same-type events whose neighbors are under a minute
// apart.

// EventSetTimeframe is the maximum gap between two consecutive events of
// the same run, in microseconds.
const EventSetTimeframe = int64(60 * 1000 * 1000)

// ProvenanceEvent is one timestamped, authored event to be grouped.
type ProvenanceEvent[T any] struct {
	Event T
	// microseconds since the Unix epoch
	Timestamp int64
	Author    DeviceId
	Type      string
}

type EventSetEntry[T any] struct {
	Id    string
	Event T
}

// EventSet is one run, ordered most-recent first.
type EventSet[T any] []EventSetEntry[T]

type EventSetsInDay[T any] struct {
	// midnight of the day, local time
	Day time.Time
	// runs within the day, most-recent first
	EventSets []EventSet[T]
}

// OrderInEventSets partitions events into day buckets of runs, most-recent
// day first. Provenance sets partition device ids into logical senders; two
// events share provenance when their authors resolve to the same set, and
// authors outside every set are grouped under a common "no set" membership.
//
// The grouping is a pure function of its inputs: ties in timestamp are
// broken by event id, so identical inputs always produce identical buckets.
func OrderInEventSets[T any](events map[string]ProvenanceEvent[T], provenanceSets [][]DeviceId) []EventSetsInDay[T] {
	setIndexes := map[DeviceId]int{}
	for i, set := range provenanceSets {
		for _, author := range set {
			if _, ok := setIndexes[author]; !ok {
				setIndexes[author] = i
			}
		}
	}
	provenanceOf := func(author DeviceId) int {
		if index, ok := setIndexes[author]; ok {
			return index
		}
		return -1
	}

	ids := maps.Keys(events)
	slices.SortFunc(ids, func(a string, b string) int {
		ta := events[a].Timestamp
		tb := events[b].Timestamp
		if tb < ta {
			return -1
		} else if ta < tb {
			return 1
		}
		// stable tie-break, descending by id
		if b < a {
			return -1
		} else if a < b {
			return 1
		} else {
			return 0
		}
	})

	days := []EventSetsInDay[T]{}
	type runState struct {
		timestamp  int64
		provenance int
		eventType  string
	}
	var last runState

	for _, id := range ids {
		event := events[id]
		entry := EventSetEntry[T]{
			Id:    id,
			Event: event.Event,
		}
		day := dayOf(event.Timestamp)
		state := runState{
			timestamp:  event.Timestamp,
			provenance: provenanceOf(event.Author),
			eventType:  event.Type,
		}

		if len(days) == 0 || !days[len(days)-1].Day.Equal(day) {
			days = append(days, EventSetsInDay[T]{
				Day: day,
				EventSets: []EventSet[T]{
					{entry},
				},
			})
			last = state
			continue
		}

		currentDay := &days[len(days)-1]
		sameProvenance := last.provenance == state.provenance
		sameType := last.eventType == state.eventType
		sameTimeframe := last.timestamp-state.timestamp < EventSetTimeframe
		if sameProvenance && sameType && sameTimeframe {
			runIndex := len(currentDay.EventSets) - 1
			currentDay.EventSets[runIndex] = append(currentDay.EventSets[runIndex], entry)
		} else {
			currentDay.EventSets = append(currentDay.EventSets, EventSet[T]{entry})
		}
		last = state
	}

	return days
}

func dayOf(timestampMicros int64) time.Time {
	t := time.UnixMicro(timestampMicros)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
