package bootstrap

import (
	"sort"

	"github.com/cwbudde/algo-spikesort/signal"
)

// Dedup resolves duplicate detections across overlapping groups.
//
// A cluster is retained only when its peak-energy channel is the
// group's center channel; the first group also accepts peaks left of
// center and the last group peaks right of center, so templates near
// the array edges are not systematically dropped. Retained clusters'
// spikes are pooled into one time-sorted list and swept left to right:
// of two detections from different clusters closer than overlapSamples,
// the higher-peak-magnitude cluster's spike survives and becomes the
// comparison point for the next candidate. Clusters that keep less than
// dropThresh of their spikes are discarded whole, their surviving
// spikes with them. Remaining clusters are renumbered densely.
func Dedup(results []GroupResult, overlapSamples int, dropThresh float64) *signal.SpikeTrain {
	// Pass 1: count retained clusters and their spikes so storage is
	// sized up front and ordering stays deterministic.
	type clusterRef struct {
		result  int
		cluster int
	}
	var refs []clusterRef
	total := 0
	for ri := range results {
		g := results[ri].Group
		for ci := range results[ri].Clusters {
			cl := &results[ri].Clusters[ci]
			if !peakAccepted(g, cl.PeakPos) {
				continue
			}
			refs = append(refs, clusterRef{result: ri, cluster: ci})
			total += len(cl.Times)
		}
	}
	if len(refs) == 0 {
		return signal.NewSpikeTrain(nil, 0)
	}

	// Pass 2: fill the pooled event list.
	type event struct {
		time    int
		cluster int
		mag     float64
	}
	events := make([]event, 0, total)
	mags := make([]float64, len(refs))
	original := make([]int, len(refs))
	for id, ref := range refs {
		cl := results[ref.result].Clusters[ref.cluster]
		mags[id] = cl.PeakMag
		original[id] = len(cl.Times)
		for _, t := range cl.Times {
			events = append(events, event{time: t, cluster: id, mag: cl.PeakMag})
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].time != events[j].time {
			return events[i].time < events[j].time
		}
		return events[i].cluster < events[j].cluster
	})

	// Single left-to-right sweep.
	kept := make([]bool, len(events))
	last := -1
	for i := range events {
		if last >= 0 && events[i].time-events[last].time < overlapSamples {
			if events[i].cluster != events[last].cluster && events[i].mag > events[last].mag {
				kept[last] = false
				kept[i] = true
				last = i
			}
			// Candidate loses (or duplicates its own cluster): drop it,
			// the survivor stays the comparison point.
			continue
		}
		kept[i] = true
		last = i
	}

	retained := make([]int, len(refs))
	for i, e := range events {
		if kept[i] {
			retained[e.cluster]++
		}
	}

	// Drop clusters that lost too many spikes to neighbors; their
	// remaining spikes are discarded, not reassigned.
	renumber := make([]int, len(refs))
	next := 0
	for id := range refs {
		if float64(retained[id]) < dropThresh*float64(original[id]) {
			renumber[id] = -1
			continue
		}
		renumber[id] = next
		next++
	}

	var spikes []signal.Spike
	for i, e := range events {
		if !kept[i] {
			continue
		}
		k := renumber[e.cluster]
		if k < 0 {
			continue
		}
		spikes = append(spikes, signal.Spike{Sample: e.time, Template: k, Amp: 1})
	}
	return signal.NewSpikeTrain(spikes, next)
}

// peakAccepted applies the center-channel rule with edge exceptions.
func peakAccepted(g Group, peakPos int) bool {
	switch {
	case peakPos == g.Center:
		return true
	case g.First && peakPos < g.Center:
		return true
	case g.Last && peakPos > g.Center:
		return true
	default:
		return false
	}
}
