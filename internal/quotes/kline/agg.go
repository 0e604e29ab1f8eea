package kline

import (
	"sort"
	"time"
)

// bucket is the in-progress bar for one start time. openTs/closeTs track the
// timestamps that won open/close so far.
type bucket struct {
	bar     Bar
	openTs  time.Time
	closeTs time.Time
}

// Aggregate turns ticks into OHLC bars of width res.
//
// Rules:
//   - buckets are aligned to the unix epoch, not to the first tick
//   - High/Low are max/min price
//   - Open is the earliest tick, Close the latest; equal timestamps are broken
//     by input order (first one opens, last one closes)
//   - empty buckets produce nothing (no gap fill)
//   - ticks for other symbols are ignored
//
// Output is ascending by Start. The function has no side effects so running it
// twice over the same ticks yields the same bars.
func Aggregate(symbol string, ticks []Tick, res Resolution) []Bar {
	if res <= 0 || len(ticks) == 0 {
		return nil
	}
	widthMs := res.Duration().Milliseconds()

	byStart := make(map[int64]*bucket, 64)
	for _, t := range ticks {
		if t.Symbol != symbol {
			continue
		}
		bs := bucketStartMs(t.Ts.UnixMilli(), widthMs, 0)

		b := byStart[bs]
		if b == nil {
			byStart[bs] = &bucket{
				bar: Bar{
					Symbol: symbol,
					Start:  time.UnixMilli(bs).UTC(),
					Open:   t.Price,
					High:   t.Price,
					Low:    t.Price,
					Close:  t.Price,
				},
				openTs:  t.Ts,
				closeTs: t.Ts,
			}
			continue
		}

		if t.Price > b.bar.High {
			b.bar.High = t.Price
		}
		if t.Price < b.bar.Low {
			b.bar.Low = t.Price
		}
		// full precision: sub-millisecond ticks must not tie
		if t.Ts.Before(b.openTs) {
			b.bar.Open = t.Price
			b.openTs = t.Ts
		}
		if !t.Ts.Before(b.closeTs) {
			b.bar.Close = t.Price
			b.closeTs = t.Ts
		}
	}

	starts := make([]int64, 0, len(byStart))
	for s := range byStart {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]Bar, 0, len(starts))
	for _, s := range starts {
		out = append(out, byStart[s].bar)
	}
	return out
}

// BucketStart returns the start of the bucket of width res that contains ts.
func BucketStart(ts time.Time, res Resolution) time.Time {
	widthMs := res.Duration().Milliseconds()
	return time.UnixMilli(bucketStartMs(ts.UnixMilli(), widthMs, 0)).UTC()
}

// bucketStartMs: ((ts+off) floor interval) * interval - off
//
// offsetMs shifts the alignment (e.g. 8h for UTC+8 daily bars); 0 means UTC.
// Division floors so timestamps before 1970 land in the right bucket too.
func bucketStartMs(tsMs, intervalMs, offsetMs int64) int64 {
	x := tsMs + offsetMs
	q := x / intervalMs
	if x%intervalMs != 0 && x < 0 {
		q--
	}
	return q*intervalMs - offsetMs
}
