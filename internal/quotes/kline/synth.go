package kline

import "time"

// SynthUnit is the spacing between the four synthetic ticks of one bar.
// Daily bars use minutes; intraday bars use 15 seconds so four ticks still fit
// inside a one-minute bucket.
func SynthUnit(res Resolution) time.Duration {
	if res.Intraday() {
		return 15 * time.Second
	}
	return time.Minute
}

// SynthTicks expands a historical bar into open, low, high, close ticks at
// offsets 0, 1, 2, 3 units from the bar's bucket start.
//
// Low is always placed before high. This is an approximation: the real
// intra-bar path is unknown, but re-aggregating the four ticks over the same
// bucket reproduces the bar's OHLC exactly.
func SynthTicks(symbol string, b Bar, res Resolution) [4]Tick {
	base := BucketStart(b.Start, res)
	u := SynthUnit(res)
	return [4]Tick{
		{Ts: base, Symbol: symbol, Price: b.Open},
		{Ts: base.Add(u), Symbol: symbol, Price: b.Low},
		{Ts: base.Add(2 * u), Symbol: symbol, Price: b.High},
		{Ts: base.Add(3 * u), Symbol: symbol, Price: b.Close},
	}
}
