package kline

import "tickflow.com/internal/quotes/datasource/model"

// aliases, not copies: kline works on the shared model types
type (
	Tick       = model.Tick
	Bar        = model.Bar
	Resolution = model.Resolution
)

const (
	Minute = model.Minute
	Daily  = model.Daily
)
