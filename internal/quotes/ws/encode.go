package ws

import (
	"time"

	"github.com/segmentio/encoding/json"
	"tickflow.com/internal/quotes/datasource/model"
)

const TypePrices = "prices"

// EncodePrices builds one live frame for a batch of ticks.
func EncodePrices(ticks []model.Tick) ([]byte, error) {
	msg := PricesMsg{Type: TypePrices, Data: make([]PriceDTO, len(ticks))}
	for i, t := range ticks {
		msg.Data[i] = PriceDTO{
			Ts:     t.Ts.UTC().Format(time.RFC3339Nano),
			Symbol: t.Symbol,
			Price:  t.Price,
		}
	}
	return json.Marshal(msg)
}

// DecodePrices is the inverse, used by relays and clients.
func DecodePrices(b []byte) ([]model.Tick, error) {
	var msg PricesMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, err
	}
	out := make([]model.Tick, 0, len(msg.Data))
	for _, d := range msg.Data {
		ts, err := time.Parse(time.RFC3339Nano, d.Ts)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Tick{Ts: ts.UTC(), Symbol: d.Symbol, Price: d.Price})
	}
	return out, nil
}
