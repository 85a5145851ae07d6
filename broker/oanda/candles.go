package oanda

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rustyeddy/autotrader/market"
)

// maxCandles is the v20 per-request limit.
const maxCandles = 5000

type ohlc struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool   `json:"complete"`
	Volume   int    `json:"volume"`
	Time     string `json:"time"`
	Mid      ohlc   `json:"mid"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// Candles returns up to count completed mid-price candles, oldest first.
// The still-forming candle is dropped so strategies only see closed bars.
func (c *Client) Candles(ctx context.Context, instrument, granularity string, count int) ([]market.Candle, error) {
	if instrument == "" {
		return nil, errors.New("instrument is required")
	}
	if count <= 0 || count > maxCandles {
		return nil, fmt.Errorf("candle count %d outside 1..%d", count, maxCandles)
	}
	if granularity == "" {
		granularity = "M15"
	}
	q := url.Values{
		"price":       {"M"},
		"granularity": {granularity},
		"count":       {strconv.Itoa(count)},
	}

	var resp candlesResponse
	path := "/v3/instruments/" + url.PathEscape(instrument) + "/candles"
	if err := c.do(ctx, "candles", http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]market.Candle, 0, len(resp.Candles))
	for _, ac := range resp.Candles {
		if !ac.Complete {
			continue
		}
		cd, err := ac.candle()
		if err != nil {
			return nil, err
		}
		out = append(out, cd)
	}
	return out, nil
}

func (ac apiCandle) candle() (market.Candle, error) {
	at := parseTime(ac.Time)
	if at.IsZero() {
		return market.Candle{}, fmt.Errorf("candle time %q", ac.Time)
	}
	cd := market.Candle{Time: at, Volume: float64(ac.Volume)}
	for _, f := range []struct {
		dst *float64
		src string
	}{{&cd.Open, ac.Mid.O}, {&cd.High, ac.Mid.H}, {&cd.Low, ac.Mid.L}, {&cd.Close, ac.Mid.C}} {
		v, err := parseFloat(f.src)
		if err != nil || v <= 0 {
			return market.Candle{}, fmt.Errorf("candle %s price %q", ac.Time, f.src)
		}
		*f.dst = v
	}
	return cd, nil
}
