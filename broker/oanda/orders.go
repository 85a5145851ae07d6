package oanda

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
)

type priceDetails struct {
	Price string `json:"price"`
}

type clientExtensions struct {
	ID string `json:"id,omitempty"`
}

type marketOrder struct {
	Type                  string            `json:"type"`
	Instrument            string            `json:"instrument"`
	Units                 string            `json:"units"`
	TimeInForce           string            `json:"timeInForce"`
	PositionFill          string            `json:"positionFill"`
	StopLossOnFill        *priceDetails     `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill      *priceDetails     `json:"takeProfitOnFill,omitempty"`
	ClientExtensions      *clientExtensions `json:"clientExtensions,omitempty"`
	TradeClientExtensions *clientExtensions `json:"tradeClientExtensions,omitempty"`
}

type orderRequest struct {
	Order marketOrder `json:"order"`
}

type orderResponse struct {
	OrderFillTransaction *struct {
		ID          string `json:"id"`
		OrderID     string `json:"orderID"`
		Price       string `json:"price"`
		Time        string `json:"time"`
		TradeOpened *struct {
			TradeID string `json:"tradeID"`
			Units   string `json:"units"`
			Price   string `json:"price"`
		} `json:"tradeOpened"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
}

// PlaceOrder submits a fill-or-kill market order with stop and target
// attached on fill.
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	precision := 5
	if meta, err := market.Lookup(req.Instrument); err == nil {
		precision = meta.DisplayPrecision
	}

	o := marketOrder{
		Type:         "MARKET",
		Instrument:   req.Instrument,
		Units:        strconv.FormatFloat(req.Units, 'f', 0, 64),
		TimeInForce:  "FOK",
		PositionFill: "DEFAULT",
	}
	if req.StopLoss > 0 {
		o.StopLossOnFill = &priceDetails{Price: formatPrice(req.StopLoss, precision)}
	}
	if req.TakeProfit > 0 {
		o.TakeProfitOnFill = &priceDetails{Price: formatPrice(req.TakeProfit, precision)}
	}
	if req.ClientOrderID != "" {
		o.ClientExtensions = &clientExtensions{ID: req.ClientOrderID}
		o.TradeClientExtensions = &clientExtensions{ID: req.ClientOrderID}
	}

	var resp orderResponse
	if err := c.do(ctx, "place_order", http.MethodPost, c.accountPath("/orders"), nil, orderRequest{Order: o}, &resp); err != nil {
		return broker.Fill{}, err
	}

	if resp.OrderCancelTransaction != nil {
		return broker.Fill{}, &broker.TerminalError{Op: "place_order", Reason: resp.OrderCancelTransaction.Reason}
	}
	ft := resp.OrderFillTransaction
	if ft == nil || ft.TradeOpened == nil {
		return broker.Fill{}, &broker.TerminalError{Op: "place_order", Reason: "no_fill"}
	}

	price, err := parseFloat(ft.TradeOpened.Price)
	if err != nil || price == 0 {
		if price, err = parseFloat(ft.Price); err != nil {
			return broker.Fill{}, fmt.Errorf("place_order: parse fill price: %w", err)
		}
	}
	units, err := parseFloat(ft.TradeOpened.Units)
	if err != nil {
		return broker.Fill{}, fmt.Errorf("place_order: parse units: %w", err)
	}

	return broker.Fill{
		OrderID:    ft.OrderID,
		TradeID:    ft.TradeOpened.TradeID,
		Instrument: req.Instrument,
		Units:      units,
		Price:      price,
		Time:       parseTime(ft.Time),
	}, nil
}

type orderLookupResponse struct {
	Order struct {
		ID            string `json:"id"`
		State         string `json:"state"`
		Instrument    string `json:"instrument"`
		TradeOpenedID string `json:"tradeOpenedID"`
		FilledTime    string `json:"filledTime"`
	} `json:"order"`
}

// FindOrder resolves an order by client extension id. Orders the broker
// never received, and orders it cancelled, report found=false.
func (c *Client) FindOrder(ctx context.Context, clientOrderID string) (broker.Fill, bool, error) {
	var resp orderLookupResponse
	err := c.do(ctx, "find_order", http.MethodGet, c.accountPath("/orders/@%s", url.PathEscape(clientOrderID)), nil, nil, &resp)
	if err != nil {
		if isNotFound(err) {
			return broker.Fill{}, false, nil
		}
		return broker.Fill{}, false, err
	}
	if resp.Order.State != "FILLED" || resp.Order.TradeOpenedID == "" {
		return broker.Fill{}, false, nil
	}

	st, err := c.GetTradeStatus(ctx, resp.Order.TradeOpenedID)
	if err != nil {
		return broker.Fill{}, false, err
	}
	return broker.Fill{
		OrderID:    resp.Order.ID,
		TradeID:    st.TradeID,
		Instrument: st.Instrument,
		Units:      st.Units,
		Price:      st.Entry,
		Time:       parseTime(resp.Order.FilledTime),
	}, true, nil
}
