// Package mempoolprocessor drains a miner's frame in order, dispatching
// each order by its OrderType and the market's MarketType. Grounded on
// the original implementation's seq_process_orders and on the spec's
// §4.4 description; it never touches the clearing house directly —
// Cancel-order player-record removal happens upstream, in the player
// package's CancelOrder, before a Cancel order is ever queued.
package mempoolprocessor

import (
	"cosmossdk.io/log"

	"github.com/openalpha/mktsim/internal/auction"
	"github.com/openalpha/mktsim/internal/book"
	"github.com/openalpha/mktsim/internal/order"
)

// SeqProcessOrders drains frame in order against bids/asks under the
// given market type. Cancel orders are removed from the book; Update
// orders are cancel-then-reinserted; Enter orders under CDA are
// immediately crossed and contribute accumulated TradeResults; Enter
// orders under FBA/KLF are inserted and deferred to the batch auction
// the miner runs afterward.
//
// For KLF, Enter orders are FlowOrders and are never rested in bids/asks
// (see book.Book's priceKey note); instead they accumulate into the
// returned bidFlows/askFlows slices for the caller to hand to
// auction.RunKLF.
func SeqProcessOrders(logger log.Logger, frame []*order.Order, bids, asks *book.Book, marketType auction.MarketType) (results []*auction.TradeResult, bidFlows, askFlows []*order.Order) {
	for _, o := range frame {
		switch o.OrderType {
		case order.Cancel:
			processCancel(logger, o, bids, asks)
		case order.Update:
			processUpdate(o, bids, asks)
		case order.Enter:
			switch marketType {
			case auction.CDA:
				if tr := processEnterCDA(o, bids, asks); tr != nil {
					results = append(results, tr)
				}
			case auction.FBA:
				processEnterFBA(o, bids, asks)
			case auction.KLF:
				if o.TradeType == order.Bid {
					bidFlows = append(bidFlows, o)
				} else {
					askFlows = append(askFlows, o)
				}
			}
		}
	}
	return results, bidFlows, askFlows
}

func bookFor(tt order.TradeType, bids, asks *book.Book) *book.Book {
	if tt == order.Bid {
		return bids
	}
	return asks
}

func processCancel(logger log.Logger, o *order.Order, bids, asks *book.Book) {
	b := bookFor(o.TradeType, bids, asks)
	if _, err := b.Cancel(o.OrderID); err != nil {
		logger.Warn("mempoolprocessor: cancel order not found in book", "order_id", o.OrderID, "err", err)
	}
}

func processUpdate(o *order.Order, bids, asks *book.Book) {
	b := bookFor(o.TradeType, bids, asks)
	_ = b.Update(o)
}

// processEnterCDA crosses o against the opposite book, resting any
// residual quantity in o's own side.
func processEnterCDA(o *order.Order, bids, asks *book.Book) *auction.TradeResult {
	opposite := bookFor(o.TradeType.Opposite(), bids, asks)
	tr := auction.CrossCDA(o, opposite)
	if o.Quantity.IsPositive() {
		own := bookFor(o.TradeType, bids, asks)
		own.Insert(o)
	}
	return tr
}

// processEnterFBA simply rests the order for the upcoming batch clear.
func processEnterFBA(o *order.Order, bids, asks *book.Book) {
	own := bookFor(o.TradeType, bids, asks)
	own.Insert(o)
}
