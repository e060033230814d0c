// stream.go - Real-time CLOB price cache over WebSocket.
//
// Gamma quotes lag the CLOB by a few seconds; the stream keeps a
// tokenID -> last price map that FetchMarket overlays on top of the Gamma
// snapshot. Entirely optional: with no stream attached the bot trades on
// Gamma prices alone.
package market

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const clobWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// PriceStream maintains live token prices from the CLOB market channel.
type PriceStream struct {
	url  string
	conn *websocket.Conn

	mu         sync.RWMutex
	connected  bool
	subscribed map[string]bool // tokenID -> subscribed

	pricesMu sync.RWMutex
	prices   map[string]tokenPrice

	stopCh chan struct{}
}

type tokenPrice struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// wsPriceChange is a market-channel price update event.
type wsPriceChange struct {
	EventType    string `json:"event_type"`
	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		Price   string `json:"price"`
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
	} `json:"price_changes"`
}

// NewPriceStream creates a price stream client.
func NewPriceStream() *PriceStream {
	return &PriceStream{
		url:        clobWSURL,
		subscribed: make(map[string]bool),
		prices:     make(map[string]tokenPrice),
		stopCh:     make(chan struct{}),
	}
}

// Connect dials the CLOB websocket and starts the read loop.
func (ps *PriceStream) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(ps.url, nil)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	ps.conn = conn
	ps.connected = true
	ps.mu.Unlock()

	go ps.readLoop()
	log.Info().Msg("📡 CLOB price stream connected")
	return nil
}

// Subscribe registers token IDs for price updates.
func (ps *PriceStream) Subscribe(tokenIDs ...string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.connected {
		return websocket.ErrCloseSent
	}

	fresh := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if id != "" && !ps.subscribed[id] {
			fresh = append(fresh, id)
			ps.subscribed[id] = true
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	msg := map[string]interface{}{
		"type":       "market",
		"assets_ids": fresh,
	}
	return ps.conn.WriteJSON(msg)
}

// Price returns the latest streamed price for a token, if any.
func (ps *PriceStream) Price(tokenID string) (decimal.Decimal, bool) {
	ps.pricesMu.RLock()
	defer ps.pricesMu.RUnlock()

	tp, ok := ps.prices[tokenID]
	if !ok || time.Since(tp.updatedAt) > time.Minute {
		return decimal.Zero, false
	}
	return tp.price, true
}

// Stop closes the websocket connection.
func (ps *PriceStream) Stop() {
	close(ps.stopCh)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.conn != nil {
		ps.conn.Close()
	}
	ps.connected = false
}

func (ps *PriceStream) readLoop() {
	for {
		select {
		case <-ps.stopCh:
			return
		default:
		}

		_, data, err := ps.conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Price stream read failed, stopping")
			ps.mu.Lock()
			ps.connected = false
			ps.mu.Unlock()
			return
		}

		var ev wsPriceChange
		if err := json.Unmarshal(data, &ev); err != nil || ev.EventType != "price_change" {
			continue
		}

		ps.pricesMu.Lock()
		for _, pc := range ev.PriceChanges {
			price, err := decimal.NewFromString(pc.Price)
			if err != nil || !price.IsPositive() {
				continue
			}
			ps.prices[pc.AssetID] = tokenPrice{price: price, updatedAt: time.Now()}
		}
		ps.pricesMu.Unlock()
	}
}
