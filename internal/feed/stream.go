package feed

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tmf-trader/internal/model"
)

const (
	heartbeatInterval = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 5 * time.Second

	reconnectBase = time.Second
	reconnectMax  = 32 * time.Second
)

// Sink receives normalized events from the stream reader. Offer methods must
// not block; the dispatcher's ring absorbs bursts.
type Sink interface {
	OfferTick(t model.Tick)
	OfferBidAsk(ba model.BidAsk)
}

// Stream maintains the websocket connection to the quote gateway. It logs in
// when needed, subscribes the tick and bid-ask channels for one symbol, and
// pushes every parsed event into the sink in arrival order. On any read
// failure it reconnects with exponential backoff until the context ends.
type Stream struct {
	client *Client
	wsURL  string
	symbol string
	sink   Sink

	// OnReconnect fires once per reconnect attempt after the first connect.
	OnReconnect func()

	Dialer *websocket.Dialer
}

// NewStream creates a stream for one symbol.
func NewStream(client *Client, symbol string, sink Sink) *Stream {
	return &Stream{
		client: client,
		wsURL:  client.cfg.WSURL,
		symbol: symbol,
		sink:   sink,
		Dialer: websocket.DefaultDialer,
	}
}

// Run connects and streams until ctx is cancelled. Returns ctx.Err().
func (s *Stream) Run(ctx context.Context) error {
	delay := reconnectBase
	first := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !first {
			if s.OnReconnect != nil {
				s.OnReconnect()
			}
			log.Printf("[feed] reconnecting in %s", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if delay *= 2; delay > reconnectMax {
				delay = reconnectMax
			}
		}
		first = false

		err := s.connectAndRead(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("[feed] stream closed: %v", err)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// clean close without cancellation: reconnect from base delay
		delay = reconnectBase
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	sess, err := s.client.EnsureSession(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+sess.Token)
	conn, _, err := s.Dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed] connected, subscribing symbol=%s", s.symbol)
	sub := subscribeRequest{
		Action:   "subscribe",
		Channels: []string{"tick", "bidask"},
		Symbols:  []string{s.symbol},
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.heartbeat(ctx, conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.handle(data)
	}
}

// heartbeat pings the gateway so it keeps the connection alive; a missed
// pong surfaces as a read deadline error in the read loop.
func (s *Stream) heartbeat(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			conn.Close()
			return
		case <-t.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Stream) handle(data []byte) {
	f, err := parseFrame(data)
	if err != nil {
		log.Printf("[feed] %v", err)
		return
	}

	switch f.Event {
	case eventTick:
		t, err := f.tick()
		if err != nil {
			log.Printf("[feed] %v", err)
			return
		}
		s.sink.OfferTick(t)
	case eventBidAsk:
		ba, err := f.bidAsk()
		if err != nil {
			log.Printf("[feed] %v", err)
			return
		}
		s.sink.OfferBidAsk(ba)
	case eventPong:
		// application-level keepalive reply, nothing to do
	case eventError:
		log.Printf("[feed] gateway error: code=%s msg=%s", f.Code, f.Message)
	default:
		log.Printf("[feed] unknown event %q", f.Event)
	}
}
