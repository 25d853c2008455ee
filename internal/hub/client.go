package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"typed_kv_store/internal/kvstore"
)

var ErrClientClosed = errors.New("hub client is closed")

type ClientOptions struct {
	// MaxElapsedTime bounds each connection attempt, including retries.
	// Zero means one minute.
	MaxElapsedTime time.Duration
	Logger         *log.Logger
}

// Client publishes local changes to a hub and delivers the changes published
// by other clients. It implements kvstore.ChangeSource.
type Client struct {
	url            string
	id             string
	logger         *log.Logger
	maxElapsedTime time.Duration
	ctx            context.Context
	cancel         context.CancelFunc

	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[uint64]func(kvstore.Change)
	nextID   uint64
	closed   bool
	wg       sync.WaitGroup
}

// Dial connects to the hub at url (ws:// or wss://), retrying with
// exponential backoff until ctx is done or the attempt times out. Once
// connected the client reconnects on its own until Close.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	maxElapsed := opts.MaxElapsedTime
	if maxElapsed <= 0 {
		maxElapsed = time.Minute
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:            url,
		id:             uuid.NewString(),
		logger:         logger,
		maxElapsedTime: maxElapsed,
		ctx:            clientCtx,
		cancel:         cancel,
		handlers:       make(map[uint64]func(kvstore.Change)),
	}

	conn, err := c.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.conn = conn

	c.wg.Add(1)
	go c.readLoop(conn)
	return c, nil
}

// ID identifies this client as the origin of the messages it publishes.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	operation := func() (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Printf("hub: dial %s: %v", c.url, err)
			return nil, err
		}
		return conn, nil
	}

	conn, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(c.maxElapsedTime),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to hub %s: %w", c.url, err)
	}
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Printf("hub: connection lost: %v", err)
			conn, err = c.connect(c.ctx)
			if err != nil {
				c.logger.Printf("hub: giving up: %v", err)
				return
			}
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				conn.Close()
				return
			}
			c.conn = conn
			c.mu.Unlock()
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Printf("hub: malformed message: %v", err)
			continue
		}
		if msg.Type != messageTypeChange || msg.Origin == c.id {
			continue
		}
		c.dispatch(messageToChange(msg))
	}
}

func messageToChange(msg Message) kvstore.Change {
	if msg.Deleted {
		return kvstore.Change{Key: msg.Key, Deleted: true}
	}
	return kvstore.Change{Key: msg.Key, Value: []byte(msg.Value)}
}

func (c *Client) dispatch(change kvstore.Change) {
	c.mu.Lock()
	handlers := make([]func(kvstore.Change), 0, len(c.handlers))
	for _, handler := range c.handlers {
		handlers = append(handlers, handler)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(change)
	}
}

// Publish sends change to every other client connected to the hub.
func (c *Client) Publish(change kvstore.Change) error {
	data, err := json.Marshal(changeMessage(change, c.id))
	if err != nil {
		return fmt.Errorf("encode change %q: %w", change.Key, err)
	}

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("publish change %q: %w", change.Key, err)
	}
	return nil
}

// Subscribe implements kvstore.ChangeSource.
func (c *Client) Subscribe(handler func(kvstore.Change)) (func(), error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	c.nextID++
	id := c.nextID
	c.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}, nil
}

// Close disconnects from the hub and waits for the read loop to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.handlers = map[uint64]func(kvstore.Change){}
	c.mu.Unlock()

	c.cancel()

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := conn.Close()
	c.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		// The read loop got there first.
		return nil
	}
	return err
}
