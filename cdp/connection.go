package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"

	"github.com/davidnuzik/navcheck/log"
)

// ErrConnClosed is returned by calls on a closed connection.
var ErrConnClosed = errors.New("cdp connection closed")

const rawBacklog = 64

var _ cdp.Executor = &Conn{}

// Conn is a CDP WebSocket connection. Responses are routed to the Execute
// call waiting for them; every other frame is handed out on Raw.
type Conn struct {
	ws     *websocket.Conn
	wsURL  string
	logger *log.Logger

	msgID   int64
	writeMu sync.Mutex

	subsMu     sync.Mutex
	subs       map[int64]chan *cdproto.Message
	subsClosed bool

	raw chan []byte

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the CDP endpoint at wsURL.
func Dial(ctx context.Context, wsURL string, logger *log.Logger) (*Conn, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		// Screenshots and DOM snapshots come back as single large frames.
		ReadBufferSize:  1 << 20,
		WriteBufferSize: 1 << 20,
		Proxy:           http.ProxyFromEnvironment,
	}
	ws, _, err := wd.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", wsURL, err)
	}

	c := &Conn{
		ws:     ws,
		wsURL:  wsURL,
		logger: logger,
		subs:   make(map[int64]chan *cdproto.Message),
		raw:    make(chan []byte, rawBacklog),
		done:   make(chan struct{}),
	}
	logger.Debugf("cdp", "established CDP connection to %q", wsURL)
	go c.readLoop()

	return c, nil
}

// URL returns the endpoint the connection was dialed to.
func (c *Conn) URL() string {
	return c.wsURL
}

// Raw returns the frames that are not responses to Execute calls, events
// mostly. Frames are dropped while the channel is full. It is closed when
// the connection is.
func (c *Conn) Raw() <-chan []byte {
	return c.raw
}

// Done is closed once the connection stops reading.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop() {
	defer func() {
		c.subsMu.Lock()
		c.subsClosed = true
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.subsMu.Unlock()
		close(c.raw)
		close(c.done)
	}()

	for {
		_, buf, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !c.closing.Load() {
				c.logger.Errorf("cdp", "wsURL:%q ioErr:%v", c.wsURL, err)
			}
			return
		}

		var msg cdproto.Message
		if err := json.Unmarshal(buf, &msg); err != nil {
			c.logger.Warnf("cdp", "ignoring malformed CDP message: %v", err)
			continue
		}

		if msg.ID > 0 && msg.Method == "" {
			c.subsMu.Lock()
			ch, ok := c.subs[msg.ID]
			delete(c.subs, msg.ID)
			c.subsMu.Unlock()
			if ok {
				ch <- &msg
				continue
			}
		}

		select {
		case c.raw <- buf:
		default:
			c.logger.Debugf("cdp", "dropping message, backlog full: %.80s", buf)
		}
	}
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Execute implements cdp.Executor. It sends method, waits for the matching
// response and decodes its result into res.
func (c *Conn) Execute(ctx context.Context, method string, params, res any) error {
	c.logger.Tracef("cdp:Execute", "wsURL:%q method:%q", c.wsURL, method)

	var (
		buf []byte
		err error
	)
	if params != nil {
		if buf, err = json.Marshal(params); err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
	}

	id := atomic.AddInt64(&c.msgID, 1)
	msg := &cdproto.Message{
		ID:        id,
		SessionID: target.SessionID(sessionID(ctx)),
		Method:    cdproto.MethodType(method),
		Params:    buf,
	}

	ch := make(chan *cdproto.Message, 1)
	c.subsMu.Lock()
	if c.subsClosed {
		c.subsMu.Unlock()
		return ErrConnClosed
	}
	c.subs[id] = ch
	c.subsMu.Unlock()

	if err := c.writeMessage(msg); err != nil {
		c.unsubscribe(id)
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrConnClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if res != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, res); err != nil {
				return fmt.Errorf("unmarshaling %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.unsubscribe(id)
		return ctx.Err()
	}
}

func (c *Conn) unsubscribe(id int64) {
	c.subsMu.Lock()
	delete(c.subs, id)
	c.subsMu.Unlock()
}

func (c *Conn) writeMessage(msg *cdproto.Message) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Method, err)
	}

	return c.Send(buf)
}

// Send writes a raw frame. The frame's response, if any, shows up on Raw.
func (c *Conn) Send(buf []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closing.Load() || c.closed() {
		return ErrConnClosed
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fmt.Errorf("writing to %q: %w", c.wsURL, err)
	}
	return nil
}

// NextID reserves a message ID for a raw frame.
func (c *Conn) NextID() int64 {
	return atomic.AddInt64(&c.msgID, 1)
}

// Close closes the connection and waits for the read loop to stop.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
		<-c.done
	})
	return err
}
