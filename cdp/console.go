package cdp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/mailru/easyjson"
	"github.com/oxtoacart/bpool"
)

// Console relays CDP messages between a line based input and a connection.
// Each input line is a JSON command; the id field is filled in when absent.
// Everything the browser sends is written to out, indented.
type Console struct {
	conn *Conn
	in   io.Reader
	out  io.Writer

	outMu sync.Mutex
	bufs  *bpool.BufferPool
}

// NewConsole returns a console between conn and in/out.
func NewConsole(conn *Conn, in io.Reader, out io.Writer) *Console {
	return &Console{
		conn: conn,
		in:   in,
		out:  out,
		bufs: bpool.NewBufferPool(16),
	}
}

// Run relays until in is exhausted, the connection drops or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- c.recv(ctx) }()
	go func() { errs <- c.send(ctx) }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Console) recv(ctx context.Context) error {
	for {
		select {
		case buf, ok := <-c.conn.Raw():
			if !ok {
				return ErrConnClosed
			}
			c.print("<-", buf)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Console) send(ctx context.Context) error {
	sc := bufio.NewScanner(c.in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		msg, err := c.withID(line)
		if err != nil {
			c.printf("!! %v\n", err)
			continue
		}
		c.print("->", msg)
		if err := c.conn.Send(msg); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading console input: %w", err)
	}
	return io.EOF
}

// withID returns line with an id assigned if it has none. A line that
// already carries an id is sent as typed.
func (c *Console) withID(line []byte) ([]byte, error) {
	var cmd command
	if err := easyjson.Unmarshal(line, &cmd); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	if cmd.Method == "" {
		return nil, fmt.Errorf("invalid command: missing method")
	}
	if cmd.ID != 0 {
		return line, nil
	}
	cmd.ID = c.conn.NextID()

	return easyjson.Marshal(cmd)
}

func (c *Console) print(prefix string, msg []byte) {
	buf := c.bufs.Get()
	defer c.bufs.Put(buf)

	if err := json.Indent(buf, msg, "", "  "); err != nil {
		buf.Reset()
		buf.Write(msg)
	}
	c.printf("%s %s\n", prefix, buf.Bytes())
}

func (c *Console) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	fmt.Fprintf(c.out, format, args...)
}
