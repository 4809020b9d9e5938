package rcon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

var (
	ErrConnect          = errors.New("rcon: connect failed")
	ErrAuth             = errors.New("rcon: authentication rejected")
	ErrProtocol         = errors.New("rcon: protocol error")
	ErrTimeout          = errors.New("rcon: timed out waiting for response")
	ErrNotAuthenticated = errors.New("rcon: not authenticated")
	ErrCommandTooLong   = errors.New("rcon: command too long")
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultTimeout     = 5 * time.Second

	// authFailedID is the request id a server echoes when the password is wrong
	authFailedID int32 = -1
)

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	DialTimeout time.Duration
	Timeout     time.Duration // per exchange, capped by any sooner ctx deadline
}

// Client speaks the RCON protocol over a single TCP connection.
// Only one exchange is in flight at a time.
type Client struct {
	conn    net.Conn
	timeout time.Duration

	mu            sync.Mutex
	nextID        int32
	authenticated bool
	dead          bool
	lastActivity  time.Time
}

// Dial opens a TCP connection to addr. It does not authenticate.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, addr, err)
	}
	return NewClient(conn, opts), nil
}

// NewClient wraps an established connection
func NewClient(conn net.Conn, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		conn:         conn,
		timeout:      timeout,
		lastActivity: time.Now(),
	}
}

// Authenticate logs in with the RCON password
func (c *Client) Authenticate(ctx context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer stop()

	id := c.allocID()
	if err := c.send(ctx, Packet{ID: id, Type: TypeAuth, Body: []byte(password)}); err != nil {
		return err
	}

	for {
		p, err := c.receive(ctx)
		if err != nil {
			return err
		}
		if p.ID == authFailedID {
			return ErrAuth
		}
		if p.ID != id {
			continue
		}
		switch p.Type {
		case TypeResponseValue:
			// some servers send an empty value frame ahead of the auth response
			continue
		case TypeAuthResponse:
			c.authenticated = true
			return nil
		default:
			c.dead = true
			return fmt.Errorf("%w: unexpected packet type %d during auth", ErrProtocol, p.Type)
		}
	}
}

// Execute runs a command and returns the server's response text.
// Frames carrying other request ids are discarded.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	if len(command) > MaxCommandSize {
		return "", fmt.Errorf("%w: %d bytes", ErrCommandTooLong, len(command))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.authenticated {
		return "", ErrNotAuthenticated
	}

	stop, err := c.begin(ctx)
	if err != nil {
		return "", err
	}
	defer stop()

	id := c.allocID()
	if err := c.send(ctx, Packet{ID: id, Type: TypeExecCommand, Body: []byte(command)}); err != nil {
		return "", err
	}

	for {
		p, err := c.receive(ctx)
		if err != nil {
			return "", err
		}
		if p.ID != id {
			continue
		}
		return string(p.Body), nil
	}
}

// Authenticated reports whether Authenticate succeeded on this connection
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Alive reports whether the connection is still usable.
// A clean timeout keeps it alive; broken or desynchronised streams do not.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead
}

// LastActivity returns when a frame was last sent or received
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Close closes the underlying connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
	return c.conn.Close()
}

// begin arms the connection deadline for one exchange. The returned func
// must be called when the exchange is over.
func (c *Client) begin(ctx context.Context) (func(), error) {
	if c.dead {
		return nil, fmt.Errorf("%w: connection closed", ErrProtocol)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	// The client timeout bounds every exchange; a sooner ctx deadline wins
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.dead = true
		return nil, fmt.Errorf("%w: setting deadline: %w", ErrProtocol, err)
	}

	// Unblock reads as soon as ctx is cancelled
	stopAfter := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	return func() { stopAfter() }, nil
}

func (c *Client) allocID() int32 {
	c.nextID++
	if c.nextID <= 0 {
		c.nextID = 1
	}
	return c.nextID
}

func (c *Client) send(ctx context.Context, p Packet) error {
	if err := WritePacket(c.conn, p); err != nil {
		// A partial write leaves the stream unusable
		c.dead = true
		return c.classify(ctx, err)
	}
	c.lastActivity = time.Now()
	return nil
}

func (c *Client) receive(ctx context.Context) (Packet, error) {
	cr := &countingReader{r: c.conn}
	p, err := ReadPacket(cr)
	if err != nil {
		// Once part of a frame has been consumed the stream is out of sync
		if cr.n > 0 || !isTimeout(err) {
			c.dead = true
		}
		return Packet{}, c.classify(ctx, err)
	}
	c.lastActivity = time.Now()
	return p, nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrProtocol):
		return err
	case isTimeout(err):
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrTimeout, ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: connection closed by server", ErrProtocol)
	default:
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type countingReader struct {
	r io.Reader
	n int
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += n
	return n, err
}
