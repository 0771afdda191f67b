package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey or Redis
// compatible result cache.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

func (cfg *ValkeyConfig) fillDefaults() {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

// Valkey implements Provider against a Valkey server, one short-lived
// connection per operation. The engine's cache traffic is a handful of
// round trips per analysis, so connection pooling buys nothing here.
type Valkey struct {
	cfg ValkeyConfig
}

// NewValkey validates connectivity with a PING and returns the provider.
func NewValkey(cfg ValkeyConfig) (*Valkey, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	cfg.fillDefaults()
	p := &Valkey{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	rep, err := p.do(ctx, "PING")
	if err != nil {
		return nil, err
	}
	if rep.kind != kindStatus || string(rep.data) != "PONG" {
		return nil, fmt.Errorf("unexpected PING response: %s", rep.data)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is
// absent.
func (p *Valkey) Get(ctx context.Context, key string) ([]byte, error) {
	rep, err := p.do(ctx, "GET", []byte(key))
	if err != nil {
		return nil, err
	}
	switch rep.kind {
	case kindNil:
		return nil, ErrCacheMiss
	case kindBulk:
		return rep.data, nil
	default:
		return nil, fmt.Errorf("unexpected GET reply kind %c", rep.kind)
	}
}

// Set stores bytes under key with a millisecond-resolution TTL.
func (p *Valkey) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := [][]byte{[]byte(key), value}
	if ttl > 0 {
		args = append(args, []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
	}
	rep, err := p.do(ctx, "SET", args...)
	if err != nil {
		return err
	}
	if rep.kind != kindStatus || string(rep.data) != "OK" {
		return fmt.Errorf("unexpected SET response: %s", rep.data)
	}
	return nil
}

// Del removes a key.
func (p *Valkey) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", []byte(key))
	return err
}

// Close is a no-op; connections are per-operation.
func (p *Valkey) Close() error { return nil }

// do dials, authenticates, runs one command and closes the connection,
// retrying on transient network errors with exponential backoff.
func (p *Valkey) do(ctx context.Context, cmd string, args ...[]byte) (reply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return reply{}, err
		}
		rep, err := p.attempt(ctx, cmd, args)
		if err == nil {
			return rep, nil
		}
		lastErr = err
		if !transient(err) || attempt == p.cfg.MaxRetries-1 {
			return reply{}, err
		}
		time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
	}
	return reply{}, lastErr
}

func (p *Valkey) attempt(ctx context.Context, cmd string, args [][]byte) (reply, error) {
	w, err := p.dial(ctx)
	if err != nil {
		return reply{}, err
	}
	defer w.close()

	if err := p.handshake(w); err != nil {
		return reply{}, err
	}
	if err := w.send(cmd, args...); err != nil {
		return reply{}, err
	}
	return w.recv()
}

func (p *Valkey) dial(ctx context.Context) (*wire, error) {
	dialer := net.Dialer{Timeout: dialBudget(ctx, p.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &wire{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (p *Valkey) handshake(w *wire) error {
	if p.cfg.Password != "" {
		args := [][]byte{[]byte(p.cfg.Password)}
		if p.cfg.Username != "" {
			args = [][]byte{[]byte(p.cfg.Username), []byte(p.cfg.Password)}
		}
		if err := w.roundTripOK("AUTH", args...); err != nil {
			return fmt.Errorf("valkey auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if err := w.roundTripOK("SELECT", []byte(strconv.Itoa(p.cfg.DB))); err != nil {
			return fmt.Errorf("valkey select: %w", err)
		}
	}
	return nil
}

// reply is one decoded RESP answer. kind carries the RESP type prefix.
type reply struct {
	kind byte
	data []byte
}

const (
	kindStatus  = '+'
	kindBulk    = '$'
	kindInteger = ':'
	kindNil     = '_'
)

// wire speaks the subset of RESP the provider needs over one connection.
type wire struct {
	conn         net.Conn
	r            *bufio.Reader
	w            *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (w *wire) close() { _ = w.conn.Close() }

func (w *wire) send(cmd string, args ...[]byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(w.w, "*%d\r\n", len(args)+1)
	fmt.Fprintf(w.w, "$%d\r\n%s\r\n", len(cmd), cmd)
	for _, arg := range args {
		fmt.Fprintf(w.w, "$%d\r\n", len(arg))
		w.w.Write(arg)
		w.w.WriteString("\r\n")
	}
	return w.w.Flush()
}

func (w *wire) recv() (reply, error) {
	if err := w.conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
		return reply{}, err
	}
	prefix, err := w.r.ReadByte()
	if err != nil {
		return reply{}, err
	}
	switch prefix {
	case '+', ':':
		line, err := w.line()
		return reply{kind: prefix, data: line}, err
	case '-':
		line, err := w.line()
		if err != nil {
			return reply{}, err
		}
		return reply{}, errors.New(string(line))
	case '$':
		line, err := w.line()
		if err != nil {
			return reply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return reply{}, err
		}
		if size < 0 {
			return reply{kind: kindNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(w.r, buf); err != nil {
			return reply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return reply{}, errors.New("malformed bulk string terminator")
		}
		return reply{kind: kindBulk, data: buf[:size]}, nil
	default:
		return reply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (w *wire) roundTripOK(cmd string, args ...[]byte) error {
	if err := w.send(cmd, args...); err != nil {
		return err
	}
	rep, err := w.recv()
	if err != nil {
		return err
	}
	if rep.kind != kindStatus || !strings.EqualFold(string(rep.data), "OK") {
		return fmt.Errorf("unexpected response: %s", rep.data)
	}
	return nil
}

func (w *wire) line() ([]byte, error) {
	line, err := w.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func dialBudget(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d <= 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func transient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
