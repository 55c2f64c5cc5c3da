package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	ws "github.com/stemsi/liveclass/internal/websocket"
)

const (
	keepAliveInterval = 30 * time.Second
	redialMinDelay    = 500 * time.Millisecond
	redialMaxDelay    = 10 * time.Second
)

// WSStore is a Store client talking to a Gateway. It dials lazily, restores
// its subscriptions after a reconnect and keeps redialing in the background
// while subscriptions exist.
type WSStore struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    zerolog.Logger

	dialMu sync.Mutex

	mu      sync.Mutex
	conn    *wsConn
	closed  bool
	online  bool
	nextID  uint64
	nextSub uint64
	pending map[uint64]chan ws.Response
	subs    map[string]*wsSub
	onConn  func(online bool)
	connBox *mailbox
	redial  bool
}

type wsConn struct {
	c    *ws.Conn
	done chan struct{}
}

type wsSub struct {
	path string
	box  *mailbox
}

// NewWSStore creates a client for the gateway at url (ws:// or wss://).
// header is sent with every handshake and may be nil.
func NewWSStore(url string, header http.Header, log zerolog.Logger) *WSStore {
	s := &WSStore{
		url:     url,
		header:  header,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log.With().Str("component", "realtime_ws_client").Logger(),
		pending: make(map[uint64]chan ws.Response),
		subs:    make(map[string]*wsSub),
	}
	s.connBox = newMailbox(func(v any) {
		s.mu.Lock()
		fn := s.onConn
		s.mu.Unlock()
		if fn != nil {
			fn(v.(bool))
		}
	})
	return s
}

// OnConnectionChange registers fn to be told whenever the link to the
// gateway goes up or down. Calls happen on a dedicated goroutine.
func (s *WSStore) OnConnectionChange(fn func(online bool)) {
	s.mu.Lock()
	s.onConn = fn
	s.mu.Unlock()
}

// Connect dials eagerly. It is optional; every operation dials on demand.
func (s *WSStore) Connect(ctx context.Context) error {
	_, err := s.connect(ctx)
	return err
}

func (s *WSStore) Get(ctx context.Context, path string) (any, error) {
	resp, err := s.request(ctx, ws.Request{Op: ws.OpGet, Path: path})
	if err != nil {
		return nil, err
	}
	return decodeRaw(resp.Value)
}

func (s *WSStore) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("realtime: encode value: %w", err)
	}
	_, err = s.request(ctx, ws.Request{Op: ws.OpSet, Path: path, Value: data})
	return err
}

func (s *WSStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.merge(ctx, ws.OpUpdate, path, fields)
}

func (s *WSStore) Touch(ctx context.Context, path string, fields map[string]any) error {
	return s.merge(ctx, ws.OpTouch, path, fields)
}

func (s *WSStore) merge(ctx context.Context, op ws.Op, path string, fields map[string]any) error {
	raw := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("realtime: encode field %q: %w", k, err)
		}
		raw[k] = data
	}
	_, err := s.request(ctx, ws.Request{Op: op, Path: path, Fields: raw})
	return err
}

// Transact is not available to remote clients; atomic read-modify-write
// runs on the server side only.
func (s *WSStore) Transact(context.Context, string, func(any) (any, error)) error {
	return fmt.Errorf("realtime: transact over gateway: %w", errors.ErrUnsupported)
}

func (s *WSStore) Subscribe(ctx context.Context, path string, onChange func(value any)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextSub++
	name := "s" + strconv.FormatUint(s.nextSub, 10)
	sub := &wsSub{path: path, box: newMailbox(onChange)}
	// Registered before the request goes out: the first snapshot may arrive
	// ahead of the acknowledgement.
	s.subs[name] = sub
	s.mu.Unlock()

	if _, err := s.request(ctx, ws.Request{Op: ws.OpSubscribe, Path: path, Sub: name}); err != nil {
		s.dropSub(name)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if !s.dropSub(name) {
				return
			}
			go s.sendIfConnected(ws.Request{Op: ws.OpUnsubscribe, Sub: name})
		})
	}, nil
}

func (s *WSStore) dropSub(name string) bool {
	s.mu.Lock()
	sub, ok := s.subs[name]
	delete(s.subs, name)
	s.mu.Unlock()
	if ok {
		sub.box.close()
	}
	return ok
}

// Close tears the connection down and stops all subscriptions.
func (s *WSStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	subs := s.subs
	s.subs = make(map[string]*wsSub)
	s.failPendingLocked()
	s.mu.Unlock()

	for _, sub := range subs {
		sub.box.close()
	}
	if conn != nil {
		_ = conn.c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.c.Close()
	}
	s.connBox.close()
	return nil
}

func (s *WSStore) request(ctx context.Context, req ws.Request) (ws.Response, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return ws.Response{}, err
	}

	ch := make(chan ws.Response, 1)
	s.mu.Lock()
	s.nextID++
	req.ID = s.nextID
	s.pending[req.ID] = ch
	s.mu.Unlock()

	if err := conn.c.WriteTyped(req); err != nil {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		_ = conn.c.Close()
		return ws.Response{}, fmt.Errorf("%w: %w", ErrDisconnected, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ws.Response{}, ErrDisconnected
		}
		if resp.Event == ws.EventError {
			return resp, gatewayError(resp)
		}
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		return ws.Response{}, ctx.Err()
	}
}

var gatewaySentinels = []error{
	ErrForbidden, ErrNotFound, ErrInvalidPath, ErrCollectionWrite, ErrCollectionSubscribe, ErrNotContainer, ErrTxConflict,
}

// gatewayError restores the sentinel a gateway error was built from, so
// callers can use errors.Is the same way as against a local store.
func gatewayError(resp ws.Response) error {
	for _, sentinel := range gatewaySentinels {
		if strings.HasPrefix(resp.Error, sentinel.Error()) {
			return fmt.Errorf("%w%s", sentinel, strings.TrimPrefix(resp.Error, sentinel.Error()))
		}
	}
	if resp.Code == ws.CodeForbidden {
		return fmt.Errorf("%w: %s", ErrForbidden, resp.Error)
	}
	return fmt.Errorf("realtime gateway: %s", resp.Error)
}

func (s *WSStore) sendIfConnected(req ws.Request) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.c.WriteTyped(req)
	}
}

func (s *WSStore) connect(ctx context.Context) (*wsConn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()

	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	s.mu.Lock()
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()

	raw, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	conn := &wsConn{c: ws.NewConn(raw), done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = raw.Close()
		return nil, ErrClosed
	}
	s.conn = conn
	resubscribe := make([]ws.Request, 0, len(s.subs))
	for name, sub := range s.subs {
		resubscribe = append(resubscribe, ws.Request{Op: ws.OpSubscribe, Path: sub.path, Sub: name})
	}
	s.setOnlineLocked(true)
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.keepAlive(conn)

	for _, req := range resubscribe {
		if err := conn.c.WriteTyped(req); err != nil {
			break
		}
	}
	s.log.Debug().Int("subscriptions", len(resubscribe)).Msg("Connected to gateway")
	return conn, nil
}

func (s *WSStore) readLoop(conn *wsConn) {
	defer close(conn.done)
	for {
		var resp ws.Response
		if err := conn.c.ReadJSON(&resp); err != nil {
			s.lost(conn, err)
			return
		}

		if resp.Event == ws.EventSnapshot {
			v, err := decodeRaw(resp.Value)
			if err != nil {
				s.log.Warn().Err(err).Str("sub", resp.Sub).Msg("Undecodable snapshot")
				continue
			}
			s.mu.Lock()
			sub := s.subs[resp.Sub]
			s.mu.Unlock()
			if sub != nil {
				sub.box.push(v)
			}
			continue
		}

		s.mu.Lock()
		if ch, ok := s.pending[resp.ID]; ok {
			delete(s.pending, resp.ID)
			ch <- resp
		}
		s.mu.Unlock()
	}
}

func (s *WSStore) lost(conn *wsConn, err error) {
	_ = conn.c.Close()

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.failPendingLocked()
	s.setOnlineLocked(false)
	startRedial := !s.closed && !s.redial && len(s.subs) > 0
	if startRedial {
		s.redial = true
	}
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		s.log.Warn().Err(err).Msg("Gateway connection lost")
	}
	if startRedial {
		go s.redialLoop()
	}
}

// redialLoop reconnects with capped exponential back-off so subscriptions
// resume without the caller having to notice.
func (s *WSStore) redialLoop() {
	defer func() {
		s.mu.Lock()
		s.redial = false
		s.mu.Unlock()
	}()

	delay := redialMinDelay
	for {
		time.Sleep(delay)

		s.mu.Lock()
		stop := s.closed || s.conn != nil || len(s.subs) == 0
		s.mu.Unlock()
		if stop {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := s.connect(ctx)
		cancel()
		if err == nil {
			return
		}
		s.log.Debug().Err(err).Dur("retry_in", delay).Msg("Redial failed")
		if delay *= 2; delay > redialMaxDelay {
			delay = redialMaxDelay
		}
	}
}

func (s *WSStore) keepAlive(conn *wsConn) {
	t := time.NewTicker(keepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-t.C:
			if err := conn.c.WriteTyped(ws.Request{Op: ws.OpPing}); err != nil {
				return
			}
		}
	}
}

func (s *WSStore) failPendingLocked() {
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

func (s *WSStore) setOnlineLocked(online bool) {
	if s.online == online {
		return
	}
	s.online = online
	s.connBox.push(online)
}
