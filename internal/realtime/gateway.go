package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	ws "github.com/stemsi/liveclass/internal/websocket"
)

const maxSubscriptionsPerConn = 16

// Gateway serves a Store to remote clients over WebSocket frames.
type Gateway struct {
	store  Store
	policy Policy
	log    zerolog.Logger
}

func NewGateway(store Store, policy Policy, log zerolog.Logger) *Gateway {
	if policy == nil {
		policy = AllowAll{}
	}
	return &Gateway{
		store:  store,
		policy: policy,
		log:    log.With().Str("component", "realtime_gateway").Logger(),
	}
}

// Serve runs the request loop for one upgraded connection until it closes
// or ctx is cancelled. Subscriptions opened by the client end with it.
func (g *Gateway) Serve(ctx context.Context, raw *websocket.Conn) {
	conn := ws.NewConn(raw)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = raw.Close()
	}()

	var mu sync.Mutex
	subs := make(map[string]func())
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, unsub := range subs {
			unsub()
		}
	}()

	for {
		var req ws.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				g.log.Debug().Msg("Connection closed")
			}
			return
		}

		switch req.Op {
		case ws.OpPing:
			_ = conn.WriteTyped(ws.Response{ID: req.ID, Event: ws.EventPong})
		case ws.OpSubscribe:
			g.subscribe(ctx, conn, &mu, subs, &req)
		case ws.OpUnsubscribe:
			mu.Lock()
			if unsub, ok := subs[req.Sub]; ok {
				unsub()
				delete(subs, req.Sub)
			}
			mu.Unlock()
			_ = conn.WriteTyped(ws.Response{ID: req.ID, Event: ws.EventOK})
		default:
			g.handle(ctx, conn, &req)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, conn *ws.Conn, req *ws.Request) {
	var keys []string
	for k := range req.Fields {
		keys = append(keys, k)
	}
	if err := g.policy.Check(req.Op, req.Path, keys); err != nil {
		g.fail(conn, req.ID, err)
		return
	}

	switch req.Op {
	case ws.OpGet:
		v, err := g.store.Get(ctx, req.Path)
		if err != nil {
			g.fail(conn, req.ID, err)
			return
		}
		g.reply(conn, ws.Response{ID: req.ID, Event: ws.EventValue}, v)

	case ws.OpSet, ws.OpUpdate, ws.OpTouch:
		if err := g.write(ctx, req); err != nil {
			g.fail(conn, req.ID, err)
			return
		}
		_ = conn.WriteTyped(ws.Response{ID: req.ID, Event: ws.EventOK})

	default:
		_ = conn.WriteError(req.ID, ws.CodeBadRequest, "unknown op: "+string(req.Op))
	}
}

// write runs a set or merge as a transaction on the written path, so the
// policy can compare the result with the value it replaces.
func (g *Gateway) write(ctx context.Context, req *ws.Request) error {
	apply, err := writeFunc(req)
	if err != nil {
		return err
	}
	return g.store.Transact(ctx, req.Path, func(current any) (any, error) {
		next, err := apply(deepCopy(current))
		if err != nil {
			return nil, err
		}
		return g.policy.Protect(req.Path, current, next), nil
	})
}

// writeFunc turns a write request into a function of the current value.
func writeFunc(req *ws.Request) (func(current any) (any, error), error) {
	if req.Op == ws.OpSet {
		v, err := decodeRaw(req.Value)
		if err != nil {
			return nil, err
		}
		return func(any) (any, error) { return deepCopy(v), nil }, nil
	}

	fields := make(map[string]any, len(req.Fields))
	for k, raw := range req.Fields {
		v, err := decodeRaw(raw)
		if err != nil {
			return nil, err
		}
		fields[k] = v
	}
	touch := req.Op == ws.OpTouch
	return func(current any) (any, error) {
		if touch && current == nil {
			return nil, ErrNotFound
		}
		return updateAt(current, nil, fields)
	}, nil
}

func (g *Gateway) subscribe(ctx context.Context, conn *ws.Conn, mu *sync.Mutex, subs map[string]func(), req *ws.Request) {
	if req.Sub == "" {
		_ = conn.WriteError(req.ID, ws.CodeBadRequest, "sub is required")
		return
	}
	if err := g.policy.Check(req.Op, req.Path, nil); err != nil {
		g.fail(conn, req.ID, err)
		return
	}

	mu.Lock()
	if old, ok := subs[req.Sub]; ok {
		old()
		delete(subs, req.Sub)
	}
	if len(subs) >= maxSubscriptionsPerConn {
		mu.Unlock()
		_ = conn.WriteError(req.ID, ws.CodeBadRequest, "too many subscriptions")
		return
	}
	mu.Unlock()

	name := req.Sub
	unsub, err := g.store.Subscribe(ctx, req.Path, func(v any) {
		g.reply(conn, ws.Response{Event: ws.EventSnapshot, Sub: name}, v)
	})
	if err != nil {
		g.fail(conn, req.ID, err)
		return
	}

	mu.Lock()
	subs[name] = unsub
	mu.Unlock()
	_ = conn.WriteTyped(ws.Response{ID: req.ID, Event: ws.EventOK})
}

func (g *Gateway) reply(conn *ws.Conn, resp ws.Response, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.fail(conn, resp.ID, err)
		return
	}
	resp.Value = data
	_ = conn.WriteTyped(resp)
}

func (g *Gateway) fail(conn *ws.Conn, id uint64, err error) {
	code := ws.CodeInternal
	switch {
	case errors.Is(err, ErrForbidden):
		code = ws.CodeForbidden
	case errors.Is(err, ErrNotFound):
		code = ws.CodeNotFound
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrCollectionWrite),
		errors.Is(err, ErrCollectionSubscribe), errors.Is(err, ErrNotContainer):
		code = ws.CodeBadRequest
	default:
		g.log.Error().Err(err).Uint64("request_id", id).Msg("Store operation failed")
	}
	_ = conn.WriteError(id, code, err.Error())
}

func decodeRaw(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
