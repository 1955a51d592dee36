// Package realtime implements ports.ChangeFeed on Supabase Realtime postgres_changes.
package realtime

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/events"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/observability"
)

const (
	defaultHeartbeat    = 25 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 1024 * 1024 // 1MB
	defaultDialTimeout  = 10 * time.Second

	sendBufferSize = 64
)

var (
	ErrClientClosed   = stderrors.New("realtime client closed")
	ErrConnectionLost = stderrors.New("realtime connection lost")
)

// Config configures the realtime connection.
type Config struct {
	// URL is the realtime endpoint, e.g. wss://<project>.supabase.co/realtime/v1
	URL         string
	APIKey      string
	AccessToken string
	Schema      string

	Heartbeat    time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	DialTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schema == "" {
		c.Schema = "public"
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	return c
}

// Endpoint builds the websocket URL with the api key and protocol version.
func (c Config) Endpoint() (string, error) {
	u, err := url.Parse(strings.TrimRight(c.URL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path += "/websocket"
	}
	q := u.Query()
	q.Set("apikey", c.APIKey)
	q.Set("vsn", protocolVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client multiplexes channel subscriptions over a single websocket. The socket is dialed
// on the first Subscribe and again after it is lost.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	metrics *observability.Collector
	logger  *zap.Logger

	mu      sync.Mutex
	conn    *connection
	subs    map[string]*subscription
	pending map[string]chan ReplyPayload
	ref     uint64
	seq     uint64
	token   string
	closed  bool
}

// NewClient creates a realtime client. metrics may be nil.
func NewClient(cfg Config, metrics *observability.Collector, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		metrics: metrics,
		logger:  logger,
		subs:    make(map[string]*subscription),
		pending: make(map[string]chan ReplyPayload),
		token:   cfg.AccessToken,
	}
}

type connection struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	err  error
}

func (cn *connection) close(err error) {
	cn.once.Do(func() {
		cn.err = err
		close(cn.done)
		_ = cn.ws.Close()
	})
}

func (c *Client) nextRef() string {
	c.ref++
	return strconv.FormatUint(c.ref, 10)
}

// connect returns the live connection, dialing one if needed.
func (c *Client) connect(ctx context.Context) (*connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	endpoint, err := c.cfg.Endpoint()
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	ws, _, err := c.dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	ws.SetReadLimit(c.cfg.ReadLimit)

	cn := &connection{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	c.conn = cn
	go c.writePump(cn)
	go c.readPump(cn)

	c.logger.Info("realtime connected", zap.String("url", c.cfg.URL))
	return cn, nil
}

func (c *Client) readPump(cn *connection) {
	readWait := 2 * c.cfg.Heartbeat
	_ = cn.ws.SetReadDeadline(time.Now().Add(readWait))
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("realtime read error", zap.Error(err))
			}
			c.connectionLost(cn, err)
			return
		}
		_ = cn.ws.SetReadDeadline(time.Now().Add(readWait))

		msg, err := ParseMessage(data)
		if err != nil {
			c.logger.Debug("ignoring realtime frame", zap.Error(err))
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) writePump(cn *connection) {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case data := <-cn.send:
			if err := c.write(cn, data); err != nil {
				c.connectionLost(cn, err)
				return
			}

		case <-ticker.C:
			c.mu.Lock()
			ref := c.nextRef()
			c.mu.Unlock()
			msg, _ := NewMessage(TopicPhoenix, EventHeartbeat, ref, nil)
			data, _ := json.Marshal(msg)
			if err := c.write(cn, data); err != nil {
				c.connectionLost(cn, err)
				return
			}

		case <-cn.done:
			return
		}
	}
}

func (c *Client) write(cn *connection, data []byte) error {
	_ = cn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return cn.ws.WriteMessage(websocket.TextMessage, data)
}

// enqueue hands a frame to the write pump.
func (c *Client) enqueue(cn *connection, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case cn.send <- data:
		return nil
	case <-cn.done:
		return ErrConnectionLost
	}
}

func (c *Client) handle(msg Message) {
	c.metrics.RecordFeedMessage(msg.Event)

	switch msg.Event {
	case EventReply:
		var reply ReplyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			c.logger.Debug("malformed reply", zap.String("topic", msg.Topic), zap.Error(err))
			return
		}
		c.mu.Lock()
		waiter, ok := c.pending[msg.Ref]
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
		if ok {
			waiter <- reply
		}

	case EventPostgresChanges:
		sub := c.subscription(msg.Topic)
		if sub == nil {
			return
		}
		ev, err := DecodeChange(msg.Payload)
		if err != nil {
			c.logger.Warn("dropping undecodable change", zap.String("topic", msg.Topic), zap.Error(err))
			return
		}
		sub.deliver(ev)

	case EventError, EventClose:
		sub := c.remove(msg.Topic)
		if sub == nil {
			return
		}
		c.logger.Warn("realtime channel ended", zap.String("topic", msg.Topic), zap.String("event", msg.Event))
		sub.end(errors.NewSubscriptionError(sub.table, fmt.Errorf("channel %s: %s", msg.Topic, msg.Event)))
		c.metrics.AddFeedSubscriptions(-1)

	case EventSystem:
		var sys SystemPayload
		if err := json.Unmarshal(msg.Payload, &sys); err != nil {
			return
		}
		if sys.Status != "error" {
			c.logger.Debug("realtime system message", zap.String("topic", msg.Topic), zap.String("message", sys.Message))
			return
		}
		sub := c.remove(msg.Topic)
		if sub == nil {
			return
		}
		c.logger.Warn("realtime subscription failed", zap.String("topic", msg.Topic), zap.String("message", sys.Message))
		sub.end(errors.NewSubscriptionError(sub.table, stderrors.New(sys.Message)))
		c.metrics.AddFeedSubscriptions(-1)
	}
}

func (c *Client) subscription(topic string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[topic]
}

func (c *Client) remove(topic string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[topic]
	if !ok {
		return nil
	}
	delete(c.subs, topic)
	return sub
}

// connectionLost ends every subscription carried by cn. The next Subscribe redials.
func (c *Client) connectionLost(cn *connection, cause error) {
	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		cn.close(cause)
		return
	}
	c.conn = nil
	var dropped []*subscription
	for topic, sub := range c.subs {
		if sub.conn == cn {
			dropped = append(dropped, sub)
			delete(c.subs, topic)
		}
	}
	closed := c.closed
	c.mu.Unlock()

	cn.close(cause)
	if closed {
		return
	}
	c.logger.Warn("realtime connection lost", zap.Error(cause), zap.Int("subscriptions", len(dropped)))
	for _, sub := range dropped {
		sub.end(errors.NewSubscriptionError(sub.table, fmt.Errorf("%w: %v", ErrConnectionLost, cause)))
	}
	c.metrics.AddFeedSubscriptions(-float64(len(dropped)))
}

// Subscribe joins a channel listening for postgres_changes on table and waits for the
// server to accept the join.
func (c *Client) Subscribe(ctx context.Context, table string, filter ports.EventFilter, onEvent func(events.ChangeEvent)) (ports.SubscriptionHandle, error) {
	if table == "" {
		return nil, errors.NewValidationError("subscription table is required")
	}
	change := PostgresChange{Event: string(events.AnyChange), Schema: c.cfg.Schema, Table: table}
	if filter.Event != "" {
		change.Event = string(filter.Event)
	}
	if filter.Filter != nil {
		if err := filter.Filter.Validate(); err != nil {
			return nil, err
		}
		change.Filter = filter.Filter.String()
	}

	cn, err := c.connect(ctx)
	if err != nil {
		return nil, errors.NewSubscriptionError(table, err)
	}

	c.mu.Lock()
	c.seq++
	topic := fmt.Sprintf("realtime:%s:%s:%d", c.cfg.Schema, table, c.seq)
	ref := c.nextRef()
	sub := newSubscription(topic, table, cn, onEvent)
	c.subs[topic] = sub
	reply := make(chan ReplyPayload, 1)
	c.pending[ref] = reply
	token := c.token
	c.mu.Unlock()

	join, err := NewMessage(topic, EventJoin, ref, JoinPayload{
		Config: JoinConfig{
			PostgresChanges: []PostgresChange{change},
		},
		AccessToken: token,
	})
	if err == nil {
		join.JoinRef = ref
		err = c.enqueue(cn, join)
	}
	if err != nil {
		c.abandon(topic, ref)
		return nil, errors.NewSubscriptionError(table, err)
	}

	select {
	case r := <-reply:
		if !r.OK() {
			c.abandon(topic, ref)
			return nil, errors.NewSubscriptionError(table, fmt.Errorf("join rejected: %s", r.Reason()))
		}
	case <-cn.done:
		c.abandon(topic, ref)
		return nil, errors.NewSubscriptionError(table, ErrConnectionLost)
	case <-ctx.Done():
		c.abandon(topic, ref)
		return nil, errors.NewSubscriptionError(table, ctx.Err())
	}

	c.metrics.AddFeedSubscriptions(1)
	c.logger.Info("realtime channel joined", zap.String("topic", topic), zap.String("filter", change.Filter))
	return sub, nil
}

func (c *Client) abandon(topic, ref string) {
	c.mu.Lock()
	delete(c.subs, topic)
	delete(c.pending, ref)
	c.mu.Unlock()
}

// Unsubscribe leaves the channel. No events are delivered after it returns.
func (c *Client) Unsubscribe(handle ports.SubscriptionHandle) error {
	sub, ok := handle.(*subscription)
	if !ok || sub == nil {
		return errors.NewValidationError("subscription was not created by this feed")
	}

	c.mu.Lock()
	current, ok := c.subs[sub.topic]
	if ok && current == sub {
		delete(c.subs, sub.topic)
	}
	ref := c.nextRef()
	c.mu.Unlock()
	if !ok || current != sub {
		return errors.NewNotFoundError("subscription " + sub.topic)
	}

	sub.end(nil)
	c.metrics.AddFeedSubscriptions(-1)

	if leave, err := NewMessage(sub.topic, EventLeave, ref, nil); err == nil {
		if err := c.enqueue(sub.conn, leave); err != nil {
			c.logger.Debug("phx_leave not sent", zap.String("topic", sub.topic), zap.Error(err))
		}
	}
	return nil
}

// SetAccessToken refreshes the user token on every joined channel.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	cn := c.conn
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	if cn == nil {
		return
	}
	for _, topic := range topics {
		c.mu.Lock()
		ref := c.nextRef()
		c.mu.Unlock()
		msg, err := NewMessage(topic, EventAccessToken, ref, map[string]string{"access_token": token})
		if err != nil {
			continue
		}
		_ = c.enqueue(cn, msg)
	}
}

// Close releases every subscription and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cn := c.conn
	c.conn = nil
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.end(nil)
	}
	c.metrics.AddFeedSubscriptions(-float64(len(subs)))
	if cn != nil {
		_ = cn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		cn.close(ErrClientClosed)
	}
	return nil
}

// subscription is a joined channel.
type subscription struct {
	topic   string
	table   string
	conn    *connection
	onEvent func(events.ChangeEvent)

	// deliverMu serializes delivery with end so nothing is delivered after end returns
	deliverMu sync.Mutex
	active    bool

	mu   sync.Mutex
	err  error
	done chan struct{}
}

func newSubscription(topic, table string, cn *connection, onEvent func(events.ChangeEvent)) *subscription {
	return &subscription{
		topic:   topic,
		table:   table,
		conn:    cn,
		onEvent: onEvent,
		active:  true,
		done:    make(chan struct{}),
	}
}

func (s *subscription) ID() string { return s.topic }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) deliver(ev events.ChangeEvent) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.active {
		s.onEvent(ev)
	}
}

func (s *subscription) end(err error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}
