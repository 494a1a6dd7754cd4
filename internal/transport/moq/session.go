package moq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	playerrors "github.com/zsiec/moqplay/internal/errors"
	"github.com/zsiec/moqplay/internal/logger"
	"github.com/zsiec/moqplay/internal/metrics"
	"github.com/zsiec/moqplay/internal/transport"
)

const (
	// subscriberPriority is sent with every SUBSCRIBE.
	subscriberPriority byte = 128

	// objectQueueSize bounds the objects buffered per subscription.
	objectQueueSize = 256

	// aliasWait bounds how long a data stream may wait for the
	// SUBSCRIBE_OK that assigns its track alias.
	aliasWait = 5 * time.Second
)

var _ transport.Session = (*Session)(nil)

type subscribeResult struct {
	ok  *SubscribeOK
	err error
}

// Session is a subscriber-side MoQ session over one QUIC connection.
type Session struct {
	conn  Conn
	ctrl  Stream
	ctrlR *bufio.Reader
	log   logger.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	nextReqID    uint64
	maxReqID     uint64
	pending      map[uint64]chan subscribeResult
	subs         map[uint64]*Subscription
	byAlias      map[uint64]*Subscription
	aliasWaiters map[uint64]chan struct{}
	closed       bool
	closeErr     error

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSession performs the setup handshake on conn and starts the control
// and data loops.
func NewSession(ctx context.Context, conn Conn, log logger.Logger) (*Session, error) {
	ctrl, err := conn.OpenStreamSync(ctx)
	if err != nil {
		metrics.IncrementTransportError("setup")
		return nil, playerrors.WrapTransportError(err, "failed to open control stream")
	}

	s := &Session{
		conn:         conn,
		ctrl:         ctrl,
		ctrlR:        bufio.NewReader(ctrl),
		log:          log.WithField("component", "moq"),
		pending:      make(map[uint64]chan subscribeResult),
		subs:         make(map[uint64]*Subscription),
		byAlias:      make(map[uint64]*Subscription),
		aliasWaiters: make(map[uint64]chan struct{}),
		done:         make(chan struct{}),
	}

	if err := s.setup(ctx); err != nil {
		metrics.IncrementTransportError("setup")
		_ = ctrl.Close()
		return nil, err
	}

	s.wg.Add(2)
	go s.controlLoop()
	go s.acceptLoop()
	return s, nil
}

func (s *Session) setup(ctx context.Context) error {
	cs := ClientSetup{Versions: []uint64{Version}}
	if err := s.writeControl(MsgClientSetup, SerializeClientSetup(cs)); err != nil {
		return playerrors.WrapTransportError(err, "failed to send CLIENT_SETUP")
	}

	type reply struct {
		msgType uint64
		payload []byte
		err     error
	}
	ch := make(chan reply, 1)
	go func() {
		t, p, err := ReadControlMsg(s.ctrlR)
		ch <- reply{t, p, err}
	}()

	var r reply
	select {
	case r = <-ch:
	case <-ctx.Done():
		_ = s.conn.CloseWithError(0, "setup timeout")
		return playerrors.WrapTransportError(ctx.Err(), "setup handshake interrupted")
	}
	if r.err != nil {
		return playerrors.WrapTransportError(r.err, "failed to read SERVER_SETUP")
	}
	if r.msgType != MsgServerSetup {
		return playerrors.WrapTransportError(
			fmt.Errorf("%w: 0x%x during setup", ErrUnexpectedMessage, r.msgType), "setup failed")
	}

	ss, err := ParseServerSetup(r.payload)
	if err != nil {
		return playerrors.WrapTransportError(err, "invalid SERVER_SETUP")
	}
	if ss.SelectedVersion != Version {
		return playerrors.WrapTransportError(
			fmt.Errorf("%w: relay selected 0x%x", ErrVersionMismatch, ss.SelectedVersion), "setup failed")
	}

	s.mu.Lock()
	s.maxReqID = ss.MaxRequestID
	s.mu.Unlock()

	s.log.WithField("max_request_id", ss.MaxRequestID).Debug("MoQ session established")
	return nil
}

// Subscribe requests track in namespace, whose parts are separated by '/'.
func (s *Session) Subscribe(ctx context.Context, namespace, track string, start transport.StartAt) (transport.Subscription, error) {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return nil, playerrors.WrapSubscriptionError(err, track)
	}
	if s.maxReqID > 0 && s.nextReqID >= s.maxReqID {
		s.mu.Unlock()
		return nil, playerrors.WrapSubscriptionError(ErrRequestIDExhausted, track)
	}
	reqID := s.nextReqID
	s.nextReqID += 2
	ch := make(chan subscribeResult, 1)
	s.pending[reqID] = ch
	s.mu.Unlock()

	msg := Subscribe{
		RequestID:  reqID,
		Namespace:  splitNamespace(namespace),
		TrackName:  track,
		Priority:   subscriberPriority,
		GroupOrder: GroupOrderAscending,
		Forward:    1,
		FilterType: FilterNextGroupStart,
	}
	if start.Kind == transport.StartGroup {
		msg.FilterType = FilterAbsoluteStart
		msg.StartGroup = start.Group
	}

	if err := s.writeControl(MsgSubscribe, SerializeSubscribe(msg)); err != nil {
		s.dropPending(reqID)
		metrics.IncrementTransportError("subscribe")
		return nil, playerrors.WrapSubscriptionError(err, track)
	}

	var res subscribeResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		s.dropPending(reqID)
		return nil, playerrors.WrapSubscriptionError(ctx.Err(), track)
	case <-s.done:
		return nil, playerrors.WrapSubscriptionError(s.err(), track)
	}
	if res.err != nil {
		return nil, playerrors.WrapSubscriptionError(res.err, track)
	}

	sub := newSubscription(reqID, track, res.ok.TrackAlias)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, playerrors.WrapSubscriptionError(s.closeErr, track)
	}
	s.subs[reqID] = sub
	s.byAlias[sub.alias] = sub
	if w, ok := s.aliasWaiters[sub.alias]; ok {
		close(w)
		delete(s.aliasWaiters, sub.alias)
	}
	s.mu.Unlock()

	metrics.SubscriptionOpened()
	s.log.WithFields(map[string]interface{}{
		"track":      track,
		"request_id": reqID,
		"alias":      sub.alias,
		"start":      start.String(),
	}).Info("Subscribed")
	return sub, nil
}

// Unsubscribe ends sub and tells the relay to stop sending it.
func (s *Session) Unsubscribe(ctx context.Context, sub transport.Subscription) error {
	s.mu.Lock()
	ms, ok := s.subs[sub.ID()]
	if ok {
		delete(s.subs, ms.id)
		delete(s.byAlias, ms.alias)
	}
	closed := s.closed
	s.mu.Unlock()

	if !ok {
		return playerrors.NewNotFoundError(fmt.Sprintf("subscription %d", sub.ID()))
	}
	ms.finish(io.EOF)
	metrics.SubscriptionClosed()

	if closed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.writeControl(MsgUnsubscribe, SerializeUnsubscribe(Unsubscribe{RequestID: ms.id})); err != nil {
		metrics.IncrementTransportError("unsubscribe")
		return playerrors.WrapTransportError(err, "failed to send UNSUBSCRIBE")
	}
	s.log.WithField("track", ms.track).Debug("Unsubscribed")
	return nil
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends every subscription and closes the connection.
func (s *Session) Close() error {
	s.shutdown(ErrSessionClosed)
	err := s.conn.CloseWithError(0, "bye")
	s.wg.Wait()
	return err
}

func (s *Session) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Session) writeControl(msgType uint64, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteControlMsg(s.ctrl, msgType, payload)
}

func (s *Session) dropPending(reqID uint64) {
	s.mu.Lock()
	delete(s.pending, reqID)
	s.mu.Unlock()
}

// shutdown ends the session once with err.
func (s *Session) shutdown(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = err
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[uint64]*Subscription)
	s.byAlias = make(map[uint64]*Subscription)
	s.pending = make(map[uint64]chan subscribeResult)
	s.mu.Unlock()

	close(s.done)
	for _, sub := range subs {
		sub.finish(playerrors.WrapTransportError(err, "session ended"))
		metrics.SubscriptionClosed()
	}
}

func (s *Session) controlLoop() {
	defer s.wg.Done()

	for {
		msgType, payload, err := ReadControlMsg(s.ctrlR)
		if err != nil {
			select {
			case <-s.done:
			default:
				metrics.IncrementTransportError("control")
				s.log.WithError(err).Warn("Control stream ended")
			}
			s.shutdown(err)
			return
		}

		if err := s.handleControl(msgType, payload); err != nil {
			metrics.IncrementTransportError("control")
			s.log.WithError(err).Error("Invalid control message")
			s.shutdown(err)
			_ = s.conn.CloseWithError(1, "protocol violation")
			return
		}
	}
}

func (s *Session) handleControl(msgType uint64, payload []byte) error {
	switch msgType {
	case MsgSubscribeOK:
		sok, err := ParseSubscribeOK(payload)
		if err != nil {
			return err
		}
		s.resolve(sok.RequestID, subscribeResult{ok: &sok})

	case MsgSubscribeError:
		se, err := ParseSubscribeError(payload)
		if err != nil {
			return err
		}
		s.resolve(se.RequestID, subscribeResult{err: &se})

	case MsgPublishDone:
		pd, err := ParsePublishDone(payload)
		if err != nil {
			return err
		}
		s.mu.Lock()
		sub, ok := s.subs[pd.RequestID]
		if ok {
			delete(s.subs, sub.id)
			delete(s.byAlias, sub.alias)
		}
		s.mu.Unlock()
		if ok {
			s.log.WithFields(map[string]interface{}{
				"track":  sub.track,
				"status": pd.StatusCode,
				"reason": pd.Reason,
			}).Info("Publisher finished track")
			sub.finish(io.EOF)
			metrics.SubscriptionClosed()
		}

	case MsgMaxRequestID:
		maxID, err := ParseMaxRequestID(payload)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if maxID > s.maxReqID {
			s.maxReqID = maxID
		}
		s.mu.Unlock()

	case MsgGoAway:
		ga, err := ParseGoAway(payload)
		if err != nil {
			return err
		}
		s.log.WithField("new_session_uri", ga.NewSessionURI).Warn("Relay is going away")

	default:
		s.log.WithField("type", fmt.Sprintf("0x%x", msgType)).Debug("Ignoring control message")
	}
	return nil
}

func (s *Session) resolve(reqID uint64, res subscribeResult) {
	s.mu.Lock()
	ch, ok := s.pending[reqID]
	delete(s.pending, reqID)
	s.mu.Unlock()

	if !ok {
		s.log.WithField("request_id", reqID).Debug("Reply for unknown request")
		return
	}
	ch <- res
}

func (s *Session) acceptLoop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var streams sync.WaitGroup
	defer streams.Wait()

	for {
		str, err := s.conn.AcceptUniStream(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				metrics.IncrementTransportError("accept")
				s.shutdown(err)
			}
			return
		}
		streams.Add(1)
		go func() {
			defer streams.Done()
			s.readSubgroup(str)
		}()
	}
}

func (s *Session) readSubgroup(str io.ReadCloser) {
	defer str.Close()

	sr, err := NewSubgroupReader(str)
	if err != nil {
		metrics.IncrementTransportError("data")
		s.log.WithError(err).Warn("Discarding data stream")
		return
	}

	hdr := sr.Header()
	sub := s.waitAlias(hdr.TrackAlias)
	if sub == nil {
		s.log.WithField("alias", hdr.TrackAlias).Debug("Data stream for unknown track alias")
		return
	}

	for {
		obj, err := sr.ReadObject()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			select {
			case <-sub.done:
			case <-s.done:
			default:
				metrics.IncrementTransportError("data")
				s.log.WithError(err).WithField("track", sub.track).Warn("Data stream failed")
			}
			return
		}
		if len(obj.Payload) == 0 {
			continue
		}
		if !sub.deliver(obj.Payload, s.done) {
			return
		}
	}
}

// waitAlias returns the subscription for alias, waiting for a SUBSCRIBE_OK
// that has not arrived yet.
func (s *Session) waitAlias(alias uint64) *Subscription {
	s.mu.Lock()
	if sub, ok := s.byAlias[alias]; ok {
		s.mu.Unlock()
		return sub
	}
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	w, ok := s.aliasWaiters[alias]
	if !ok {
		w = make(chan struct{})
		s.aliasWaiters[alias] = w
	}
	s.mu.Unlock()

	timer := time.NewTimer(aliasWait)
	defer timer.Stop()
	select {
	case <-w:
	case <-timer.C:
	case <-s.done:
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byAlias[alias]
}

// Subscription is one active track subscription.
type Subscription struct {
	id      uint64
	track   string
	alias   uint64
	objects chan []byte

	once sync.Once
	done chan struct{}
	err  error
}

var _ transport.Subscription = (*Subscription)(nil)

func newSubscription(id uint64, track string, alias uint64) *Subscription {
	return &Subscription{
		id:      id,
		track:   track,
		alias:   alias,
		objects: make(chan []byte, objectQueueSize),
		done:    make(chan struct{}),
	}
}

// ID returns the request ID of the subscription.
func (s *Subscription) ID() uint64 { return s.id }

// Track returns the track name.
func (s *Subscription) Track() string { return s.track }

// Alias returns the track alias assigned by the relay.
func (s *Subscription) Alias() uint64 { return s.alias }

// Next returns the next object payload. Objects already queued are
// delivered before the terminal error.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	select {
	case p := <-s.objects:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		select {
		case p := <-s.objects:
			return p, nil
		default:
			return nil, s.err
		}
	}
}

func (s *Subscription) deliver(p []byte, sessionDone <-chan struct{}) bool {
	select {
	case s.objects <- p:
		return true
	case <-s.done:
		return false
	case <-sessionDone:
		return false
	}
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func splitNamespace(ns string) []string {
	parts := strings.Split(strings.Trim(ns, "/"), "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
