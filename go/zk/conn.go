/*
Copyright 2024 The ZKWire Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package zk implements the client side of the ZooKeeper wire protocol: a
// single-session TCP client that multiplexes requests onto one server
// connection, preserves strict request/response ordering, keeps the session
// alive through transparent reconnection, and delivers watch notifications.
package zk

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"zkwire.dev/zkwire/go/log"
	"zkwire.dev/zkwire/go/netutil"
	"zkwire.dev/zkwire/go/timer"
)

const eventChanSize = 8

// Event is delivered to the event dispatcher. Session life-cycle events use
// Type EventSession with the State carrying the transition: StateConnected
// is SyncConnected, StateNotConnected is Disconnected, StateClosed with
// Err ErrSessionExpired is Expired, StateAuthFailed is AuthFailed. Znode
// notifications carry the node event type and the chroot-stripped path.
type Event struct {
	Type   EventType
	State  State
	Path   string
	Err    error
	Server string
}

// EventCallback is invoked synchronously for every event. It must not block.
type EventCallback func(Event)

type authCreds struct {
	scheme string
	auth   []byte
}

// Conn is the client connection engine. It owns the socket, drives the
// session state machine, and runs the sender and receiver loops.
type Conn struct {
	cfg       Config
	endpoints *endpointSet
	chroot    string

	// Session identity, assigned by the server on the first successful
	// handshake and reused verbatim on every reconnect.
	sessionID         atomic.Int64
	lastZxid          atomic.Int64
	negotiatedTimeout atomic.Int32 // milliseconds
	readTimeoutNs     atomic.Int64
	passwd            []byte // written only by the handshake driver

	state   atomic.Int32
	closing atomic.Bool

	outgoing *outgoingQueue
	pending  *pendingQueue
	watches  *watchRegistry

	// submitMu makes xid assignment, serialization and enqueue one atomic
	// step so xids are strictly increasing in queue order.
	submitMu sync.Mutex
	xid      int32
	scratch  []byte

	connMu sync.Mutex
	fc     *frameConn
	server string

	creds   []authCreds
	credsMu sync.Mutex

	pingTicker   *timer.SuspendableTicker
	lastPingSent atomic.Int64

	eventChan     chan Event
	eventCallback EventCallback

	shouldQuit chan struct{}
	quitOnce   sync.Once
	loopDone   chan struct{}
}

// Connect parses the connection string
// `host[:port](,host[:port])*[/chroot]`, starts the engine and returns the
// connection together with the session event channel. The engine dials in
// the background; submitted requests queue until the handshake completes.
func Connect(connString string, cfg Config) (*Conn, <-chan Event, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, nil, err
	}
	endpoints, chroot, err := parseConnString(connString)
	if err != nil {
		return nil, nil, err
	}

	c := &Conn{
		cfg:        cfg,
		endpoints:  newEndpointSet(endpoints),
		chroot:     chroot,
		passwd:     emptyPassword,
		outgoing:   newOutgoingQueue(),
		pending:    newPendingQueue(),
		watches:    newWatchRegistry(),
		scratch:    make([]byte, cfg.MaxPacketLength),
		eventChan:  make(chan Event, eventChanSize),
		shouldQuit: make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	c.setReadTimeout(cfg.SessionTimeout * 2 / 3)
	c.pingTicker = timer.NewSuspendableTicker(c.readTimeout()/2, true)

	go func() {
		c.loop()
		close(c.eventChan)
	}()

	return c, c.eventChan, nil
}

// WithEventCallback installs a synchronous event callback. It must be set
// before any event can fire, i.e. right after Connect returns.
func (c *Conn) WithEventCallback(cb EventCallback) {
	c.eventCallback = cb
}

// State returns the current session state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// SessionID returns the server-assigned session id, zero before the first
// handshake.
func (c *Conn) SessionID() int64 {
	return c.sessionID.Load()
}

// LastZxid returns the highest transaction id observed in any reply.
func (c *Conn) LastZxid() int64 {
	return c.lastZxid.Load()
}

// Server returns the address of the current server, or of the last one a TCP
// connection was opened to. Failed dials do not change it.
func (c *Conn) Server() string {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.server
}

func (c *Conn) readTimeout() time.Duration {
	return time.Duration(c.readTimeoutNs.Load())
}

func (c *Conn) setReadTimeout(d time.Duration) {
	c.readTimeoutNs.Store(int64(d))
}

func (c *Conn) setState(state State) {
	c.state.Store(int32(state))
	c.sendEvent(Event{Type: EventSession, State: state, Server: c.Server()})
}

func (c *Conn) sendEvent(ev Event) {
	if c.eventCallback != nil {
		c.eventCallback(ev)
	}
	select {
	case c.eventChan <- ev:
	default:
		log.Warningf("zk: event channel full, dropping %v", ev.Type)
	}
}

// loop is the session driver: it reconnects, hands the socket to the
// handshake driver, then lets the sender and receiver run until the
// connection drops or the session ends.
func (c *Conn) loop() {
	defer close(c.loopDone)

	firstAttempt := true
	for {
		ep, err := c.connectToServer(!firstAttempt)
		if err != nil {
			c.terminate(StateClosed, ErrClosing, errClosing)
			return
		}
		firstAttempt = false

		err = c.handshake()
		switch {
		case errors.Is(err, ErrSessionExpired):
			log.Warningf("zk: session expired by server %v", ep.Addr())
			c.closeConn()
			c.terminate(StateClosed, ErrSessionExpired, errSessionExpired)
			return
		case errors.Is(err, ErrAuthFailed):
			log.Warningf("zk: authentication failed against %v: %v", ep.Addr(), err)
			c.closeConn()
			c.terminate(StateAuthFailed, ErrAuthFailed, errAuthFailed)
			return
		case err != nil:
			log.Warningf("zk: handshake with %v failed: %v", ep.Addr(), err)
			c.endpoints.markFailure(ep)
			c.closeConn()
			c.becomeNotConnected()
			continue
		}

		c.endpoints.markSuccess(ep)
		metricConnects.Inc()
		log.Infof("zk: session 0x%x established with %v", c.SessionID(), ep.Addr())

		closeCh := make(chan struct{})
		var g errgroup.Group
		fc := c.currentConn()
		g.Go(func() error {
			err := c.recvLoop(fc)
			close(closeCh)
			return err
		})
		g.Go(func() error {
			return c.sendLoop(fc, closeCh)
		})
		err = g.Wait()

		c.pingTicker.Suspend()
		c.closeConn()

		if c.closing.Load() {
			c.terminate(StateClosed, ErrClosing, errClosing)
			return
		}

		log.Infof("zk: connection to %v lost: %v", ep.Addr(), err)
		metricDisconnects.Inc()
		c.becomeNotConnected()
		c.drainQueues(ErrConnectionClosed, errConnectionLoss)
	}
}

// becomeNotConnected transitions to NotConnected and always wakes the sender
// loop so a sleeping engine notices the transition.
func (c *Conn) becomeNotConnected() {
	c.setState(StateNotConnected)
	c.outgoing.signal()
}

// terminate moves to a terminal state and drains everything with the fatal
// error. No further reconnect happens.
func (c *Conn) terminate(state State, err error, code ErrCode) {
	c.state.Store(int32(state))
	c.sendEvent(Event{Type: EventSession, State: state, Err: err, Server: c.Server()})
	c.pingTicker.Stop()
	c.drainQueues(err, code)
	c.watches.closeAll(state, err)
}

func (c *Conn) drainQueues(err error, code ErrCode) {
	for _, p := range c.outgoing.drain() {
		p.finishWithCode(code, err)
	}
	for _, p := range c.pending.drain() {
		p.finishWithCode(code, err)
	}
}

func (c *Conn) currentConn() *frameConn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.fc
}

func (c *Conn) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.fc != nil {
		c.fc.Close()
	}
}

// connectToServer is the reconnect controller: it advances the endpoint
// cursor, applies the desynchronization and sweep backoffs, and opens the
// TCP connection. It only fails when the engine is shutting down.
func (c *Conn) connectToServer(isRetry bool) (*Endpoint, error) {
	for {
		select {
		case <-c.shouldQuit:
			return nil, ErrClosing
		default:
		}

		ep, retryStart := c.endpoints.nextCandidate()
		if isRetry {
			// Desynchronize clients reconnecting after a shared
			// server failure.
			if !c.sleepInterruptibly(time.Duration(rand.Int63n(int64(50 * time.Millisecond)))) {
				return nil, ErrClosing
			}
		}
		// The sweep has wrapped and no endpoint is untried since the
		// last success: back off instead of hammering dead servers.
		if retryStart && !c.endpoints.isNextAvailable() {
			log.Warningf("zk: no server available in sweep, backing off")
			if !c.sleepInterruptibly(time.Second) {
				return nil, ErrClosing
			}
		}

		c.setState(StateConnecting)
		addr := ep.Addr()
		if resolved, err := netutil.ResolveIPv4Addr(addr); err == nil {
			addr = resolved
		}

		conn, err := c.cfg.Dialer("tcp", addr, c.cfg.ConnectTimeout)
		if err != nil {
			log.Warningf("zk: failed to connect to %v: %v", addr, err)
			c.endpoints.markFailure(ep)
			c.becomeNotConnected()
			isRetry = true
			continue
		}

		c.connMu.Lock()
		c.fc = newFrameConn(conn, c.cfg.MaxPacketLength)
		c.server = addr
		c.connMu.Unlock()
		return ep, nil
	}
}

func (c *Conn) sleepInterruptibly(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-c.shouldQuit:
		return false
	}
}

// handshake executes the session handshake on the freshly opened socket: it
// sends the ConnectRequest, consumes the ConnectResponse (always the first
// frame on the stream), runs the optional SASL exchange, and prepends the
// priority replay. Until it returns, it is the only reader and writer.
func (c *Conn) handshake() error {
	c.setState(StateAssociating)
	fc := c.currentConn()

	c.submitMu.Lock()
	p, err := newPacket(c.scratch, nil, &connectRequest{
		ProtocolVersion: protocolVersion,
		LastZxidSeen:    c.lastZxid.Load(),
		TimeOut:         int32(c.cfg.SessionTimeout / time.Millisecond),
		SessionID:       c.sessionID.Load(),
		Passwd:          c.passwd,
	})
	c.submitMu.Unlock()
	if err != nil {
		return err
	}
	if err := fc.writeRaw(p.serialized, c.cfg.SessionTimeout); err != nil {
		return err
	}

	buf, err := fc.readFrame(c.cfg.SessionTimeout)
	if err != nil {
		return err
	}
	r := connectResponse{}
	if _, err := decodePacket(buf, &r); err != nil {
		return err
	}
	if r.TimeOut <= 0 {
		// The server refused to resume the session.
		return ErrSessionExpired
	}

	c.sessionID.Store(r.SessionID)
	c.passwd = r.Passwd
	c.negotiatedTimeout.Store(r.TimeOut)
	c.setReadTimeout(time.Duration(r.TimeOut) * time.Millisecond * 2 / 3)
	c.pingTicker.Reset(c.readTimeout() / 2)

	if c.cfg.Sasl != nil {
		if err := c.saslAuthenticate(fc); err != nil {
			return err
		}
	}

	c.prependPriorityReplay()

	c.setState(StateConnected)
	c.pingTicker.Resume()
	c.outgoing.signal()
	return nil
}

// saslAuthenticate runs the challenge/response exchange inline. Each token
// is sent as a SASL packet and its reply awaited synchronously with the
// connect timeout; any non-zero reply error fails the handshake.
func (c *Conn) saslAuthenticate(fc *frameConn) error {
	sasl := c.cfg.Sasl
	local, remote := "", ""
	if fc.conn.LocalAddr() != nil {
		local = fc.conn.LocalAddr().String()
	}
	if fc.conn.RemoteAddr() != nil {
		remote = fc.conn.RemoteAddr().String()
	}

	token, err := sasl.Start(local, remote)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	for {
		if sasl.Completed() {
			if sasl.HasLastPacket() {
				if _, err := c.saslRoundTrip(fc, token); err != nil {
					return err
				}
			}
			return nil
		}
		challenge, err := c.saslRoundTrip(fc, token)
		if err != nil {
			return err
		}
		token, err = sasl.EvaluateChallenge(challenge)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	}
}

func (c *Conn) saslRoundTrip(fc *frameConn, token []byte) ([]byte, error) {
	c.submitMu.Lock()
	c.xid++
	header := &requestHeader{Xid: c.xid, Opcode: opSASL}
	p, err := newPacket(c.scratch, header, &saslRequest{Token: token})
	c.submitMu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := fc.writeRaw(p.serialized, c.cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	buf, err := fc.readFrame(c.cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	var hdr replyHeader
	if _, err := decodePacket(buf, &hdr); err != nil {
		return nil, err
	}
	if hdr.Xid != header.Xid {
		return nil, fmt.Errorf("%w: sasl reply xid %d, want %d", ErrXidMismatch, hdr.Xid, header.Xid)
	}
	if hdr.Err != errOk {
		if hdr.Err == errAuthFailed {
			return nil, ErrAuthFailed
		}
		return nil, fmt.Errorf("%w: sasl exchange rejected: %v", ErrAuthFailed, hdr.Err.toError())
	}
	var resp saslResponse
	if _, err := decodePacket(buf[16:], &resp); err != nil {
		return nil, err
	}
	return resp.Token, nil
}

// prependPriorityReplay pushes the stored auth records and the watch reset
// to the head of the outgoing queue so they precede every application
// packet: transmission order is SetWatches, then each auth, then the rest.
func (c *Conn) prependPriorityReplay() {
	c.credsMu.Lock()
	creds := make([]authCreds, len(c.creds))
	copy(creds, c.creds)
	c.credsMu.Unlock()

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	for i := len(creds) - 1; i >= 0; i-- {
		header := &requestHeader{Xid: xidAuth, Opcode: opSetAuth}
		p, err := newPacket(c.scratch, header, &setAuthRequest{Type: 0, Scheme: creds[i].scheme, Auth: creds[i].auth})
		if err != nil {
			log.Errorf("zk: failed to serialize auth replay: %v", err)
			continue
		}
		c.outgoing.pushFront(p)
	}

	if !c.cfg.DisableAutoWatchReset {
		if req := c.watches.snapshot(c.lastZxid.Load()); req != nil {
			header := &requestHeader{Xid: xidSetWatches, Opcode: opSetWatches}
			p, err := newPacket(c.scratch, header, req)
			if err != nil {
				log.Errorf("zk: failed to serialize watch reset: %v", err)
				return
			}
			c.outgoing.pushFront(p)
		}
	}
}

// sendLoop drains the outgoing queue and keeps the session alive with
// pings. It is the socket's only writer while the session is connected.
func (c *Conn) sendLoop(fc *frameConn, closeCh <-chan struct{}) error {
	for {
		for {
			p, ok := c.outgoing.popFront()
			if !ok {
				break
			}
			if err := c.transmit(fc, p); err != nil {
				return err
			}
		}

		select {
		case <-closeCh:
			return nil
		case <-c.outgoing.wake:
		case <-c.pingTicker.C:
			c.enqueuePing()
		case <-time.After(time.Millisecond):
			// Bounded sleep so the ping deadline is checked promptly.
		}
	}
}

func (c *Conn) transmit(fc *frameConn, p *packet) error {
	reserved := p.xid() == xidPing || p.xid() == xidAuth
	if !reserved {
		c.pending.pushBack(p)
	}
	if err := fc.writeRaw(p.serialized, c.readTimeout()); err != nil {
		if reserved {
			p.finishWithCode(errConnectionLoss, ErrConnectionClosed)
		}
		return err
	}
	metricPacketsSent.Inc()
	if p.xid() == xidPing {
		c.lastPingSent.Store(time.Now().UnixNano())
	}
	if reserved {
		// Pings and auths never enter the pending queue; transmission
		// completes them.
		p.finish(nil)
	}
	return nil
}

func (c *Conn) enqueuePing() {
	c.submitMu.Lock()
	p, err := newPacket(c.scratch, &requestHeader{Xid: xidPing, Opcode: opPing}, nil)
	c.submitMu.Unlock()
	if err != nil {
		log.Errorf("zk: failed to serialize ping: %v", err)
		return
	}
	c.outgoing.pushBack(p)
}

// recvLoop parses reply frames, demultiplexes protocol traffic by reserved
// xid, and matches everything else against the head of the pending queue.
func (c *Conn) recvLoop(fc *frameConn) error {
	for {
		buf, err := fc.readFrame(c.readTimeout())
		if err != nil {
			return err
		}
		metricPacketsReceived.Inc()

		var hdr replyHeader
		if _, err := decodePacket(buf, &hdr); err != nil {
			return err
		}

		switch hdr.Xid {
		case xidPing:
			if sent := c.lastPingSent.Load(); sent > 0 {
				rtt := time.Since(time.Unix(0, sent))
				metricPingRTT.Observe(rtt.Seconds())
				if log.V(2) {
					log.Infof("zk: ping rtt %v", rtt)
				}
			}
		case xidAuth:
			if hdr.Err != errOk {
				log.Warningf("zk: auth rejected by server: %v", hdr.Err.toError())
			}
		case xidWatcherEvent:
			we := watcherEvent{}
			if _, err := decodePacket(buf[16:], &we); err != nil {
				return err
			}
			ev := Event{
				Type:   we.Type,
				State:  we.State,
				Path:   c.stripChroot(we.Path),
				Server: c.Server(),
			}
			metricWatchEvents.Inc()
			c.sendEvent(ev)
			c.watches.dispatch(ev)
		default:
			p, ok := c.pending.popFront()
			if !ok {
				return fmt.Errorf("%w: reply xid %d with no request pending", ErrXidMismatch, hdr.Xid)
			}
			if p.xid() != hdr.Xid {
				p.finishWithCode(errConnectionLoss, ErrConnectionClosed)
				return fmt.Errorf("%w: got %d, want %d", ErrXidMismatch, hdr.Xid, p.xid())
			}

			p.replyHeader = hdr
			if hdr.Zxid > 0 && hdr.Zxid > c.lastZxid.Load() {
				c.lastZxid.Store(hdr.Zxid)
			}
			if hdr.Err == errOk && p.resp != nil {
				if _, err := decodePacket(buf[16:], p.resp); err != nil {
					p.finishWithCode(errConnectionLoss, ErrConnectionClosed)
					return err
				}
			}
			if p.watchReg != nil {
				// An exists watch arms as a data watch when the node
				// is there, and keeps waiting for creation otherwise.
				switch {
				case hdr.Err == errOk:
					if p.opcode() == opExists {
						p.watchReg.wType = watchTypeData
					}
					c.watches.register(p.watchReg)
				case p.opcode() == opExists && hdr.Err == errNoNode:
					c.watches.register(p.watchReg)
				}
			}
			p.finish(hdr.Err.toError())

			if p.opcode() == opClose {
				// The server acknowledges the close and will drop
				// the socket; unwind the loops.
				return nil
			}
		}
	}
}

// stripChroot rewrites a server path into the client namespace.
func (c *Conn) stripChroot(serverPath string) string {
	if c.chroot == "" {
		return serverPath
	}
	if serverPath == c.chroot {
		return "/"
	}
	if len(serverPath) > len(c.chroot) && serverPath[:len(c.chroot)] == c.chroot {
		return serverPath[len(c.chroot):]
	}
	return serverPath
}

// serverPath rewrites a client path into the server namespace.
func (c *Conn) serverPath(clientPath string) string {
	if c.chroot == "" {
		return clientPath
	}
	if clientPath == "/" {
		return c.chroot
	}
	return c.chroot + clientPath
}

// queuePacket assigns the next xid, serializes and enqueues an application
// packet. It fails once the session is closing or terminal.
func (c *Conn) queuePacket(opcode int32, req, resp any, wreg *watchRegistration) (*packet, error) {
	if c.closing.Load() {
		return nil, ErrClosing
	}
	switch c.State() {
	case StateClosed:
		return nil, ErrSessionExpired
	case StateAuthFailed:
		return nil, ErrAuthFailed
	}

	c.submitMu.Lock()
	c.xid++
	header := &requestHeader{Xid: c.xid, Opcode: opcode}
	p, err := newPacket(c.scratch, header, req)
	if err != nil {
		c.submitMu.Unlock()
		return nil, err
	}
	p.resp = resp
	p.watchReg = wreg
	c.outgoing.pushBack(p)
	c.submitMu.Unlock()
	return p, nil
}

// request submits a packet and waits for its completion with the session
// timeout. On timeout the packet stays in flight; there is no retraction.
func (c *Conn) request(opcode int32, req, resp any, wreg *watchRegistration) (*replyHeader, error) {
	p, err := c.queuePacket(opcode, req, resp, wreg)
	if err != nil {
		return nil, err
	}
	if !p.waitUntilFinished(c.cfg.SessionTimeout) {
		return nil, ErrTimeout
	}
	return &p.replyHeader, p.err
}

// Close submits a CloseSession, waits for the server to drop the socket
// bounded by the session timeout, then force-closes. It is safe to call
// more than once.
func (c *Conn) Close() {
	c.quitOnce.Do(func() {
		c.closing.Store(true)

		if c.State() == StateConnected {
			c.submitMu.Lock()
			c.xid++
			p, err := newPacket(c.scratch, &requestHeader{Xid: c.xid, Opcode: opClose}, nil)
			if err == nil {
				c.outgoing.pushBack(p)
			}
			c.submitMu.Unlock()

			// Poll for the engine to wind down before forcing the
			// socket closed.
			step := c.cfg.SessionTimeout / time.Duration(c.cfg.MaxSpin)
			for i := 0; i < c.cfg.MaxSpin; i++ {
				select {
				case <-c.loopDone:
					close(c.shouldQuit)
					return
				case <-time.After(step):
				}
			}
			log.Warningf("zk: dispose timed out waiting for server close, forcing")
		}

		close(c.shouldQuit)
		c.closeConn()
		c.outgoing.signal()
		<-c.loopDone
	})
}
