// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package datareader serves change streams to remote readers over TCP.
//
// A reader connects and sends a Greeting naming the tables it follows. The
// server answers with one InitTable frame per existing table and then streams
// UpdateRows and DeleteRows frames as mutations land. Either side may send
// Ping; the other answers Pong. A reader that falls behind is disconnected
// and is expected to reconnect.
package datareader

import (
	"bufio"
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/tablestore/tablestore/changefeed"
	"github.com/tablestore/tablestore/internal/base"
	"golang.org/x/sync/errgroup"
)

// Source hands out subscriptions. Implementations deliver an InitTable event
// for every existing table before any change event.
type Source interface {
	Subscribe(tables []string) *changefeed.Subscription
	Unsubscribe(s *changefeed.Subscription)
}

// Options configure a Server.
type Options struct {
	// GreetingTimeout bounds the wait for the first frame.
	GreetingTimeout time.Duration
	// PingInterval is how often the server pings an idle reader.
	PingInterval time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	Logger       base.Logger
}

// EnsureDefaults fills unset options.
func (o *Options) EnsureDefaults() {
	if o.GreetingTimeout <= 0 {
		o.GreetingTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 3 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = base.NewLogger("datareader")
	}
}

// Session describes a connected reader.
type Session struct {
	ID         string
	NodeID     string
	RemoteAddr string
	Tables     []string
	Connected  time.Time
}

// Server accepts reader connections.
type Server struct {
	src  Source
	opts Options

	mu struct {
		sync.Mutex
		sessions map[string]*Session
	}
}

// NewServer creates a server streaming from src.
func NewServer(src Source, opts Options) *Server {
	opts.EnsureDefaults()
	s := &Server{src: src, opts: opts}
	s.mu.sessions = make(map[string]*Session)
	return s
}

// Sessions returns the connected readers ordered by node id.
func (s *Server) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]Session, 0, len(s.mu.sessions))
	for _, sess := range s.mu.sessions {
		res = append(res, *sess)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].NodeID != res[j].NodeID {
			return res[i].NodeID < res[j].NodeID
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// Serve accepts connections on ln until ctx is cancelled or ln fails. Every
// connection is closed before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "accepting reader connection")
			}
			g.Go(func() error {
				if err := s.ServeConn(ctx, conn); err != nil {
					s.opts.Logger.Infof("reader %s disconnected: %v", conn.RemoteAddr(), err)
				}
				return nil
			})
		}
	})
	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// ServeConn runs the protocol on one connection and closes it when done.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	r := bufio.NewReader(conn)

	if err := conn.SetReadDeadline(time.Now().Add(s.opts.GreetingTimeout)); err != nil {
		return err
	}
	f, err := ReadFrame(r)
	if err != nil {
		return errors.Wrap(err, "reading greeting")
	}
	if f.Type != FrameGreeting {
		return errors.Newf("expected greeting, got %s", f.Type)
	}
	var greeting Greeting
	if err := f.Decode(&greeting); err != nil {
		return err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	sess := &Session{
		ID:         uuid.NewString(),
		NodeID:     greeting.NodeID,
		RemoteAddr: conn.RemoteAddr().String(),
		Tables:     append([]string(nil), greeting.Tables...),
		Connected:  time.Now(),
	}
	sort.Strings(sess.Tables)
	s.mu.Lock()
	s.mu.sessions[sess.ID] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.mu.sessions, sess.ID)
		s.mu.Unlock()
	}()
	s.opts.Logger.Infof("reader %s (%s) subscribed to %v", sess.NodeID, sess.RemoteAddr, sess.Tables)

	sub := s.src.Subscribe(sess.Tables)
	defer s.src.Unsubscribe(sub)

	g, ctx := errgroup.WithContext(ctx)
	pongs := make(chan struct{}, 1)
	g.Go(func() error {
		return s.readLoop(r, pongs)
	})
	g.Go(func() error {
		err := s.writeLoop(ctx, conn, sub, pongs)
		// Unblock the read loop.
		_ = conn.Close()
		return err
	})
	err = g.Wait()
	if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}

// readLoop consumes frames sent by the reader. Pings are answered through
// pongs by the write loop, which owns the connection for writing.
func (s *Server) readLoop(r *bufio.Reader, pongs chan<- struct{}) error {
	for {
		f, err := ReadFrame(r)
		if err != nil {
			return err
		}
		switch f.Type {
		case FramePing:
			select {
			case pongs <- struct{}{}:
			default:
			}
		case FramePong:
		default:
			return errors.Newf("unexpected %s frame from reader", f.Type)
		}
	}
}

func (s *Server) writeLoop(
	ctx context.Context, conn net.Conn, sub *changefeed.Subscription, pongs <-chan struct{},
) error {
	w := bufio.NewWriter(conn)
	write := func(f Frame) error {
		if err := conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
			return err
		}
		if err := WriteFrame(w, f); err != nil {
			return err
		}
		// Coalesce bursts of events into one flush.
		if len(sub.Events()) > 0 {
			return nil
		}
		return w.Flush()
	}

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			// Deliver what was buffered before the subscription ended.
			for len(sub.Events()) > 0 {
				f, err := EncodeEvent(<-sub.Events())
				if err != nil {
					return err
				}
				if err := write(f); err != nil {
					return err
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return sub.Err()
		case ev := <-sub.Events():
			f, err := EncodeEvent(ev)
			if err != nil {
				return err
			}
			if err := write(f); err != nil {
				return err
			}
		case <-pongs:
			if err := write(Frame{Type: FramePong}); err != nil {
				return err
			}
		case <-ping.C:
			if err := write(Frame{Type: FramePing}); err != nil {
				return err
			}
		}
	}
}
