// SPDX-License-Identifier: AGPL-3.0-or-later
// DMRHub - Run a DMR network server in a single binary
// Copyright (C) 2023-2024 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/USA-RedDragon/DMRHub>

package pubsub

import (
	"sync"

	"github.com/cec-lip/lipd/internal/config"
)

func makeInMemoryPubSub(_ *config.Config) (PubSub, error) {
	return &inMemoryPubSub{
		subs: make(map[string][]*inMemorySubscription),
	}, nil
}

type inMemoryPubSub struct {
	mu   sync.Mutex
	subs map[string][]*inMemorySubscription
}

func (ps *inMemoryPubSub) Publish(topic string, message []byte) error {
	ps.mu.Lock()
	subs := append([]*inMemorySubscription(nil), ps.subs[topic]...)
	ps.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- message:
		case <-sub.closed:
		}
	}
	return nil
}

func (ps *inMemoryPubSub) Subscribe(topic string) Subscription {
	sub := &inMemorySubscription{
		ps:     ps,
		topic:  topic,
		ch:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	ps.mu.Lock()
	ps.subs[topic] = append(ps.subs[topic], sub)
	ps.mu.Unlock()
	return sub
}

func (ps *inMemoryPubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, subs := range ps.subs {
		for _, sub := range subs {
			sub.closeOnce()
		}
	}
	ps.subs = make(map[string][]*inMemorySubscription)
	return nil
}

func (ps *inMemoryPubSub) unsubscribe(sub *inMemorySubscription) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	subs := ps.subs[sub.topic]
	for i, s := range subs {
		if s == sub {
			ps.subs[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

type inMemorySubscription struct {
	ps    *inMemoryPubSub
	topic string

	ch     chan []byte
	once   sync.Once
	closed chan struct{}
}

func (s *inMemorySubscription) closeOnce() {
	s.once.Do(func() { close(s.closed) })
}

func (s *inMemorySubscription) Unsubscribe() error {
	return s.Close()
}

func (s *inMemorySubscription) Close() error {
	s.ps.unsubscribe(s)
	s.closeOnce()
	return nil
}

func (s *inMemorySubscription) Channel() <-chan []byte {
	return s.ch
}
