package service

import (
	"sync"

	"github.com/google/uuid"
)

func NewSubscriberMap[T any](buffer int) *SubscriberMap[T] {
	return &SubscriberMap[T]{
		topics: make(map[string]map[string]chan T),
		buffer: buffer,
	}
}

// SubscriberMap fans messages out to the subscribers of a topic. Sends never
// block: a subscriber whose buffer is full misses the message.
type SubscriberMap[T any] struct {
	m      sync.Mutex
	topics map[string]map[string]chan T
	buffer int
}

func (sm *SubscriberMap[T]) Subscribe(topic string) (string, <-chan T) {
	sm.m.Lock()
	defer sm.m.Unlock()
	id := uuid.NewString()
	ch := make(chan T, sm.buffer)
	if sm.topics[topic] == nil {
		sm.topics[topic] = make(map[string]chan T)
	}
	sm.topics[topic][id] = ch
	return id, ch
}

func (sm *SubscriberMap[T]) Unsubscribe(topic, id string) {
	sm.m.Lock()
	defer sm.m.Unlock()
	subs, ok := sm.topics[topic]
	if !ok {
		return
	}
	if ch, ok := subs[id]; ok {
		close(ch)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(sm.topics, topic)
	}
}

// Send delivers message to every subscriber of topic and returns how many
// subscribers missed it.
func (sm *SubscriberMap[T]) Send(topic string, message T) int {
	sm.m.Lock()
	defer sm.m.Unlock()
	dropped := 0
	for _, ch := range sm.topics[topic] {
		select {
		case ch <- message:
		default:
			dropped++
		}
	}
	return dropped
}

func (sm *SubscriberMap[T]) Count(topic string) int {
	sm.m.Lock()
	defer sm.m.Unlock()
	return len(sm.topics[topic])
}
