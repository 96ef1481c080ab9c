package service

import (
	"context"
	"sync"
)

func NewCancelMap[K comparable]() *CancelMap[K] {
	return &CancelMap[K]{
		cancels: make(map[K]context.CancelFunc),
	}
}

type CancelMap[K comparable] struct {
	m       sync.Mutex
	cancels map[K]context.CancelFunc
}

// AddCancel registers cf under id unless id already has one.
func (m *CancelMap[K]) AddCancel(id K, cf context.CancelFunc) bool {
	m.m.Lock()
	defer m.m.Unlock()
	if _, ok := m.cancels[id]; ok {
		return false
	}
	m.cancels[id] = cf
	return true
}

func (m *CancelMap[K]) RemoveCancel(key K) {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.cancels, key)
}

// Call cancels the context registered under key and reports whether there
// was one.
func (m *CancelMap[K]) Call(key K) bool {
	m.m.Lock()
	cf, ok := m.cancels[key]
	m.m.Unlock()
	if ok {
		cf()
	}
	return ok
}

func (m *CancelMap[K]) Has(key K) bool {
	m.m.Lock()
	defer m.m.Unlock()
	_, ok := m.cancels[key]
	return ok
}

func (m *CancelMap[K]) CallAll() {
	m.m.Lock()
	defer m.m.Unlock()
	for _, cf := range m.cancels {
		cf()
	}
}
