package watcher

import (
	"context"
	"errors"
	"sync"

	"mailwatcher/internal/model"
	"mailwatcher/internal/notifier"
)

type markReadCall struct{ id, changeKey string }

type fakeMail struct {
	mu         sync.Mutex
	candidates []model.MessageCandidate
	details    map[string]model.MessageDetail
	findErr    error
	detailErr  map[string]error
	markErr    error

	findCalls   int
	detailCalls []string
	markCalls   []markReadCall
}

func newFakeMail(details ...model.MessageDetail) *fakeMail {
	m := &fakeMail{details: map[string]model.MessageDetail{}, detailErr: map[string]error{}}
	for _, d := range details {
		m.details[d.ID] = d
		m.candidates = append(m.candidates, model.MessageCandidate{
			ID:         d.ID,
			ChangeKey:  d.ChangeKey,
			Subject:    d.Subject,
			Sender:     d.Sender,
			ReceivedAt: d.ReceivedAt,
		})
	}
	return m
}

func (m *fakeMail) FindUnread(_ context.Context, _ string) ([]model.MessageCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	return append([]model.MessageCandidate(nil), m.candidates...), nil
}

func (m *fakeMail) GetDetail(_ context.Context, id, _ string) (model.MessageDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailCalls = append(m.detailCalls, id)
	if err := m.detailErr[id]; err != nil {
		return model.MessageDetail{}, err
	}
	d, ok := m.details[id]
	if !ok {
		return model.MessageDetail{}, errors.New("not found")
	}
	return d, nil
}

func (m *fakeMail) MarkRead(_ context.Context, id, changeKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markCalls = append(m.markCalls, markReadCall{id, changeKey})
	return m.markErr
}

// fakeClassifier 按正文决定结论；panicOn 里的正文会触发 panic
type fakeClassifier struct {
	verdict model.Verdict
	explain string
	errOn   map[string]error
	panicOn map[string]bool
	calls   []string
}

func (c *fakeClassifier) Classify(_ context.Context, content string) (model.ClassificationResult, error) {
	c.calls = append(c.calls, content)
	for marker, err := range c.errOn {
		if containsLine(content, marker) {
			return model.ClassificationResult{}, err
		}
	}
	for marker := range c.panicOn {
		if containsLine(content, marker) {
			panic("classifier exploded")
		}
	}
	v := c.verdict
	if v == "" {
		v = model.VerdictOK
	}
	return model.ClassificationResult{Verdict: v, Explanation: c.explain}, nil
}

type fakeNotifier struct {
	alerts []notifier.Alert
}

func (n *fakeNotifier) Notify(_ context.Context, a notifier.Alert) int {
	n.alerts = append(n.alerts, a)
	return 1
}

// memStore 内存 dedup store，可注入 Add 失败
type memStore struct {
	ids    map[string]bool
	adds   int
	addErr error
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{ids: map[string]bool{}}
	for _, id := range ids {
		s.ids[id] = true
	}
	return s
}

func (s *memStore) Contains(_ context.Context, id string) (bool, error) { return s.ids[id], nil }

func (s *memStore) Add(_ context.Context, id string) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.adds++
	s.ids[id] = true
	return nil
}

func (s *memStore) Len() int     { return len(s.ids) }
func (s *memStore) Close() error { return nil }
