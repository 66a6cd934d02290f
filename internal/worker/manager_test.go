package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWorker struct {
	name     string
	startErr error
	started  bool
	stopped  bool
	order    *[]string
}

func (w *fakeWorker) Start(ctx context.Context) error {
	w.started = true
	return w.startErr
}

func (w *fakeWorker) Stop() {
	w.stopped = true
	if w.order != nil {
		*w.order = append(*w.order, w.name)
	}
}

func (w *fakeWorker) Name() string { return w.name }

func TestManagerStartsAllAndStopsInReverse(t *testing.T) {
	m := NewManager(zap.NewNop())
	var stopOrder []string
	a := &fakeWorker{name: "a", order: &stopOrder}
	b := &fakeWorker{name: "b", order: &stopOrder}
	m.Register(a)
	m.Register(b)
	assert.Equal(t, 2, m.Count())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, a.started)
	assert.True(t, b.started)

	m.StopAll()
	assert.Equal(t, []string{"b", "a"}, stopOrder)
}

func TestManagerStartFailureUnwindsStartedWorkers(t *testing.T) {
	m := NewManager(zap.NewNop())
	a := &fakeWorker{name: "a"}
	b := &fakeWorker{name: "b", startErr: errors.New("boom")}
	c := &fakeWorker{name: "c"}
	m.Register(a)
	m.Register(b)
	m.Register(c)

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.True(t, a.stopped)
	assert.False(t, c.started)
}
