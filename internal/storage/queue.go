package storage

import (
	"context"
	"sync"

	"github.com/annel0/voxel-world/internal/async"
	"github.com/annel0/voxel-world/internal/vec"
)

// writeOp - одна запись в очереди
type writeOp struct {
	run      func(ctx context.Context) error
	future   *async.Future[struct{}]
	complete func(struct{}, error)
}

// lane - очередь записей одной координаты чанка.
// Записи одной полосы выполняются строго по одной и в порядке постановки.
type lane struct {
	ops     []*writeOp
	current *writeOp
	running bool
}

// writeQueue распределяет записи по полосам; число одновременно
// выполняемых записей ограничено workers
type writeQueue struct {
	ctx context.Context
	sem chan struct{}

	mu      sync.Mutex
	lanes   map[vec.Vec2]*lane
	pending map[*writeOp]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func newWriteQueue(ctx context.Context, workers int) *writeQueue {
	if workers < 1 {
		workers = 1
	}
	return &writeQueue{
		ctx:     ctx,
		sem:     make(chan struct{}, workers),
		lanes:   make(map[vec.Vec2]*lane),
		pending: make(map[*writeOp]struct{}),
	}
}

// enqueue ставит запись в полосу key. Ошибка записи завершает её Future,
// следующие записи полосы выполняются как обычно.
func (q *writeQueue) enqueue(key vec.Vec2, run func(ctx context.Context) error) *async.Future[struct{}] {
	f, complete := async.New[struct{}]()
	op := &writeOp{run: run, future: f, complete: complete}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return async.Failed[struct{}](ErrClosed)
	}
	l := q.lanes[key]
	if l == nil {
		l = &lane{}
		q.lanes[key] = l
	}
	l.ops = append(l.ops, op)
	q.pending[op] = struct{}{}
	q.wg.Add(1)
	start := !l.running
	l.running = true
	q.mu.Unlock()

	queueDepth.Inc()
	if start {
		go q.drain(key, l)
	}
	return f
}

func (q *writeQueue) drain(key vec.Vec2, l *lane) {
	for {
		q.mu.Lock()
		if len(l.ops) == 0 {
			l.running = false
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		op := l.ops[0]
		l.ops[0] = nil
		l.ops = l.ops[1:]
		l.current = op
		q.mu.Unlock()

		q.sem <- struct{}{}
		err := op.run(q.ctx)
		<-q.sem

		q.mu.Lock()
		delete(q.pending, op)
		l.current = nil
		q.mu.Unlock()
		queueDepth.Dec()
		op.complete(struct{}{}, err)
		q.wg.Done()
	}
}

// snapshot возвращает Future всех записей, поставленных до вызова
func (q *writeQueue) snapshot() []*async.Future[struct{}] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*async.Future[struct{}], 0, len(q.pending))
	for op := range q.pending {
		out = append(out, op.future)
	}
	return out
}

// laneSnapshot возвращает Future выполняемой и ожидающих записей полосы key
func (q *writeQueue) laneSnapshot(key vec.Vec2) []*async.Future[struct{}] {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.lanes[key]
	if l == nil {
		return nil
	}
	out := make([]*async.Future[struct{}], 0, len(l.ops)+1)
	if l.current != nil {
		out = append(out, l.current.future)
	}
	for _, op := range l.ops {
		out = append(out, op.future)
	}
	return out
}

// close запрещает новые записи и дожидается уже поставленных
func (q *writeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
