package world

import "sync/atomic"

// refCounter - атомарный счётчик ссылок. dispose вызывается ровно один раз,
// при переходе 1 -> 0.
type refCounter struct {
	cnt     atomic.Int32
	dispose func()
}

func (r *refCounter) init(dispose func()) {
	r.dispose = dispose
	r.cnt.Store(1)
}

func (r *refCounter) retain() error {
	return r.retainN(1)
}

func (r *refCounter) retainN(n int32) error {
	if n <= 0 {
		return nil
	}
	for {
		c := r.cnt.Load()
		if c <= 0 {
			return ErrAlreadyReleased
		}
		if r.cnt.CompareAndSwap(c, c+n) {
			return nil
		}
	}
}

// release уменьшает счётчик и возвращает true, если объект был освобождён
func (r *refCounter) release() (bool, error) {
	for {
		c := r.cnt.Load()
		if c <= 0 {
			return false, ErrAlreadyReleased
		}
		if r.cnt.CompareAndSwap(c, c-1) {
			if c == 1 {
				if r.dispose != nil {
					r.dispose()
				}
				return true, nil
			}
			return false, nil
		}
	}
}

func (r *refCounter) refCnt() int32 {
	if c := r.cnt.Load(); c > 0 {
		return c
	}
	return 0
}

func (r *refCounter) released() bool {
	return r.cnt.Load() <= 0
}
