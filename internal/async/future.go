// Package async содержит минимальный Future для асинхронных загрузок и сохранений.
package async

import (
	"context"
	"sync"
)

// Future - результат операции, который станет доступен позже.
// Завершается ровно один раз; повторные вызовы complete игнорируются.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// New создаёт незавершённый Future и функцию для его завершения
func New[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.complete
}

// Completed возвращает уже завершённый успешный Future
func Completed[T any](v T) *Future[T] {
	f, complete := New[T]()
	complete(v, nil)
	return f
}

// Failed возвращает уже завершённый Future с ошибкой
func Failed[T any](err error) *Future[T] {
	f, complete := New[T]()
	var zero T
	complete(zero, err)
	return f
}

// Go запускает fn в отдельной горутине
func Go[T any](fn func() (T, error)) *Future[T] {
	f, complete := New[T]()
	go func() {
		complete(fn())
	}()
	return f
}

func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
	})
}

// Done закрывается при завершении операции
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone сообщает, завершена ли операция, без блокировки
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait блокируется до завершения операции или отмены ctx.
// Отмена ctx не отменяет саму операцию.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Join блокируется до завершения операции
func (f *Future[T]) Join() (T, error) {
	<-f.done
	return f.val, f.err
}

// Then вызывает fn после завершения в отдельной горутине
func (f *Future[T]) Then(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.val, f.err)
	}()
}
