package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Component - подсистема, пишущая в собственный лог
type Component string

const (
	ComponentStorage Component = "storage"
	ComponentCache   Component = "cache"
	ComponentAPI     Component = "api"
)

// Registry выдаёт по одному логгеру на компонент. Пороги, заданные
// через Override до первого обращения к компоненту, применяются при создании.
type Registry struct {
	mu        sync.Mutex
	loggers   map[Component]*Logger
	overrides map[Component]LogLevel
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		loggers:   make(map[Component]*Logger),
		overrides: make(map[Component]LogLevel),
	}
}

var registry = NewRegistry()

// For возвращает логгер компонента из общего реестра
func For(c Component) *Logger {
	return registry.Logger(c)
}

// Components возвращает общий реестр
func Components() *Registry {
	return registry
}

// Logger возвращает логгер компонента. Если файл лога создать
// не удалось, сообщения компонента идут в логгер по умолчанию.
func (r *Registry) Logger(c Component) *Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loggers[c]; ok {
		return l
	}
	l, err := NewLogger(string(c))
	if err != nil {
		getDefault().logf(WARN, "Логгер компонента %s: %v", c, err)
		return getDefault()
	}
	if lvl, ok := r.overrides[c]; ok {
		l.minConsoleLevel = lvl
	}
	r.loggers[c] = l
	return l
}

// Override задаёт консольный порог компонента, в том числе уже созданного
func (r *Registry) Override(c Component, console LogLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[c] = console
	if l, ok := r.loggers[c]; ok {
		l.mu.Lock()
		l.minConsoleLevel = console
		l.mu.Unlock()
	}
}

// ApplyLevels разбирает пороги вида {"storage": "debug"}
func (r *Registry) ApplyLevels(levels map[string]string) error {
	for name, s := range levels {
		lvl, err := ParseLevel(s)
		if err != nil {
			return fmt.Errorf("уровень компонента %s: %w", name, err)
		}
		r.Override(Component(name), lvl)
	}
	return nil
}

// Names возвращает имена созданных логгеров по алфавиту
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.loggers))
	for c := range r.loggers {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// Close закрывает файлы всех логгеров и очищает реестр
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for c, l := range r.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("логгер %s: %w", c, err))
		}
	}
	r.loggers = make(map[Component]*Logger)
	return errors.Join(errs...)
}
