package world

import "errors"

// Ошибки доступа к миру. Проверяются через errors.Is.
var (
	// ErrInvalidArgument - недопустимые координаты, слой, метаданные или чужой чанк
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupported - операция не поддерживается (например, небесный свет в мире без неба)
	ErrUnsupported = errors.New("unsupported operation")
	// ErrAlreadyReleased - объект уже освобождён (счётчик ссылок достиг нуля)
	ErrAlreadyReleased = errors.New("already released")
	// ErrNotLoaded - обращение к блокам незагруженного чанка
	ErrNotLoaded = errors.New("chunk not loaded")
)
