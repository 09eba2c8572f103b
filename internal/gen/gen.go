// Package gen содержит генераторы ландшафта для world.Generator
package gen

import (
	"fmt"
	"strings"

	"github.com/annel0/voxel-world/internal/world"
)

// New возвращает генератор по имени из конфигурации.
// Пустое имя и "none" означают мир без генерации (nil, nil).
func New(name string) (world.Generator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return nil, nil
	case "flat":
		return NewFlat(), nil
	case "perlin", "default":
		return NewPerlin(), nil
	}
	return nil, fmt.Errorf("%w: неизвестный генератор %q", world.ErrInvalidArgument, name)
}
