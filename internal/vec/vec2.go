package vec

import "fmt"

// Vec2 представляет координаты столбца (чанка) на плоскости XZ
type Vec2 struct {
	X, Z int
}

// ToChunkCoords преобразует глобальные координаты блока в координаты чанка
func (v Vec2) ToChunkCoords() Vec2 {
	return Vec2{X: v.X >> 4, Z: v.Z >> 4} // Деление на 16
}

// LocalInChunk возвращает локальные координаты внутри чанка
func (v Vec2) LocalInChunk() Vec2 {
	return Vec2{X: v.X & 0xF, Z: v.Z & 0xF} // Модуль 16
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Z: v.Z + other.Z}
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%d, %d)", v.X, v.Z)
}
