package vec

import "fmt"

// Vec3 представляет трехмерные целочисленные координаты (блок или секция)
type Vec3 struct {
	X int
	Y int
	Z int
}

// Column возвращает проекцию на плоскость XZ
func (v Vec3) Column() Vec2 {
	return Vec2{X: v.X, Z: v.Z}
}

// ToSectionCoords преобразует глобальные координаты блока в координаты секции
func (v Vec3) ToSectionCoords() Vec3 {
	return Vec3{X: v.X >> 4, Y: v.Y >> 4, Z: v.Z >> 4}
}

// LocalInSection возвращает координаты блока внутри секции 16x16x16
func (v Vec3) LocalInSection() Vec3 {
	return Vec3{X: v.X & 0xF, Y: v.Y & 0xF, Z: v.Z & 0xF}
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", v.X, v.Y, v.Z)
}
