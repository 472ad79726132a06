package vec

import "fmt"

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется для позиций блоков в мире (мировые единицы).
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Vec3Float представляет трехмерный вектор с плавающими координатами.
// Используется для позиций игроков (субблочная точность).
type Vec3Float struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation представляет ориентацию игрока (углы в радианах).
type Rotation struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Key возвращает строковый ключ вида "x:y:z".
func (v Vec3) Key() string {
	return fmt.Sprintf("%d:%d:%d", v.X, v.Y, v.Z)
}

// ToVec2 проецирует Vec3 на горизонтальную плоскость (X, Z).
func (v Vec3) ToVec2() Vec2 {
	return Vec2{X: v.X, Z: v.Z}
}

// Equals проверяет равенство векторов.
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// HorizontalDistSq возвращает квадрат горизонтального расстояния (X, Z)
// до другого вектора. Квадрат — чтобы не брать корень при сравнениях.
func (v Vec3Float) HorizontalDistSq(other Vec3Float) float64 {
	dx := v.X - other.X
	dz := v.Z - other.Z
	return dx*dx + dz*dz
}

// ToVec3 округляет плавающую позицию вниз до блочных координат.
func (v Vec3Float) ToVec3() Vec3 {
	return Vec3{X: floorInt(v.X), Y: floorInt(v.Y), Z: floorInt(v.Z)}
}

func floorInt(f float64) int {
	i := int(f)
	if f < 0 && float64(i) != f {
		i--
	}
	return i
}
