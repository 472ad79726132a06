package vec

import "fmt"

// Vec2 представляет двумерный вектор с целочисленными координатами.
// Используется для координат чанков и регионов (X, Z).
type Vec2 struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Key возвращает строковый ключ вида "x:z" для использования в картах и Redis.
func (v Vec2) Key() string {
	return fmt.Sprintf("%d:%d", v.X, v.Z)
}

// Equals проверяет равенство векторов.
func (v Vec2) Equals(other Vec2) bool {
	return v.X == other.X && v.Z == other.Z
}

// Add складывает два вектора.
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Z: v.Z + other.Z}
}

// ChebyshevTo возвращает расстояние Чебышёва до другого вектора.
// Именно эта метрика определяет квадратные зоны загрузки чанков.
func (v Vec2) ChebyshevTo(other Vec2) int {
	dx := v.X - other.X
	if dx < 0 {
		dx = -dx
	}
	dz := v.Z - other.Z
	if dz < 0 {
		dz = -dz
	}
	if dx > dz {
		return dx
	}
	return dz
}
