package world

import (
	"testing"

	"github.com/annel0/voxel-world/internal/vec"
)

// TestValidateModification проверяет граничные условия валидации.
func TestValidateModification(t *testing.T) {
	stone := "stone"
	maxCoord := 1000

	valid := func(x, y, z int, action Action) *Modification {
		return &Modification{
			Position:  vec.Vec3{X: x, Y: y, Z: z},
			BlockType: &stone,
			Action:    action,
		}
	}

	cases := []struct {
		name string
		mod  *Modification
		want bool
	}{
		{"обычная установка", valid(10, 5, 3, ActionPlace), true},
		{"y на нижней границе", valid(0, 0, 0, ActionPlace), true},
		{"y на верхней границе", valid(0, MaxBlockY, 0, ActionPlace), true},
		{"y ниже нуля", valid(0, -1, 0, ActionPlace), false},
		{"y выше предела", valid(0, MaxBlockY+1, 0, ActionPlace), false},
		{"x на границе", valid(maxCoord, 5, 0, ActionPlace), true},
		{"x за границей", valid(maxCoord+1, 5, 0, ActionPlace), false},
		{"отрицательный x за границей", valid(-maxCoord-1, 5, 0, ActionPlace), false},
		{"z за границей", valid(0, 5, maxCoord+1, ActionRemove), false},
		{"неизвестное действие", valid(0, 5, 0, Action("drop")), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ValidateModification(c.mod, maxCoord); got != c.want {
				t.Errorf("ValidateModification = %v, ожидалось %v", got, c.want)
			}
		})
	}
}

// TestIncomingWins проверяет правило LWW и правило ничьей.
func TestIncomingWins(t *testing.T) {
	cases := []struct {
		name                 string
		serverTs, clientTs   int64
		localTs              int64
		want                 bool
	}{
		{"входящая новее", 200, 100, 150, true},
		{"входящая старее", 100, 90, 150, false},
		{"ничья — побеждает входящая", 150, 100, 150, true},
		{"клиентский штамп новее серверного", 100, 300, 200, true},
		{"оба штампа старее", 100, 110, 200, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IncomingWins(c.serverTs, c.clientTs, c.localTs); got != c.want {
				t.Errorf("IncomingWins(%d,%d,%d) = %v, ожидалось %v",
					c.serverTs, c.clientTs, c.localTs, got, c.want)
			}
		})
	}
}
