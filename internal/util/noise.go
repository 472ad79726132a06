// Package util содержит вспомогательные генераторы рельефа.
package util

import (
	"sync"

	"github.com/aquilax/go-perlin"
)

var (
	noiseMu    sync.Mutex
	noiseSeed  int64
	noiseGen   *perlin.Perlin
	noiseReady bool
)

// PerlinNoise2D возвращает значение шума Перлина для координат (от 0 до 1).
// Генератор лениво создаётся под сид и переинициализируется при его смене.
func PerlinNoise2D(x, z float64, seed int64) float64 {
	noiseMu.Lock()
	if !noiseReady || noiseSeed != seed {
		alpha := 2.0  // Сглаживание шума
		beta := 2.0   // Частота шума
		n := int32(3) // Количество октав
		noiseGen = perlin.NewPerlin(alpha, beta, n, seed)
		noiseSeed = seed
		noiseReady = true
	}
	gen := noiseGen
	noiseMu.Unlock()

	// Noise2D возвращает значение от -1 до 1
	return (gen.Noise2D(x, z) + 1.0) / 2.0
}

// SurfaceHeight возвращает высоту поверхности рельефа в колонке (x, z)
// для указанного сида. Масштаб и амплитуда совпадают с клиентским
// генератором рельефа: база 60, размах 20 блоков.
func SurfaceHeight(x, z int, seed int64) int {
	const (
		scale     = 0.01
		baseLevel = 60
		amplitude = 20
	)
	noise := PerlinNoise2D(float64(x)*scale, float64(z)*scale, seed)
	return baseLevel + int(noise*amplitude)
}
