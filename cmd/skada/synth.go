package main

import "math/rand"

// makeBlobs generates a two-class 2D dataset: class 0 around (-1,-1) and
// class 1 around (1,1), both offset by shift and perturbed by gaussian
// noise. It returns n samples, alternating classes.
func makeBlobs(n int, shift, noise float64, rng *rand.Rand) ([][]float32, []int32) {
	X := make([][]float32, n)
	y := make([]int32, n)
	for i := range X {
		label := int32(i % 2)
		center := -1.0
		if label == 1 {
			center = 1.0
		}
		X[i] = []float32{
			float32(center + shift + rng.NormFloat64()*noise),
			float32(center + shift + rng.NormFloat64()*noise),
		}
		y[i] = label
	}
	return X, y
}
