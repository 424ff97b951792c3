package audio

import (
	"math"
	"testing"
)

func TestComputeWaveformLength(t *testing.T) {
	samples := make([]int16, 44100)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(float64(i)*0.05))
	}

	for _, points := range []int{10, 100, 1000} {
		wf := ComputeWaveform(samples, points)
		if len(wf) != points {
			t.Fatalf("points=%d: got length %d", points, len(wf))
		}
	}
}

func TestComputeWaveformNormalized(t *testing.T) {
	// 前半段安静，后半段响亮
	samples := make([]int16, 20000)
	for i := 10000; i < 20000; i++ {
		samples[i] = int16(20000 * math.Sin(float64(i)*0.1))
	}

	wf := ComputeWaveform(samples, 100)
	var minV, maxV = wf[0], wf[0]
	for _, v := range wf {
		if v < 0 || v > 1 {
			t.Fatalf("value %f outside [0,1]", v)
		}
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	if minV > 1e-6 {
		t.Errorf("quiet half should normalize to ~0, min=%f", minV)
	}
	if maxV < 0.99 {
		t.Errorf("loud half should normalize to ~1, max=%f", maxV)
	}
}

func TestComputeWaveformShortInputZeroPadded(t *testing.T) {
	samples := make([]int16, 10)
	for i := range samples {
		samples[i] = 12345
	}

	wf := ComputeWaveform(samples, 100)
	if len(wf) != 100 {
		t.Fatalf("got length %d", len(wf))
	}
	for i := 10; i < 100; i++ {
		if wf[i] != 0 {
			t.Fatalf("tail index %d not zero-padded: %f", i, wf[i])
		}
	}
}

func TestComputeWaveformEmptyAndInvalid(t *testing.T) {
	if wf := ComputeWaveform(nil, 50); len(wf) != 50 {
		t.Fatalf("nil samples: got length %d", len(wf))
	}
	if wf := ComputeWaveform(make([]int16, 100), 0); wf != nil {
		t.Fatalf("points=0 should return nil")
	}
}
