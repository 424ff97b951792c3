package audio

import "math"

// ComputeWaveform 计算定长响度包络：按窗口求短时 RMS 能量，
// 截断/补零到目标长度，再做 min-max 归一化到 [0,1]。
// 采样数不足一个窗口时补零而不报错。
func ComputeWaveform(samples []int16, points int) []float64 {
	if points <= 0 {
		return nil
	}

	out := make([]float64, points)
	if len(samples) == 0 {
		return out
	}

	hop := len(samples) / points
	if hop < 1 {
		hop = 1
	}

	env := make([]float64, 0, points)
	for start := 0; start < len(samples) && len(env) < points; start += hop {
		end := start + hop
		if end > len(samples) {
			end = len(samples)
		}
		var sum float64
		for _, s := range samples[start:end] {
			v := float64(s) / 32768.0
			sum += v * v
		}
		env = append(env, math.Sqrt(sum/float64(end-start)))
	}

	minV, maxV := env[0], env[0]
	for _, v := range env {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	denom := maxV - minV + 1e-10
	for i, v := range env {
		out[i] = (v - minV) / denom
	}
	// 剩余位置保持 0（短于窗口数时的零填充）
	return out
}
