package audio

import "math"

// PitchClasses 十二个音级名，EstimateKey 的取值域
var PitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

const (
	// 节拍估计的帧步长（采样数）
	tempoHop = 512

	// 统计估计的置信度门限，低于门限时返回缺省而不是错误
	tempoConfidenceMin = 0.15
	keyConfidenceMin   = 0.105

	// BPM 搜索范围
	tempoMinBPM = 60.0
	tempoMaxBPM = 200.0

	// 调性分析最多取前60秒，足够稳定且控制计算量
	keyAnalysisMaxSeconds = 60
)

// EstimateTempo 估计节拍（BPM）。对短时能量的正向差分（起音包络）做自相关，
// 在 60–200 BPM 对应的滞后范围内找峰值。置信度不足时返回 nil。
func EstimateTempo(samples []int16, sampleRate int) *float64 {
	if sampleRate <= 0 || len(samples) < tempoHop*8 {
		return nil
	}

	// 短时能量序列
	frames := len(samples) / tempoHop
	energy := make([]float64, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for _, s := range samples[f*tempoHop : (f+1)*tempoHop] {
			v := float64(s) / 32768.0
			sum += v * v
		}
		energy[f] = sum
	}

	// 起音包络：整流后的一阶差分
	onset := make([]float64, frames)
	var mean float64
	for f := 1; f < frames; f++ {
		d := energy[f] - energy[f-1]
		if d > 0 {
			onset[f] = d
		}
		mean += onset[f]
	}
	mean /= float64(frames)
	for f := range onset {
		onset[f] -= mean
	}

	frameRate := float64(sampleRate) / float64(tempoHop)
	minLag := int(frameRate * 60.0 / tempoMaxBPM)
	maxLag := int(frameRate * 60.0 / tempoMinBPM)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= frames {
		maxLag = frames - 1
	}
	if minLag >= maxLag {
		return nil
	}

	var norm float64
	for _, v := range onset {
		norm += v * v
	}
	if norm == 0 {
		return nil
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for f := lag; f < frames; f++ {
			corr += onset[f] * onset[f-lag]
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	if bestLag == 0 || bestCorr/norm < tempoConfidenceMin {
		return nil
	}

	bpm := 60.0 * frameRate / float64(bestLag)
	if bpm < tempoMinBPM || bpm > tempoMaxBPM {
		return nil
	}
	bpm = math.Round(bpm*10) / 10
	return &bpm
}

// EstimateKey 估计主导音级。用 Goertzel 滤波器组在三个八度（C3–B5）上求
// 各音级能量，叠加成色度向量后取最大值。置信度不足时返回 nil。
func EstimateKey(samples []int16, sampleRate int) *string {
	if sampleRate <= 0 || len(samples) == 0 {
		return nil
	}

	limit := sampleRate * keyAnalysisMaxSeconds
	if len(samples) < limit {
		limit = len(samples)
	}
	signal := make([]float64, limit)
	for i := 0; i < limit; i++ {
		signal[i] = float64(samples[i]) / 32768.0
	}

	var chroma [12]float64
	for pc := 0; pc < 12; pc++ {
		// C3 = MIDI 48；每个音级叠加三个八度
		for octave := 0; octave < 3; octave++ {
			midi := 48 + pc + 12*octave
			freq := 440.0 * math.Pow(2, (float64(midi)-69.0)/12.0)
			if freq >= float64(sampleRate)/2 {
				continue
			}
			chroma[pc] += goertzelPower(signal, sampleRate, freq)
		}
	}

	var total float64
	best, bestIdx := 0.0, 0
	for i, v := range chroma {
		total += v
		if v > best {
			best = v
			bestIdx = i
		}
	}
	if total == 0 || best/total < keyConfidenceMin {
		return nil
	}

	key := PitchClasses[bestIdx]
	return &key
}

// goertzelPower 计算信号在单一频率上的能量
func goertzelPower(signal []float64, sampleRate int, freq float64) float64 {
	w := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(w)
	var s1, s2 float64
	for _, x := range signal {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}
