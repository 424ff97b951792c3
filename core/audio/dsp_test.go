package audio

import (
	"math"
	"testing"
)

const testSampleRate = 22050

// clickTrain 生成周期性冲击信号，periodSamples 为节拍间隔
func clickTrain(seconds int, periodSamples int) []int16 {
	samples := make([]int16, testSampleRate*seconds)
	for pos := 0; pos < len(samples); pos += periodSamples {
		end := pos + 512
		if end > len(samples) {
			end = len(samples)
		}
		for i := pos; i < end; i++ {
			samples[i] = 16000
		}
	}
	return samples
}

func TestEstimateTempoClickTrain(t *testing.T) {
	// 周期取帧步长整数倍，避免滞后量化误差：43 帧 ≈ 60.09 BPM
	period := tempoHop * 43
	want := 60.0 * float64(testSampleRate) / float64(period)

	bpm := EstimateTempo(clickTrain(30, period), testSampleRate)
	if bpm == nil {
		t.Fatal("expected a tempo estimate for a periodic click train")
	}
	if math.Abs(*bpm-want) > 2.0 {
		t.Errorf("got %.1f BPM, want ~%.1f", *bpm, want)
	}
}

func TestEstimateTempoFasterClickTrain(t *testing.T) {
	// 21 帧周期 ≈ 123 BPM
	period := tempoHop * 21
	want := 60.0 * float64(testSampleRate) / float64(period)

	bpm := EstimateTempo(clickTrain(20, period), testSampleRate)
	if bpm == nil {
		t.Fatal("expected a tempo estimate")
	}
	if math.Abs(*bpm-want) > 2.0 {
		t.Errorf("got %.1f BPM, want ~%.1f", *bpm, want)
	}
}

func TestEstimateTempoAbsentOnSilence(t *testing.T) {
	if bpm := EstimateTempo(make([]int16, testSampleRate*10), testSampleRate); bpm != nil {
		t.Errorf("silence should yield no estimate, got %.1f", *bpm)
	}
}

func TestEstimateTempoTooFewSamples(t *testing.T) {
	if bpm := EstimateTempo(make([]int16, 100), testSampleRate); bpm != nil {
		t.Error("too little input should yield no estimate")
	}
	if bpm := EstimateTempo(clickTrain(10, tempoHop*43), 0); bpm != nil {
		t.Error("invalid sample rate should yield no estimate")
	}
}

func TestEstimateKeySineA440(t *testing.T) {
	samples := make([]int16, testSampleRate*2)
	for i := range samples {
		samples[i] = int16(12000 * math.Sin(2*math.Pi*440.0*float64(i)/testSampleRate))
	}

	key := EstimateKey(samples, testSampleRate)
	if key == nil {
		t.Fatal("expected a key estimate for a pure tone")
	}
	if *key != "A" {
		t.Errorf("got %q, want A", *key)
	}
}

func TestEstimateKeySineMiddleC(t *testing.T) {
	// C4 = 261.63 Hz
	freq := 440.0 * math.Pow(2, (60.0-69.0)/12.0)
	samples := make([]int16, testSampleRate*2)
	for i := range samples {
		samples[i] = int16(12000 * math.Sin(2*math.Pi*freq*float64(i)/testSampleRate))
	}

	key := EstimateKey(samples, testSampleRate)
	if key == nil {
		t.Fatal("expected a key estimate for a pure tone")
	}
	if *key != "C" {
		t.Errorf("got %q, want C", *key)
	}
}

func TestEstimateKeyAbsentOnSilence(t *testing.T) {
	if key := EstimateKey(make([]int16, testSampleRate), testSampleRate); key != nil {
		t.Errorf("silence should yield no estimate, got %q", *key)
	}
	if key := EstimateKey(nil, testSampleRate); key != nil {
		t.Error("empty input should yield no estimate")
	}
}
