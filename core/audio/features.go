package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"hibikido/model"
)

// Eight named frequency bands for the fractional energy distribution. The
// air band runs to Nyquist at analysis time.
var energyBands = []struct {
	Name string
	Low  float64
	High float64
}{
	{"sub_bass", 20, 60},
	{"bass", 60, 250},
	{"low_mid", 250, 500},
	{"mid", 500, 2000},
	{"upper_mid", 2000, 4000},
	{"presence", 4000, 6000},
	{"brilliance", 6000, 10000},
	{"air", 10000, 0}, // 0 = Nyquist
}

const (
	numMFCC       = 13
	numMelFilters = 26
	numChroma     = 12
	contrastBands = 7
	rmsHop        = FrameSize / 2 // 50% hop for RMS frames
)

// FeatureExtractor computes the unified scalar feature record of a PCM
// slice: spectral, temporal, harmonic and perceptual descriptors plus the
// 8-band energy distribution. Every output value is finite.
type FeatureExtractor struct {
	sampleRate int
	energy     *EnergyAnalyzer
}

// NewFeatureExtractor creates a feature extractor for the given sample rate.
func NewFeatureExtractor(sampleRate int) *FeatureExtractor {
	return &FeatureExtractor{
		sampleRate: sampleRate,
		energy:     NewEnergyAnalyzer(sampleRate),
	}
}

// Extract computes the full feature record for signal.
func (fe *FeatureExtractor) Extract(signal []float64) model.Features {
	out := model.Features{}
	sr := float64(fe.sampleRate)
	duration := float64(len(signal)) / sr
	out["duration"] = duration
	if len(signal) == 0 {
		return fe.sanitizeAll(out)
	}

	// Basic level statistics.
	rms := RMSFrames(signal, FrameSize, rmsHop)
	out["rms_mean"] = stat.Mean(rms, nil)
	out["rms_std"] = stdDev(rms)

	// Shared spectrogram for all spectral descriptors.
	magnitude := Spectrogram(signal, FrameSize, HopSize)
	freqs := FFTFrequencies(fe.sampleRate, FrameSize)

	centroids := make([]float64, len(magnitude))
	rolloffs := make([]float64, len(magnitude))
	bandwidths := make([]float64, len(magnitude))
	entropies := make([]float64, len(magnitude))
	irregularities := make([]float64, len(magnitude))
	for f, row := range magnitude {
		centroids[f] = spectralCentroid(row, freqs)
		rolloffs[f] = spectralRolloff(row, freqs, 0.85)
		bandwidths[f] = spectralBandwidth(row, freqs, centroids[f])
		entropies[f] = spectralEntropy(row)
		irregularities[f] = spectralIrregularity(row)
	}
	out["spectral_centroid_mean"] = stat.Mean(centroids, nil)
	out["spectral_centroid_std"] = stdDev(centroids)
	out["spectral_rolloff_mean"] = stat.Mean(rolloffs, nil)
	out["spectral_rolloff_std"] = stdDev(rolloffs)
	out["spectral_bandwidth_mean"] = stat.Mean(bandwidths, nil)
	out["spectral_bandwidth_std"] = stdDev(bandwidths)
	out["spectral_entropy"] = stat.Mean(entropies, nil)
	out["spectral_irregularity"] = stat.Mean(irregularities, nil)

	// MFCC, chroma, contrast means.
	for i, v := range fe.mfccMeans(magnitude) {
		out[fmt.Sprintf("mfcc_%02d", i+1)] = v
	}
	for i, v := range fe.chromaMeans(magnitude, freqs) {
		out[fmt.Sprintf("chroma_%02d", i+1)] = v
	}
	for i, v := range fe.contrastMeans(magnitude, freqs) {
		out[fmt.Sprintf("contrast_%02d", i+1)] = v
	}

	// Temporal envelope descriptors.
	fe.envelopeFeatures(out, rms)
	out["onset_rate"] = fe.energy.OnsetRate(signal)
	out["tempo"] = fe.tempo(magnitude)

	// Harmonic descriptors.
	out["harmonic_ratio"] = harmonicRatio(magnitude)
	out["pitch_salience"] = fe.pitchSalience(signal)

	out["roughness"] = fe.roughness(magnitude, freqs)

	// Fractional band energies, summing to 1 for non-silent input.
	power := MeanPowerSpectrum(magnitude)
	fe.bandEnergies(out, power, freqs)

	return fe.sanitizeAll(out)
}

func (fe *FeatureExtractor) sanitizeAll(out model.Features) model.Features {
	for k, v := range out {
		out[k] = sanitize(v)
	}
	return out
}

func spectralCentroid(mag, freqs []float64) float64 {
	var num, den float64
	for i, m := range mag {
		num += freqs[i] * m
		den += m
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func spectralRolloff(mag, freqs []float64, fraction float64) float64 {
	var total float64
	for _, m := range mag {
		total += m * m
	}
	if total == 0 {
		return 0
	}
	target := fraction * total
	var cum float64
	for i, m := range mag {
		cum += m * m
		if cum >= target {
			return freqs[i]
		}
	}
	return freqs[len(freqs)-1]
}

func spectralBandwidth(mag, freqs []float64, centroid float64) float64 {
	var num, den float64
	for i, m := range mag {
		d := freqs[i] - centroid
		num += d * d * m
		den += m
	}
	if den == 0 {
		return 0
	}
	return math.Sqrt(num / den)
}

// spectralEntropy computes -sum(p*ln p) with p the normalized power per bin.
func spectralEntropy(mag []float64) float64 {
	var total float64
	for _, m := range mag {
		total += m * m
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, m := range mag {
		p := m * m / total
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

// spectralIrregularity is sum(|X_i - X_{i-1}|^2) / sum(X_i^2) per frame.
func spectralIrregularity(mag []float64) float64 {
	if len(mag) < 2 {
		return 0
	}
	var num, den float64
	for i, m := range mag {
		den += m * m
		if i > 0 {
			d := m - mag[i-1]
			num += d * d
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// mfccMeans returns the mean of the first 13 MFCCs over all frames, using a
// 26-filter mel bank and a DCT-II.
func (fe *FeatureExtractor) mfccMeans(magnitude [][]float64) []float64 {
	bank := melFilterBank(numMelFilters, FrameSize, fe.sampleRate)
	sums := make([]float64, numMFCC)
	if len(magnitude) == 0 {
		return sums
	}

	melEnergies := make([]float64, numMelFilters)
	for _, row := range magnitude {
		for m, filter := range bank {
			var e float64
			for k, w := range filter {
				if w > 0 {
					e += row[k] * row[k] * w
				}
			}
			melEnergies[m] = math.Log(e + 1e-10)
		}
		for c := 0; c < numMFCC; c++ {
			var acc float64
			for m := 0; m < numMelFilters; m++ {
				acc += melEnergies[m] * math.Cos(math.Pi*float64(c)*(float64(m)+0.5)/float64(numMelFilters))
			}
			sums[c] += acc
		}
	}
	for c := range sums {
		sums[c] /= float64(len(magnitude))
	}
	return sums
}

func hzToMel(hz float64) float64  { return 2595 * math.Log10(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// melFilterBank builds triangular filters over mel-spaced points, one row
// per filter across FrameSize/2+1 bins.
func melFilterBank(numFilters, frameSize, sampleRate int) [][]float64 {
	bins := frameSize/2 + 1
	lowMel := hzToMel(0)
	highMel := hzToMel(float64(sampleRate) / 2)

	points := make([]int, numFilters+2)
	for i := range points {
		mel := lowMel + (highMel-lowMel)*float64(i)/float64(numFilters+1)
		hz := melToHz(mel)
		points[i] = int(math.Floor((float64(frameSize) + 1) * hz / float64(sampleRate)))
		if points[i] > bins-1 {
			points[i] = bins - 1
		}
	}

	bank := make([][]float64, numFilters)
	for m := 1; m <= numFilters; m++ {
		filter := make([]float64, bins)
		left, center, right := points[m-1], points[m], points[m+1]
		for k := left; k < center; k++ {
			if center != left {
				filter[k] = float64(k-left) / float64(center-left)
			}
		}
		for k := center; k < right; k++ {
			if right != center {
				filter[k] = float64(right-k) / float64(right-center)
			}
		}
		bank[m-1] = filter
	}
	return bank
}

// chromaMeans folds bin power onto the 12 pitch classes (A440 reference) and
// averages over frames, scaled so the strongest class is 1.
func (fe *FeatureExtractor) chromaMeans(magnitude [][]float64, freqs []float64) []float64 {
	sums := make([]float64, numChroma)
	if len(magnitude) == 0 {
		return sums
	}
	for _, row := range magnitude {
		for i, m := range row {
			f := freqs[i]
			if f < 20 {
				continue
			}
			midi := 12*math.Log2(f/440) + 69
			pc := ((int(math.Round(midi)) % 12) + 12) % 12
			sums[pc] += m * m
		}
	}
	maxV := 0.0
	for i := range sums {
		sums[i] /= float64(len(magnitude))
		if sums[i] > maxV {
			maxV = sums[i]
		}
	}
	if maxV > 0 {
		for i := range sums {
			sums[i] /= maxV
		}
	}
	return sums
}

// contrastMeans computes 7-band spectral contrast: per band, the log ratio
// of the top-quantile to bottom-quantile magnitudes, averaged over frames.
func (fe *FeatureExtractor) contrastMeans(magnitude [][]float64, freqs []float64) []float64 {
	// Octave-spaced edges starting at 200 Hz.
	edges := make([]float64, contrastBands+1)
	edges[0] = 0
	edge := 200.0
	for i := 1; i <= contrastBands; i++ {
		edges[i] = edge
		edge *= 2
	}
	nyquist := float64(fe.sampleRate) / 2
	if edges[contrastBands] > nyquist {
		edges[contrastBands] = nyquist
	}

	sums := make([]float64, contrastBands)
	if len(magnitude) == 0 {
		return sums
	}

	for _, row := range magnitude {
		for band := 0; band < contrastBands; band++ {
			var bins []float64
			for i, f := range freqs {
				if f >= edges[band] && f < edges[band+1] {
					bins = append(bins, row[i])
				}
			}
			if len(bins) == 0 {
				continue
			}
			peak := quantile(bins, 0.98)
			valley := quantile(bins, 0.02)
			sums[band] += math.Log((peak + 1e-10) / (valley + 1e-10))
		}
	}
	for i := range sums {
		sums[i] /= float64(len(magnitude))
	}
	return sums
}

// envelopeFeatures derives attack, decay, sustain and dynamic range from the
// RMS envelope.
func (fe *FeatureExtractor) envelopeFeatures(out model.Features, rms []float64) {
	frameDur := float64(rmsHop) / float64(fe.sampleRate)
	if len(rms) == 0 {
		out["attack_time"] = 0
		out["decay_time"] = 0
		out["sustained_level"] = 0
		out["dynamic_range"] = 0
		return
	}

	peak := 0.0
	peakIdx := 0
	for i, v := range rms {
		if v > peak {
			peak = v
			peakIdx = i
		}
	}
	if peak == 0 {
		out["attack_time"] = 0
		out["decay_time"] = 0
		out["sustained_level"] = 0
		out["dynamic_range"] = 0
		return
	}

	// Attack: first non-silent frame to the frame reaching 0.9*peak.
	silence := 0.01 * peak
	onset := 0
	for i, v := range rms {
		if v > silence {
			onset = i
			break
		}
	}
	reach := onset
	for i := onset; i < len(rms); i++ {
		if rms[i] >= 0.9*peak {
			reach = i
			break
		}
	}
	out["attack_time"] = float64(reach-onset) * frameDur

	// Decay: peak to -20 dB relative to peak, or end of signal.
	decayTarget := peak * math.Pow(10, -20.0/20.0)
	decayIdx := len(rms) - 1
	for i := peakIdx; i < len(rms); i++ {
		if rms[i] <= decayTarget {
			decayIdx = i
			break
		}
	}
	out["decay_time"] = float64(decayIdx-peakIdx) * frameDur

	// Sustain: median RMS of the middle 60%.
	lo := int(float64(len(rms)) * 0.2)
	hi := int(float64(len(rms)) * 0.8)
	if hi > lo {
		out["sustained_level"] = quantile(rms[lo:hi], 0.5)
	} else {
		out["sustained_level"] = quantile(rms, 0.5)
	}

	// Dynamic range: peak over noise floor in dB.
	floor := quantile(rms, 0.1)
	if floor < 1e-10 {
		floor = 1e-10
	}
	out["dynamic_range"] = 20 * math.Log10(peak/floor)
}

// tempo estimates beats per minute by autocorrelating the onset-strength
// envelope (positive spectral flux summed over bins).
func (fe *FeatureExtractor) tempo(magnitude [][]float64) float64 {
	if len(magnitude) < 4 {
		return 0
	}
	strength := make([]float64, len(magnitude)-1)
	for f := 1; f < len(magnitude); f++ {
		var flux float64
		for i := range magnitude[f] {
			if d := magnitude[f][i] - magnitude[f-1][i]; d > 0 {
				flux += d
			}
		}
		strength[f-1] = flux
	}

	mean := stat.Mean(strength, nil)
	for i := range strength {
		strength[i] -= mean
	}

	frameRate := float64(fe.sampleRate) / float64(HopSize)
	minLag := int(frameRate * 60 / 300) // 300 BPM
	maxLag := int(frameRate * 60 / 30)  // 30 BPM
	if maxLag >= len(strength) {
		maxLag = len(strength) - 1
	}
	if minLag < 1 {
		minLag = 1
	}
	if minLag >= maxLag {
		return 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i+lag < len(strength); i++ {
			corr += strength[i] * strength[i+lag]
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0
	}
	return 60 * frameRate / float64(bestLag)
}

// harmonicRatio separates the magnitude spectrogram into harmonic and
// percussive parts with median filters (horizontal = harmonic, vertical =
// percussive) and returns H²/(H²+P²).
func harmonicRatio(magnitude [][]float64) float64 {
	if len(magnitude) == 0 {
		return 0
	}
	frames := len(magnitude)
	bins := len(magnitude[0])
	kernel := 17
	if kernel > frames {
		kernel = frames | 1 // keep odd
	}

	var sumH, sumP float64
	windowT := make([]float64, 0, kernel)
	windowF := make([]float64, 0, kernel)
	half := kernel / 2

	for f := 0; f < frames; f++ {
		for k := 0; k < bins; k++ {
			windowT = windowT[:0]
			for t := f - half; t <= f+half; t++ {
				if t >= 0 && t < frames {
					windowT = append(windowT, magnitude[t][k])
				}
			}
			h := quantile(windowT, 0.5)

			windowF = windowF[:0]
			for b := k - half; b <= k+half; b++ {
				if b >= 0 && b < bins {
					windowF = append(windowF, magnitude[f][b])
				}
			}
			p := quantile(windowF, 0.5)

			sumH += h * h
			sumP += p * p
		}
	}
	if sumH+sumP == 0 {
		return 0
	}
	return sumH / (sumH + sumP)
}

// pitchSalience is the maximum of the normalized autocorrelation within the
// plausible pitch lag range (50–1000 Hz).
func (fe *FeatureExtractor) pitchSalience(signal []float64) float64 {
	// A one-second window bounds the O(n·lag) scan.
	n := len(signal)
	if n > fe.sampleRate {
		n = fe.sampleRate
	}
	if n == 0 {
		return 0
	}
	x := signal[:n]

	var r0 float64
	for _, v := range x {
		r0 += v * v
	}
	if r0 == 0 {
		return 0
	}

	minLag := fe.sampleRate / 1000
	maxLag := fe.sampleRate / 50
	if maxLag >= n {
		maxLag = n - 1
	}
	if minLag < 1 {
		minLag = 1
	}

	best := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var r float64
		for i := 0; i+lag < n; i++ {
			r += x[i] * x[i+lag]
		}
		if r/r0 > best {
			best = r / r0
		}
	}
	return best
}

// roughness sums pairwise Plomp-Levelt dissonance over the strongest
// partials of the time-averaged spectrum (Sethares parameterization).
func (fe *FeatureExtractor) roughness(magnitude [][]float64, freqs []float64) float64 {
	power := MeanPowerSpectrum(magnitude)
	if power == nil {
		return 0
	}

	// Collect local maxima as partials, keep the 20 strongest.
	type partial struct{ freq, amp float64 }
	var peaks []partial
	for i := 1; i < len(power)-1; i++ {
		if power[i] > power[i-1] && power[i] >= power[i+1] && power[i] > 0 {
			peaks = append(peaks, partial{freqs[i], math.Sqrt(power[i])})
		}
	}
	if len(peaks) < 2 {
		return 0
	}
	for i := 0; i < len(peaks); i++ {
		for j := i + 1; j < len(peaks); j++ {
			if peaks[j].amp > peaks[i].amp {
				peaks[i], peaks[j] = peaks[j], peaks[i]
			}
		}
	}
	if len(peaks) > 20 {
		peaks = peaks[:20]
	}

	var total float64
	for i := 0; i < len(peaks); i++ {
		for j := i + 1; j < len(peaks); j++ {
			fLo := math.Min(peaks[i].freq, peaks[j].freq)
			df := math.Abs(peaks[i].freq - peaks[j].freq)
			s := 0.24 / (0.021*fLo + 19)
			d := math.Exp(-3.5*s*df) - math.Exp(-5.75*s*df)
			total += peaks[i].amp * peaks[j].amp * d
		}
	}
	return total
}

// bandEnergies writes the fractional energy of the 8 named bands; the
// fractions sum to 1 for non-silent input.
func (fe *FeatureExtractor) bandEnergies(out model.Features, power, freqs []float64) {
	nyquist := float64(fe.sampleRate) / 2
	energies := make([]float64, len(energyBands))
	var total float64
	for b, band := range energyBands {
		high := band.High
		if high == 0 || high > nyquist {
			high = nyquist
		}
		for i, f := range freqs {
			if f >= band.Low && f < high {
				energies[b] += power[i]
			}
		}
		total += energies[b]
	}
	for b, band := range energyBands {
		key := "band_" + band.Name
		if total > 0 {
			out[key] = energies[b] / total
		} else {
			out[key] = 0
		}
	}
}

// stdDev is a NaN-safe sample standard deviation.
func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return sanitize(stat.StdDev(xs, nil))
}
