package sink

// applyDriftCompensation nudges a popped chunk's effective playback
// position by ratio without changing its sample count, so the mixer's
// fixed-size accumulator never has to special-case lane output length.
// ratio > 1 (the sink has output fewer samples than its clock expects)
// reads source frames slightly faster than nominal, stepping past some
// and holding the last frame at the chunk's tail; ratio < 1 reads them
// slightly slower, so the chunk's last source frames are not used. Each
// chunk is stretched on its own, starting from its first frame; no
// fractional position carries over between chunks. This is the
// mixing-time half of spec.md
// §4.7's drift compensation (GlobalSynchronizationClock computes the
// ratio; this applies it) — spec-authored, no teacher analogue, same
// as the timeshift package's playback-rate PI controller.
func applyDriftCompensation(samples []int32, channels int, ratio float64) []int32 {
	if channels <= 0 || ratio == 1.0 || len(samples) == 0 {
		return samples
	}
	frames := len(samples) / channels
	if frames == 0 {
		return samples
	}

	out := make([]int32, len(samples))
	srcPos := 0.0
	for i := 0; i < frames; i++ {
		lo := int(srcPos)
		if lo >= frames {
			lo = frames - 1
		}
		hi := lo + 1
		if hi >= frames {
			hi = frames - 1
		}
		frac := srcPos - float64(lo)

		for c := 0; c < channels; c++ {
			a := float64(samples[lo*channels+c])
			b := float64(samples[hi*channels+c])
			out[i*channels+c] = int32(a + (b-a)*frac)
		}
		srcPos += ratio
	}
	return out
}
