package dsp

import "math"

// decodePCM decodes one block of little-endian interleaved PCM at the
// given bit depth into out (pre-sized to FrameSize*channels), returning
// the number of frames decoded. 24-bit samples are sign-extended
// (spec.md §4.2 step 1).
func decodePCM(input []byte, bitDepth, channels int, out []float64) int {
	if channels <= 0 {
		return 0
	}
	bytesPerSample := bitDepth / 8
	if bytesPerSample <= 0 {
		return 0
	}
	frameBytes := bytesPerSample * channels
	if frameBytes <= 0 {
		return 0
	}
	frames := len(input) / frameBytes
	if frames > FrameSize {
		frames = FrameSize
	}

	idx := 0
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			off := (f*channels + c) * bytesPerSample
			var v float64
			switch bitDepth {
			case 16:
				raw := int16(uint16(input[off]) | uint16(input[off+1])<<8)
				v = float64(raw) / 32768.0
			case 24:
				raw := int32(uint32(input[off]) | uint32(input[off+1])<<8 | uint32(input[off+2])<<16)
				raw = (raw << 8) >> 8 // sign-extend from bit 23
				v = float64(raw) / 8388608.0
			case 32:
				raw := int32(uint32(input[off]) | uint32(input[off+1])<<8 | uint32(input[off+2])<<16 | uint32(input[off+3])<<24)
				v = float64(raw) / 2147483648.0
			default:
				v = 0
			}
			out[idx] = v
			idx++
		}
	}
	return frames
}

// deinterleave copies interleaved float samples into the pre-sized
// per-channel buffers (spec.md §4.2 step 5); no views into the
// interleaved buffer are kept.
func deinterleave(in []float64, frames, channels int, perChannel [][]float64) {
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			perChannel[c][f] = in[f*channels+c]
		}
	}
}

// interleaveToInt32 packs per-channel float samples (range approx
// [-1,1]) into interleaved int32 PCM output, the sink's wire format
// (spec.md §3: ProcessedAudioChunk is int32 at the sink's rate/channels).
func interleaveToInt32(perChannel [][]float64, frames, channels int, out []int32) {
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			out[f*channels+c] = floatToInt32(perChannel[c][f])
		}
	}
}

func floatToInt32(v float64) int32 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int32(v * 2147483647.0)
}

func sqrtDiv(sumSq float64, n int) float64 {
	return math.Sqrt(sumSq / float64(n))
}

// dither applies triangular-PDF dither with first-order noise-shaping
// error feedback (spec.md §4.2 step 10). amplitude is fixed at 2^-23
// (a 24-bit noise floor) whatever the sink's bit depth; it is not
// derived from the output bit depth. shapingFactor in [0,1] controls
// how much of the quantization error is fed back. State is kept
// per-channel on the AudioProcessor instance, resolving spec.md §9's
// open question about accumulator scope (see DESIGN.md).
func (ap *AudioProcessor) dither(samples []float64, channel int, shapingFactor float64) {
	if shapingFactor < 0 {
		shapingFactor = 0
	} else if shapingFactor > 1 {
		shapingFactor = 1
	}
	const ditherBitDepth = 24 // dither is applied ahead of final int32 packing at effective 24-bit noise floor
	amplitude := math.Pow(2, -(float64(ditherBitDepth) - 1))

	errAcc := ap.ditherError[channel]
	for i, s := range samples {
		shaped := s + errAcc*shapingFactor
		noise := (randFloat() + randFloat() - 1) * amplitude // triangular PDF
		quantized := shaped + noise
		errAcc = shaped - quantized
		samples[i] = quantized
	}
	ap.ditherError[channel] = errAcc
}
