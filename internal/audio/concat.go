package audio

import (
	"time"
)

// targetBitDepth is the normalization target for merging. Mixed-depth input
// converts here rather than being rejected.
const targetBitDepth = 16

// Concatenate merges ordered per-segment clips into one chapter track,
// inserting the given pause between clips. All clips must share one sample
// rate; channel count and bit depth are normalized per clip (never assumed)
// before the byte-level merge. A malformed clip fails the whole operation
// with a FormatError naming the segment index.
func Concatenate(clips []*Clip, pause time.Duration) (*ChapterAudio, error) {
	if len(clips) == 0 {
		return nil, &FormatError{Index: 0, Reason: "no clips to concatenate"}
	}

	sampleRate := 0
	channels := 1
	for i, clip := range clips {
		if clip == nil {
			return nil, &FormatError{Index: i, Reason: "missing clip"}
		}
		if err := clip.Check(i); err != nil {
			return nil, err
		}
		if sampleRate == 0 {
			sampleRate = clip.Format.SampleRate
		} else if clip.Format.SampleRate != sampleRate {
			return nil, &FormatError{Index: i, Reason: "sample rate differs from preceding clips"}
		}
		if clip.Format.Channels > channels {
			channels = clip.Format.Channels
		}
	}

	target := Format{SampleRate: sampleRate, Channels: channels, BitDepth: targetBitDepth}
	pauseFrames := int(time.Duration(sampleRate) * pause / time.Second)
	silence := make([]byte, pauseFrames*target.BytesPerFrame())

	var pcm []byte
	for i, clip := range clips {
		pcm = append(pcm, convert(clip, target)...)
		if i < len(clips)-1 && pauseFrames > 0 {
			pcm = append(pcm, silence...)
		}
	}

	merged := Clip{Format: target, PCM: pcm}
	return &ChapterAudio{
		Format:   target,
		PCM:      pcm,
		Duration: merged.Duration(),
	}, nil
}

// convert renders a validated clip into the target format, frame by frame.
func convert(clip *Clip, target Format) []byte {
	if clip.Format == target {
		return clip.PCM
	}

	srcStep := clip.Format.BitDepth / 8
	srcCh := clip.Format.Channels
	frames := clip.Frames()

	out := make([]byte, 0, frames*target.BytesPerFrame())
	frame := make([]int, srcCh)
	for f := 0; f < frames; f++ {
		base := f * srcCh * srcStep
		for ch := 0; ch < srcCh; ch++ {
			off := base + ch*srcStep
			frame[ch] = rescale(readSample(clip.PCM[off:off+srcStep], clip.Format.BitDepth), clip.Format.BitDepth)
		}
		switch {
		case srcCh == target.Channels:
			for ch := 0; ch < target.Channels; ch++ {
				out = appendSample(out, frame[ch], target.BitDepth)
			}
		case srcCh < target.Channels:
			// mono (or narrower) fans out across the target channels
			for ch := 0; ch < target.Channels; ch++ {
				out = appendSample(out, frame[ch%srcCh], target.BitDepth)
			}
		default:
			// wider sources collapse by averaging
			avg := average(frame)
			for ch := 0; ch < target.Channels; ch++ {
				out = appendSample(out, avg, target.BitDepth)
			}
		}
	}
	return out
}

func average(frame []int) int {
	sum := 0
	for _, s := range frame {
		sum += s
	}
	return sum / len(frame)
}

// rescale converts a sample at the source bit depth to the 16-bit target.
// 8-bit WAV samples are unsigned and re-center around zero first.
func rescale(sample, bitDepth int) int {
	switch bitDepth {
	case 8:
		return (sample - 128) << 8
	case 16:
		return sample
	case 24:
		return sample >> 8
	default:
		return sample >> 16
	}
}
