package ags

import (
	"fmt"
	"math"
)

const (
	DefaultBPM         = 120.0
	DefaultDelayFactor = 1.0 / 4.0
	DefaultSampleRate  = 44100
	DefaultBufferSize  = 512

	// StepsPerTact is the number of sequencer steps in one tact at delay
	// factor 1.
	StepsPerTact = 16

	// NotationDefaultLength is the notation length, in steps, used for the
	// notation duration before any loop is configured.
	NotationDefaultLength = 256

	TimeZero = "0000:00.000"
)

// AbsoluteDelay returns how many buffers make up one sequencer step:
//
//	60 * ((samplerate / bufferSize) / bpm) * ((1/16) * (1/delayFactor))
//
// It returns 0 for non-positive arguments.
func AbsoluteDelay(sampleRate, bufferSize int, bpm, delayFactor float64) float64 {
	if sampleRate <= 0 || bufferSize <= 0 || bpm <= 0 || delayFactor <= 0 {
		return 0
	}
	return 60.0 * ((float64(sampleRate) / float64(bufferSize)) / bpm) * ((1.0 / StepsPerTact) * (1.0 / delayFactor))
}

// StepDuration returns the duration, in seconds, of one step.
func StepDuration(bpm, delayFactor float64) float64 {
	if bpm <= 0 || delayFactor <= 0 {
		return 0
	}
	return 60.0 / (bpm * StepsPerTact * delayFactor)
}

// UptimeFromOffset formats the position of a step offset as
// "MMMM:SS.mmm". It is a pure function of its arguments. Non-positive bpm,
// delay or delay factor yield "-0000:00.000".
func UptimeFromOffset(offset uint64, bpm, delay, delayFactor float64) string {
	if bpm <= 0 || delay <= 0 || delayFactor <= 0 {
		return "-" + TimeZero
	}
	ms := uint64(math.Round(float64(offset) * StepDuration(bpm, delayFactor) * 1000))
	min := ms / 60000
	sec := (ms / 1000) % 60
	return fmt.Sprintf("%04d:%02d.%03d", min, sec, ms%1000)
}

// Duration returns how many buffers the given number of steps spans,
// rounded up.
func Duration(steps, delay float64) uint64 {
	if steps <= 0 || delay <= 0 {
		return 0
	}
	return uint64(math.Ceil(steps * delay))
}
