// Package portaudio implements [audio.Device] on top of the PortAudio C
// library.
//
// This package uses CGO to interface with PortAudio, opening one capture
// stream and one playback stream at the pipeline format (16 kHz mono int16).
// The two streams share no state, so reads and writes never contend on a
// lock.
//
// Requires the PortAudio development headers at build time (pkg-config
// portaudio-2.0; `apt install portaudio19-dev` on Raspberry Pi OS).
package portaudio

/*
#cgo pkg-config: portaudio-2.0

#include <portaudio.h>
#include <stdlib.h>
#include <string.h>

// Wrapper functions using void* to avoid CGO type issues with PaStream.
static PaError pa_open_stream(void **stream,
                              const PaStreamParameters *inputParams,
                              const PaStreamParameters *outputParams,
                              double sampleRate,
                              unsigned long framesPerBuffer,
                              PaStreamFlags streamFlags) {
    return Pa_OpenStream((PaStream**)stream, inputParams, outputParams, sampleRate,
                         framesPerBuffer, streamFlags, NULL, NULL);
}

static PaError pa_start_stream(void *stream) {
    return Pa_StartStream((PaStream*)stream);
}

static PaError pa_stop_stream(void *stream) {
    return Pa_StopStream((PaStream*)stream);
}

static PaError pa_close_stream(void *stream) {
    return Pa_CloseStream((PaStream*)stream);
}

static PaError pa_read_stream(void *stream, void *buffer, unsigned long frames) {
    return Pa_ReadStream((PaStream*)stream, buffer, frames);
}

static PaError pa_write_stream(void *stream, const void *buffer, unsigned long frames) {
    return Pa_WriteStream((PaStream*)stream, buffer, frames);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/hearthware/auricle/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

var (
	initOnce sync.Once
	initErr  error
)

// paError converts a PortAudio error code to a Go error.
func paError(code C.PaError) error {
	if code == C.paNoError {
		return nil
	}
	return errors.New(C.GoString(C.Pa_GetErrorText(code)))
}

// Initialize initializes the PortAudio runtime. It is safe to call multiple
// times; [Open] calls it implicitly.
func Initialize() error {
	initOnce.Do(func() {
		initErr = paError(C.Pa_Initialize())
	})
	return initErr
}

// DeviceInfo describes one audio device known to PortAudio.
type DeviceInfo struct {
	Index             int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefaultInput    bool
	IsDefaultOutput   bool
}

// Devices returns the available audio devices.
func Devices() ([]DeviceInfo, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}

	count := int(C.Pa_GetDeviceCount())
	if count < 0 {
		return nil, paError(C.PaError(count))
	}

	defaultInput := int(C.Pa_GetDefaultInputDevice())
	defaultOutput := int(C.Pa_GetDefaultOutputDevice())

	devices := make([]DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		info := C.Pa_GetDeviceInfo(C.PaDeviceIndex(i))
		if info == nil {
			continue
		}
		devices = append(devices, DeviceInfo{
			Index:             i,
			Name:              C.GoString(info.name),
			MaxInputChannels:  int(info.maxInputChannels),
			MaxOutputChannels: int(info.maxOutputChannels),
			DefaultSampleRate: float64(info.defaultSampleRate),
			IsDefaultInput:    i == defaultInput,
			IsDefaultOutput:   i == defaultOutput,
		})
	}
	return devices, nil
}

// PrintDevices prints all available devices to stdout. Useful for picking
// device indices for the audio configuration.
func PrintDevices() error {
	devices, err := Devices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := ""
		if d.IsDefaultInput {
			marker += " [DEFAULT INPUT]"
		}
		if d.IsDefaultOutput {
			marker += " [DEFAULT OUTPUT]"
		}
		fmt.Printf("%d: %s%s\n", d.Index, d.Name, marker)
		fmt.Printf("   Input channels: %d, Output channels: %d\n", d.MaxInputChannels, d.MaxOutputChannels)
		fmt.Printf("   Default sample rate: %.0f Hz\n", d.DefaultSampleRate)
	}
	return nil
}

// Config selects the capture and playback devices for [Open].
type Config struct {
	// InputDevice is the PortAudio device index for capture, or -1 for the
	// system default.
	InputDevice int

	// OutputDevice is the PortAudio device index for playback, or -1 for
	// the system default.
	OutputDevice int

	// ChunkSamples is the number of samples per captured chunk.
	// Zero means [audio.ChunkSamples].
	ChunkSamples int
}

// Device is an [audio.Device] backed by two PortAudio streams, one for
// capture and one for playback.
type Device struct {
	chunkSamples int

	readMu   sync.Mutex
	in       unsafe.Pointer
	inBuf    unsafe.Pointer
	inClosed bool

	writeMu   sync.Mutex
	out       unsafe.Pointer
	outBuf    unsafe.Pointer
	outCap    int // outBuf capacity in samples
	outClosed bool

	closeOnce sync.Once
	closeErr  error
}

// Open opens the configured capture and playback devices at the pipeline
// format and starts both streams.
func Open(cfg Config) (*Device, error) {
	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	chunk := cfg.ChunkSamples
	if chunk <= 0 {
		chunk = audio.ChunkSamples
	}

	inParams, err := streamParams(cfg.InputDevice, true)
	if err != nil {
		return nil, err
	}
	outParams, err := streamParams(cfg.OutputDevice, false)
	if err != nil {
		return nil, err
	}

	d := &Device{chunkSamples: chunk}

	var in unsafe.Pointer
	if err := paError(C.pa_open_stream(&in, inParams, nil,
		C.double(audio.SampleRate), C.ulong(chunk), C.paClipOff)); err != nil {
		return nil, fmt.Errorf("portaudio: open capture stream: %w", err)
	}
	d.in = in

	var out unsafe.Pointer
	if err := paError(C.pa_open_stream(&out, nil, outParams,
		C.double(audio.SampleRate), C.ulong(chunk), C.paClipOff)); err != nil {
		C.pa_close_stream(d.in)
		return nil, fmt.Errorf("portaudio: open playback stream: %w", err)
	}
	d.out = out

	d.inBuf = C.malloc(C.size_t(chunk * 2))
	d.outCap = chunk
	d.outBuf = C.malloc(C.size_t(d.outCap * 2))

	if err := paError(C.pa_start_stream(d.in)); err != nil {
		d.Close()
		return nil, fmt.Errorf("portaudio: start capture stream: %w", err)
	}
	if err := paError(C.pa_start_stream(d.out)); err != nil {
		d.Close()
		return nil, fmt.Errorf("portaudio: start playback stream: %w", err)
	}

	return d, nil
}

// streamParams builds mono int16 stream parameters for the given device
// index, falling back to the system default when index < 0.
func streamParams(index int, input bool) (*C.PaStreamParameters, error) {
	direction := "output"
	if input {
		direction = "input"
	}

	dev := C.PaDeviceIndex(index)
	if index < 0 {
		if input {
			dev = C.Pa_GetDefaultInputDevice()
		} else {
			dev = C.Pa_GetDefaultOutputDevice()
		}
	}
	if dev == C.paNoDevice {
		return nil, fmt.Errorf("portaudio: no %s device available", direction)
	}

	info := C.Pa_GetDeviceInfo(dev)
	if info == nil {
		return nil, fmt.Errorf("portaudio: unknown %s device index %d", direction, index)
	}

	p := &C.PaStreamParameters{
		device:                    dev,
		channelCount:              C.int(1),
		sampleFormat:              C.paInt16,
		hostApiSpecificStreamInfo: nil,
	}
	if input {
		p.suggestedLatency = info.defaultLowInputLatency
	} else {
		p.suggestedLatency = info.defaultHighOutputLatency
	}
	return p, nil
}

// ReadChunk implements [audio.Device]. An input overflow (reads fell behind
// and the capture ring wrapped) is not a fault: the chunk is returned and
// the overflow only costs the lost samples.
func (d *Device) ReadChunk() ([]int16, error) {
	d.readMu.Lock()
	defer d.readMu.Unlock()

	if d.inClosed {
		return nil, errors.New("portaudio: capture stream closed")
	}

	code := C.pa_read_stream(d.in, d.inBuf, C.ulong(d.chunkSamples))
	if code != C.paNoError && code != C.paInputOverflowed {
		return nil, fmt.Errorf("portaudio: read stream: %w", paError(code))
	}

	samples := make([]int16, d.chunkSamples)
	C.memcpy(unsafe.Pointer(&samples[0]), d.inBuf, C.size_t(d.chunkSamples*2))
	return samples, nil
}

// Write implements [audio.Device]. An output underflow (playback drained the
// device buffer before this write arrived) is not a fault.
func (d *Device) Write(pcm []int16) error {
	if len(pcm) == 0 {
		return nil
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.outClosed {
		return errors.New("portaudio: playback stream closed")
	}

	if len(pcm) > d.outCap {
		C.free(d.outBuf)
		d.outCap = len(pcm)
		d.outBuf = C.malloc(C.size_t(d.outCap * 2))
	}
	C.memcpy(d.outBuf, unsafe.Pointer(&pcm[0]), C.size_t(len(pcm)*2))

	code := C.pa_write_stream(d.out, d.outBuf, C.ulong(len(pcm)))
	if code != C.paNoError && code != C.paOutputUnderflowed {
		return fmt.Errorf("portaudio: write stream: %w", paError(code))
	}
	return nil
}

// Close implements [audio.Device]. Stops and closes both streams and frees
// the transfer buffers. Idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.readMu.Lock()
		d.inClosed = true
		C.pa_stop_stream(d.in)
		inErr := paError(C.pa_close_stream(d.in))
		C.free(d.inBuf)
		d.inBuf = nil
		d.readMu.Unlock()

		d.writeMu.Lock()
		d.outClosed = true
		C.pa_stop_stream(d.out)
		outErr := paError(C.pa_close_stream(d.out))
		C.free(d.outBuf)
		d.outBuf = nil
		d.writeMu.Unlock()

		d.closeErr = errors.Join(inErr, outErr)
	})
	return d.closeErr
}
