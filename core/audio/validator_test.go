package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelpanel/core/apperr"
)

// writeWAV writes a canonical PCM WAV with a 44-byte header and dataLen bytes of silence.
func writeWAV(t *testing.T, dir, name string, sampleRate uint32, bitDepth uint16, channels uint16, dataLen int) string {
	t.Helper()

	blockAlign := channels * bitDepth / 8
	byteRate := sampleRate * uint32(blockAlign)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], channels)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], bitDepth)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, append(header, make([]byte, dataLen)...), 0644))
	return path
}

func assertRejected(t *testing.T, path string, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnsupportedAudioFormat), "got %v", err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "rejected file must be removed")
}

func TestValidate_Accepts44100Hz16Bit(t *testing.T) {
	path := writeWAV(t, t.TempDir(), "upload_abc_song.wav.tmp", 44100, 16, 2, 4096)

	info, err := Validate(path, "Song.WAV")
	require.NoError(t, err)
	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, 16, info.BitsPerSample)
	assert.Equal(t, 2, info.Channels)
	assert.Equal(t, int64(44+4096), info.SizeBytes)

	_, err = os.Stat(path)
	assert.NoError(t, err, "accepted file stays in place")
}

func TestValidate_AcceptsWaveExtension(t *testing.T) {
	path := writeWAV(t, t.TempDir(), "x.tmp", 44100, 16, 1, 128)
	_, err := Validate(path, "take.wave")
	assert.NoError(t, err)
}

func TestValidate_RejectsSampleRate(t *testing.T) {
	path := writeWAV(t, t.TempDir(), "x.tmp", 22050, 16, 2, 1024)
	_, err := Validate(path, "song.wav")
	assertRejected(t, path, err)
	assert.Contains(t, err.Error(), "44100 Hz")
}

func TestValidate_RejectsBitDepth(t *testing.T) {
	path := writeWAV(t, t.TempDir(), "x.tmp", 44100, 24, 2, 1200)
	_, err := Validate(path, "song.wav")
	assertRejected(t, path, err)
	assert.Contains(t, err.Error(), "16 bits")
}

func TestValidate_RejectsExtension(t *testing.T) {
	path := writeWAV(t, t.TempDir(), "x.tmp", 44100, 16, 2, 1024)
	_, err := Validate(path, "song.mp3")
	assertRejected(t, path, err)
	assert.Contains(t, err.Error(), ".mp3")
}

func TestValidate_RejectsOversize(t *testing.T) {
	path := writeWAV(t, t.TempDir(), "x.tmp", 44100, 16, 2, 1024)
	// sparse file, no real disk usage
	require.NoError(t, os.Truncate(path, 200*1024*1024))

	_, err := Validate(path, "song.wav")
	assertRejected(t, path, err)
	assert.Contains(t, err.Error(), "159MB")
}

func TestValidate_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.tmp")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a riff container"), 0644))

	_, err := Validate(path, "song.wav")
	assertRejected(t, path, err)
}

func TestValidate_RejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.tmp")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := Validate(path, "song.wav")
	assertRejected(t, path, err)
}
