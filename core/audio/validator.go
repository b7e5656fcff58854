// Package audio enforces the delivery format of audio masters.
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"

	"labelpanel/core/apperr"
	"labelpanel/logger"
)

// Delivery format accepted by the distribution partner. Not configurable.
const (
	RequiredSampleRate = 44100
	RequiredBitDepth   = 16
	MaxFileSizeBytes   = 159 * 1024 * 1024
)

var allowedExtensions = map[string]bool{
	".wav":  true,
	".wave": true,
}

// Info describes a master that passed validation.
type Info struct {
	SampleRate    int   `json:"sampleRate"`
	BitsPerSample int   `json:"bitsPerSample"`
	Channels      int   `json:"channels"`
	SizeBytes     int64 `json:"sizeBytes"`
}

// Validate checks the assembled file at path. declaredName is the file name
// the client sent, used for the extension check. On any violation the file is
// removed before the error is returned.
func Validate(path, declaredName string) (Info, error) {
	info, err := inspect(path, declaredName)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("failed to remove rejected audio file", logger.String("path", path), logger.ErrorField(rmErr))
		}
		logger.Info("audio rejected",
			logger.String("file", declaredName),
			logger.ErrorField(err))
		return Info{}, err
	}
	return info, nil
}

func inspect(path, declaredName string) (Info, error) {
	ext := strings.ToLower(filepath.Ext(declaredName))
	if !allowedExtensions[ext] {
		return Info{}, apperr.UnsupportedAudioFormat(
			fmt.Sprintf("Formato de archivo no soportado (%s). Solo se aceptan archivos WAV", displayExt(ext)))
	}

	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, apperr.Internal(fmt.Errorf("stat %s: %w", path, err))
	}
	if fi.Size() > MaxFileSizeBytes {
		return Info{}, apperr.UnsupportedAudioFormat(
			fmt.Sprintf("El archivo supera el tamaño máximo permitido de 159MB (%.1fMB)", float64(fi.Size())/(1024*1024)))
	}

	f, err := os.Open(path)
	if err != nil {
		return Info{}, apperr.Internal(fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if dec.Err() != nil || dec.NumChans == 0 {
		return Info{}, apperr.UnsupportedAudioFormat("No se pudo leer la cabecera del archivo WAV")
	}

	if int(dec.SampleRate) != RequiredSampleRate {
		return Info{}, apperr.UnsupportedAudioFormat(
			fmt.Sprintf("La frecuencia de muestreo debe ser 44100 Hz (recibido: %d Hz)", dec.SampleRate))
	}
	if int(dec.BitDepth) != RequiredBitDepth {
		return Info{}, apperr.UnsupportedAudioFormat(
			fmt.Sprintf("La profundidad de bits debe ser 16 bits (recibido: %d bits)", dec.BitDepth))
	}

	return Info{
		SampleRate:    int(dec.SampleRate),
		BitsPerSample: int(dec.BitDepth),
		Channels:      int(dec.NumChans),
		SizeBytes:     fi.Size(),
	}, nil
}

func displayExt(ext string) string {
	if ext == "" {
		return "sin extensión"
	}
	return ext
}
