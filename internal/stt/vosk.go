package stt

import (
	"encoding/json"
	"fmt"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
)

type voskDecoder struct {
	model      *vosk.VoskModel
	rec        *vosk.VoskRecognizer
	sampleRate float64
}

// NewVoskDecoder loads the model once and keeps a streaming recognizer
// open. The recognizer decides utterance boundaries itself, from
// trailing silence.
func NewVoskDecoder(cfg config.STTConfig, sampleRate int) (Decoder, error) {
	vosk.SetLogLevel(-1)

	model, err := vosk.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load stt model: %w", err)
	}
	rec, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("create stt recognizer: %w", err)
	}

	return &voskDecoder{
		model:      model,
		rec:        rec,
		sampleRate: float64(sampleRate),
	}, nil
}

func (d *voskDecoder) Accept(frame audio.Frame) (Result, error) {
	if d.rec.AcceptWaveform(frame.Bytes()) != 0 {
		var res struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(d.rec.Result()), &res); err != nil {
			return Result{}, fmt.Errorf("decode final result: %w", err)
		}
		return Result{Text: res.Text, Final: true}, nil
	}

	var partial struct {
		Partial string `json:"partial"`
	}
	if err := json.Unmarshal([]byte(d.rec.PartialResult()), &partial); err != nil {
		return Result{}, fmt.Errorf("decode partial result: %w", err)
	}
	return Result{Text: partial.Partial}, nil
}

// Reset discards in-flight utterance state by recreating the
// recognizer.
func (d *voskDecoder) Reset() {
	rec, err := vosk.NewRecognizer(d.model, d.sampleRate)
	if err != nil {
		// Keep the old recognizer rather than going deaf; at worst the
		// next utterance starts with a little stale context.
		return
	}
	d.rec.Free()
	d.rec = rec
}

func (d *voskDecoder) Close() error {
	d.rec.Free()
	d.model.Free()
	return nil
}
