package wake

import (
	"encoding/json"
	"fmt"
	"strings"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
)

// voskEngine spots keywords with a grammar-restricted recognizer. The
// grammar limits decoding to the configured keywords plus [unk], which
// keeps the model from hallucinating keywords out of ordinary speech.
type voskEngine struct {
	model      *vosk.VoskModel
	rec        *vosk.VoskRecognizer
	keywords   []string
	grammar    string
	sampleRate float64
}

func NewVoskEngine(cfg config.WakeConfig, sampleRate int) (Engine, error) {
	vosk.SetLogLevel(-1)

	model, err := vosk.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load wake model: %w", err)
	}

	keywords := make([]string, len(cfg.Keywords))
	for i, kw := range cfg.Keywords {
		keywords[i] = strings.ToLower(strings.TrimSpace(kw))
	}

	words := append(append([]string{}, keywords...), "[unk]")
	grammarJSON, err := json.Marshal(words)
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("encode wake grammar: %w", err)
	}

	rec, err := vosk.NewRecognizerGrm(model, float64(sampleRate), string(grammarJSON))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("create wake recognizer: %w", err)
	}

	return &voskEngine{
		model:      model,
		rec:        rec,
		keywords:   keywords,
		grammar:    string(grammarJSON),
		sampleRate: float64(sampleRate),
	}, nil
}

func (e *voskEngine) Process(frame audio.Frame) (Detection, bool) {
	if e.rec.AcceptWaveform(frame.Bytes()) != 0 {
		var res struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(e.rec.Result()), &res); err != nil {
			return Detection{}, false
		}
		return e.match(res.Text)
	}

	// Partial results catch the keyword before the utterance closes,
	// which shaves the silence wait off wake latency.
	var partial struct {
		Partial string `json:"partial"`
	}
	if err := json.Unmarshal([]byte(e.rec.PartialResult()), &partial); err != nil {
		return Detection{}, false
	}
	return e.match(partial.Partial)
}

func (e *voskEngine) match(text string) (Detection, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return Detection{}, false
	}
	for i, kw := range e.keywords {
		if strings.Contains(text, kw) {
			return Detection{Keyword: kw, Index: i}, true
		}
	}
	return Detection{}, false
}

// Reset discards accumulated decoder state by recreating the
// recognizer, so audio from before the reset cannot re-fire.
func (e *voskEngine) Reset() {
	rec, err := vosk.NewRecognizerGrm(e.model, e.sampleRate, e.grammar)
	if err != nil {
		// Keep the old recognizer; carried-over state only risks a
		// duplicate detection, which the gate's arming absorbs.
		return
	}
	e.rec.Free()
	e.rec = rec
}

func (e *voskEngine) Close() error {
	e.rec.Free()
	e.model.Free()
	return nil
}
