package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
)

const googleTTSEndpoint = "https://texttospeech.googleapis.com"

// googleSynth calls the Cloud Text-to-Speech REST API. LINEAR16
// responses arrive WAV-wrapped, so the header is stripped before the
// samples go onto the playback queue.
type googleSynth struct {
	endpoint string
	cfg      config.TTSConfig
}

func NewGoogleSynth(cfg config.TTSConfig) Synthesizer {
	return &googleSynth{endpoint: googleTTSEndpoint, cfg: cfg}
}

type googleSynthRequest struct {
	Input       googleSynthInput  `json:"input"`
	Voice       googleVoice       `json:"voice"`
	AudioConfig googleAudioConfig `json:"audioConfig"`
}

type googleSynthInput struct {
	Text string `json:"text"`
}

type googleVoice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type googleAudioConfig struct {
	AudioEncoding   string  `json:"audioEncoding"`
	SampleRateHertz int     `json:"sampleRateHertz,omitempty"`
	SpeakingRate    float64 `json:"speakingRate,omitempty"`
}

type googleSynthResponse struct {
	AudioContent string `json:"audioContent"`
}

func (g *googleSynth) Synthesize(ctx context.Context, text string) ([]int16, error) {
	payload := googleSynthRequest{
		Input: googleSynthInput{Text: text},
		Voice: googleVoice{
			LanguageCode: g.cfg.LanguageCode,
			Name:         g.cfg.Voice,
		},
		AudioConfig: googleAudioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: g.cfg.SampleRate,
			SpeakingRate:    g.cfg.SpeakingRate,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/text:synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", g.cfg.APIKey)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tts returned status %s", resp.Status)
	}

	var synthResp googleSynthResponse
	if err := json.NewDecoder(resp.Body).Decode(&synthResp); err != nil {
		return nil, fmt.Errorf("decode tts response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(synthResp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decode audio content: %w", err)
	}

	pcm, _, _, err := audio.DecodeWAV(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return pcm, nil
}
