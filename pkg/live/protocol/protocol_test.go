package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

func TestDurationDecodeForms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want time.Duration
	}{
		{"seconds string", `"4.5s"`, 4500 * time.Millisecond},
		{"whole seconds", `"10s"`, 10 * time.Second},
		{"zero", `"0s"`, 0},
		{"bare milliseconds", `4000`, 4 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var d Duration
			if err := json.Unmarshal([]byte(tc.raw), &d); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.raw, err)
			}
			if got := time.Duration(d); got != tc.want {
				t.Fatalf("decoded %s = %v; want %v", tc.raw, got, tc.want)
			}
		})
	}

	var d Duration
	if err := json.Unmarshal([]byte(`"not a duration"`), &d); err == nil {
		t.Fatal("garbage duration decoded without error")
	}
}

func TestDecodeServerMessageRejectsUnknownFrames(t *testing.T) {
	t.Parallel()

	if _, err := DecodeServerMessage([]byte(`{"somethingElse":{}}`)); err == nil {
		t.Fatal("unknown frame decoded without error")
	}
	if _, err := DecodeServerMessage([]byte(`{broken`)); err == nil {
		t.Fatal("malformed JSON decoded without error")
	}

	msg, err := DecodeServerMessage([]byte(`{"goAway":{"timeLeft":"2s"}}`))
	if err != nil {
		t.Fatalf("decode goAway: %v", err)
	}
	if msg.Kind() != "goAway" {
		t.Fatalf("kind = %q; want goAway", msg.Kind())
	}
	if got := time.Duration(msg.GoAway.TimeLeft); got != 2*time.Second {
		t.Fatalf("timeLeft = %v; want 2s", got)
	}
}

func TestSplitModelTurnSeparatesAudioFromText(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	turn := &Content{
		Role: "model",
		Parts: []Part{
			{InlineData: &Blob{MIMEType: AudioMIMEType(24000), Data: base64.StdEncoding.EncodeToString(pcm)}},
			{Text: "and here is why"},
		},
	}

	audio, rest, err := SplitModelTurn(turn)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(audio) != 1 || string(audio[0]) != string(pcm) {
		t.Fatalf("audio = %v; want one decoded payload", audio)
	}
	if len(rest) != 1 || rest[0].Text != "and here is why" {
		t.Fatalf("rest = %+v; want the text part", rest)
	}

	if _, _, err := SplitModelTurn(nil); err != nil {
		t.Fatalf("nil turn: %v", err)
	}
}

func TestSplitModelTurnBadBase64(t *testing.T) {
	t.Parallel()

	turn := &Content{Parts: []Part{
		{InlineData: &Blob{MIMEType: AudioMIMEType(24000), Data: "!!not base64!!"}},
	}}
	if _, _, err := SplitModelTurn(turn); err == nil {
		t.Fatal("corrupt audio part split without error")
	}
}

func TestAudioMIMETypeCarriesRate(t *testing.T) {
	t.Parallel()

	if got := AudioMIMEType(16000); got != "audio/pcm;rate=16000" {
		t.Fatalf("mime = %q", got)
	}
	blob := NewBlob(AudioMIMEType(48000), []byte{0, 0})
	if !blob.IsAudio() {
		t.Fatal("pcm blob not recognized as audio")
	}
	if (Blob{MIMEType: "image/jpeg"}).IsAudio() {
		t.Fatal("image blob recognized as audio")
	}
}

func TestSetupOmitsEmptyBranches(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(&ClientMessage{Setup: &Setup{Model: "models/test"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("envelope has %d branches; want only setup: %s", len(raw), data)
	}
	var setup map[string]json.RawMessage
	if err := json.Unmarshal(raw["setup"], &setup); err != nil {
		t.Fatalf("reparse setup: %v", err)
	}
	if _, ok := setup["systemInstruction"]; ok {
		t.Fatal("empty system instruction serialized")
	}
}
