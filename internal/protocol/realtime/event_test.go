package realtime

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownKinds(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
	}{
		{`{"type":"session.created","event_id":"e1"}`, KindSessionCreated},
		{`{"type":"response.audio.delta","delta":"AAA="}`, KindAudioDelta},
		{`{"type":"response.audio_transcript.delta","delta":"Hi"}`, KindTranscriptDelta},
		{`{"type":"response.audio_transcript.done","transcript":"Hi there"}`, KindTranscriptDone},
		{`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello"}`, KindInputTranscriptionCompleted},
		{`{"type":"input_audio_buffer.speech_started"}`, KindSpeechStarted},
		{`{"type":"input_audio_buffer.speech_stopped"}`, KindSpeechStopped},
		{`{"type":"response.function_call_arguments.done","name":"start_mock_interview","call_id":"c1","arguments":"{}"}`, KindFunctionCallArgumentsDone},
		{`{"type":"error","error":{"type":"invalid_request_error","code":null,"message":"bad"}}`, KindError},
		{`{"type":"rate_limits.updated"}`, KindUnknown},
	}

	for _, tc := range cases {
		ev, err := Decode([]byte(tc.raw))
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.kind, ev.Kind, tc.raw)
		assert.JSONEq(t, tc.raw, string(ev.Raw))
	}
}

func TestDecode_Fields(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"response.function_call_arguments.done","name":"provide_interview_feedback","call_id":"call_9","arguments":"{\"overall_score\":7}"}`))
	require.NoError(t, err)
	assert.Equal(t, "provide_interview_feedback", ev.Name)
	assert.Equal(t, "call_9", ev.CallID)
	assert.Equal(t, `{"overall_score":7}`, ev.Arguments)

	ev, err = Decode([]byte(`{"type":"error","error":{"code":"rate_limit_exceeded","message":"slow"}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Error)
	assert.Equal(t, "rate_limit_exceeded", ev.Error.Code)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"delta":"x"}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = PeekType([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingType)

	typ, err := PeekType([]byte(`{"type":"session.created","session":{"id":"s"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSessionCreated, typ)
}

func TestClientEvents(t *testing.T) {
	raw, err := InputAudioAppend("AQID")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"input_audio_buffer.append","audio":"AQID"}`, string(raw))

	raw, err = FunctionCallOutput("call_1", `{"ok":true}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"conversation.item.create","item":{"type":"function_call_output","call_id":"call_1","output":"{\"ok\":true}"}}`, string(raw))

	raw, err = ResponseCreate()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"response.create"}`, string(raw))
}

func TestSessionUpdate_DefaultProfile(t *testing.T) {
	raw, err := SessionUpdate(DefaultProfile())
	require.NoError(t, err)

	var decoded struct {
		Type    string         `json:"type"`
		Session map[string]any `json:"session"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TypeSessionUpdate, decoded.Type)
	assert.Equal(t, "alloy", decoded.Session["voice"])
	assert.Equal(t, "pcm16", decoded.Session["input_audio_format"])
	assert.Equal(t, "auto", decoded.Session["tool_choice"])
	assert.EqualValues(t, 4096, decoded.Session["max_response_output_tokens"])

	turn := decoded.Session["turn_detection"].(map[string]any)
	assert.Equal(t, "server_vad", turn["type"])
	assert.EqualValues(t, 800, turn["silence_duration_ms"])

	tools := decoded.Session["tools"].([]any)
	require.Len(t, tools, 2)
	assert.Equal(t, ToolStartMockInterview, tools[0].(map[string]any)["name"])
}

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile().Voice, p.Voice)

	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
voice: verse
temperature: 0.6
tools:
  - type: function
    name: lookup_salary
    description: Look up salary ranges
    parameters:
      type: object
      properties:
        title:
          type: string
`), 0o600))

	p, err = LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "verse", p.Voice)
	assert.InDelta(t, 0.6, p.Temperature, 1e-9)
	assert.Equal(t, DefaultInstructions, p.Instructions)
	require.Len(t, p.Tools, 1)
	assert.Equal(t, "lookup_salary", p.Tools[0].Name)

	raw, err := SessionUpdate(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"lookup_salary"`)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("input_audio_format: g711_ulaw\n"), 0o600))
	_, err = LoadProfile(bad)
	assert.Error(t, err)

	_, err = LoadProfile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
