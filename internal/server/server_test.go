package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quillcast/quillcast/internal/assemble"
	"github.com/quillcast/quillcast/internal/codec"
	"github.com/quillcast/quillcast/internal/config"
	"github.com/quillcast/quillcast/internal/episode"
	"github.com/quillcast/quillcast/internal/scratch"
	"github.com/quillcast/quillcast/internal/store"
	"github.com/quillcast/quillcast/internal/synth"
	"github.com/quillcast/quillcast/internal/voice"
)

const testRate = 24000

// fakeSynth produces one second of audio per request, split into two
// chunks to exercise the streaming path.
type fakeSynth struct{}

func (fakeSynth) SampleRate() int { return testRate }

func (fakeSynth) GenerateStream(ctx context.Context, v synth.Voice, text string) (<-chan synth.Chunk, <-chan error) {
	chunks := make(chan synth.Chunk, 2)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if strings.Contains(text, "poison") {
			errs <- synth.ErrSynthesis
			return
		}
		half := make([]byte, testRate) // half a second of int16 mono
		for seq := 0; seq < 2; seq++ {
			select {
			case chunks <- synth.Chunk{Sequence: seq, SampleRate: testRate, Channels: 1, PCM: half, Final: seq == 1}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
	cfg   config.Config
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.TTS.VoicesDir = t.TempDir()
	cfg.TTS.SampleRate = testRate
	cfg.Audio.Dir = t.TempDir()
	cfg.Audio.FileFormat = "wav"
	cfg.Scratch.Dir = filepath.Join(t.TempDir(), "scratch")

	if err := codec.WriteWAVFile(filepath.Join(cfg.TTS.VoicesDir, "alba.wav"),
		make([]int, testRate/10), testRate, 1); err != nil {
		t.Fatalf("write voice: %v", err)
	}

	st, err := store.Open(context.Background(), cfg.Store, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sc, err := scratch.Init(cfg.Scratch.Dir, log)
	if err != nil {
		t.Fatalf("scratch: %v", err)
	}
	resolver := voice.NewResolver(cfg.TTS.VoicesDir, sc, log)
	merger := assemble.NewMerger(cfg.Audio.Dir, nil, log)
	proc := episode.NewProcessor(context.Background(), st, resolver, fakeSynth{}, merger, nil,
		cfg.Audio.Dir, cfg.Audio.TargetSampleRate, log)
	t.Cleanup(proc.Close)

	s := New(cfg, log, st, resolver, fakeSynth{}, proc, sc, nil, nil, nil)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: st, cfg: cfg}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthAndReady(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(e.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}

func TestHealthReportsSynthesizerReadiness(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	var out struct {
		Status      string `json:"status"`
		Synthesizer string `json:"synthesizer"`
		SampleRate  int    `json:"sample_rate"`
	}
	decodeJSON(t, resp, &out)
	if resp.StatusCode != http.StatusOK || out.Status != "ok" {
		t.Fatalf("expected healthy, got %d %+v", resp.StatusCode, out)
	}
	if out.Synthesizer != "mock" || out.SampleRate != testRate {
		t.Fatalf("unexpected synthesizer report: %+v", out)
	}

	// Losing the default voice asset must flip the probe to 503.
	if err := os.Remove(filepath.Join(e.cfg.TTS.VoicesDir, "alba.wav")); err != nil {
		t.Fatalf("remove voice: %v", err)
	}
	resp, err = http.Get(e.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without default voice, got %d", resp.StatusCode)
	}
}

func TestSpeechStreamingPCM(t *testing.T) {
	e := newEnv(t)
	resp := e.postJSON(t, "/v1/audio/speech", map[string]any{
		"input": "hello there", "stream": true,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/pcm" {
		t.Fatalf("content type %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) != testRate*2 {
		t.Fatalf("expected %d PCM bytes, got %d", testRate*2, len(body))
	}
}

func TestSpeechStreamingWAVHeader(t *testing.T) {
	e := newEnv(t)
	resp := e.postJSON(t, "/v1/audio/speech", map[string]any{
		"input": "hello", "stream": true, "response_format": "wav",
	})
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type %q", ct)
	}
	if len(body) != 44+testRate*2 {
		t.Fatalf("expected header plus PCM, got %d bytes", len(body))
	}
	if string(body[:4]) != "RIFF" || string(body[8:12]) != "WAVE" {
		t.Fatal("missing RIFF header")
	}
}

func TestSpeechStreamingCoercesCompressedToPCM(t *testing.T) {
	e := newEnv(t)
	resp := e.postJSON(t, "/v1/audio/speech", map[string]any{
		"input": "hello", "stream": true, "response_format": "mp3",
	})
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "audio/pcm" {
		t.Fatalf("expected coercion to pcm, got %q", ct)
	}
}

func TestSpeechFileWAV(t *testing.T) {
	e := newEnv(t)
	resp := e.postJSON(t, "/v1/audio/speech", map[string]any{
		"input": "hello", "response_format": "wav",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "attachment; filename=speech.wav" {
		t.Fatalf("content disposition %q", cd)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) < 44 || string(body[:4]) != "RIFF" {
		t.Fatal("expected a complete WAV file")
	}
}

func TestSpeechBadRequests(t *testing.T) {
	e := newEnv(t)
	cases := []map[string]any{
		{"input": ""},
		{"input": "hi", "voice": "nobody"},
		{"input": "hi", "response_format": "ogg"},
	}
	for _, body := range cases {
		resp := e.postJSON(t, "/v1/audio/speech", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %v: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestSpeechSynthesisFailure(t *testing.T) {
	e := newEnv(t)
	resp := e.postJSON(t, "/v1/audio/speech", map[string]any{"input": "poison"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestVoiceCatalog(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("GET voices: %v", err)
	}
	var out struct {
		Voices []voice.Info `json:"voices"`
	}
	decodeJSON(t, resp, &out)
	if len(out.Voices) != 1 || out.Voices[0].ID != "alba" {
		t.Fatalf("unexpected catalog: %+v", out.Voices)
	}
}

func (e *testEnv) createEpisode(t *testing.T, chunks ...string) episodeResponse {
	t.Helper()
	resp := e.postJSON(t, "/v1/episodes", map[string]any{
		"title":  "Doc",
		"chunks": chunks,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create episode: status %d", resp.StatusCode)
	}
	var ep episodeResponse
	decodeJSON(t, resp, &ep)
	return ep
}

func (e *testEnv) waitEpisode(t *testing.T, id, want string) episodeResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var ep episodeResponse
	for time.Now().Before(deadline) {
		resp, err := http.Get(e.srv.URL + "/v1/episodes/" + id)
		if err != nil {
			t.Fatalf("GET episode: %v", err)
		}
		decodeJSON(t, resp, &ep)
		if ep.Status == want {
			return ep
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("episode never reached %s, stuck at %s", want, ep.Status)
	return episodeResponse{}
}

func TestEpisodeLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	ep := e.createEpisode(t, "chunk one", "chunk two")
	if ep.Status != "pending" && ep.Status != "processing" {
		t.Fatalf("unexpected initial status %s", ep.Status)
	}

	done := e.waitEpisode(t, ep.ID, "completed")
	// Two 1s chunks and one 0.5s gap.
	if done.TotalDurationSecs < 2.4 || done.TotalDurationSecs > 2.6 {
		t.Fatalf("unexpected duration %.3f", done.TotalDurationSecs)
	}

	resp, err := http.Get(e.srv.URL + "/v1/episodes/" + ep.ID + "/chunks")
	if err != nil {
		t.Fatalf("GET chunks: %v", err)
	}
	var chunksOut struct {
		Chunks []chunkResponse `json:"chunks"`
	}
	decodeJSON(t, resp, &chunksOut)
	if len(chunksOut.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunksOut.Chunks))
	}
	for _, c := range chunksOut.Chunks {
		if c.Status != "done" {
			t.Fatalf("chunk %d not done: %s", c.ChunkIndex, c.Status)
		}
	}

	resp, err = http.Get(e.srv.URL + "/v1/episodes/" + ep.ID + "/audio")
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body[:4]) != "RIFF" {
		t.Fatalf("expected merged WAV, status %d", resp.StatusCode)
	}
}

func TestEpisodeCreateValidation(t *testing.T) {
	e := newEnv(t)
	cases := []map[string]any{
		{"title": "", "chunks": []string{"a"}},
		{"title": "Doc", "chunks": []string{}},
		{"title": "Doc", "chunks": []string{"a"}, "output_format": "ogg"},
		{"title": "Doc", "chunks": []string{"a"}, "code_block_rule": "mumble"},
	}
	for _, body := range cases {
		resp := e.postJSON(t, "/v1/episodes", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %v: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestEpisodeNotFound(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.srv.URL + "/v1/episodes/no-such-id")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestEpisodeDeleteRemovesAudio(t *testing.T) {
	e := newEnv(t)
	ep := e.createEpisode(t, "chunk one")
	e.waitEpisode(t, ep.ID, "completed")

	audioDir := filepath.Join(e.cfg.Audio.Dir, ep.ID)
	if _, err := os.Stat(audioDir); err != nil {
		t.Fatalf("expected audio dir before delete: %v", err)
	}

	req, _ := http.NewRequest(http.MethodDelete, e.srv.URL+"/v1/episodes/"+ep.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if _, err := os.Stat(audioDir); !os.IsNotExist(err) {
		t.Fatal("expected audio dir removed")
	}

	resp, _ = http.Get(e.srv.URL + "/v1/episodes/" + ep.ID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestEpisodeCancelAfterCompletionConflicts(t *testing.T) {
	e := newEnv(t)
	ep := e.createEpisode(t, "chunk one")
	e.waitEpisode(t, ep.ID, "completed")

	// Canceled is terminal; cancel after completion must conflict.
	resp := e.postJSON(t, fmt.Sprintf("/v1/episodes/%s/cancel", ep.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestPlaybackRoundTrip(t *testing.T) {
	e := newEnv(t)
	ep := e.createEpisode(t, "chunk one")

	resp, err := http.Get(e.srv.URL + "/v1/episodes/" + ep.ID + "/playback")
	if err != nil {
		t.Fatalf("GET playback: %v", err)
	}
	var ps playbackResponse
	decodeJSON(t, resp, &ps)
	if ps.PositionSecs != 0 || ps.CurrentChunkIndex != 0 {
		t.Fatalf("expected zero state, got %+v", ps)
	}

	data, _ := json.Marshal(playbackRequest{CurrentChunkIndex: 1, PositionSecs: 12.5, PercentListened: 40})
	req, _ := http.NewRequest(http.MethodPut, e.srv.URL+"/v1/episodes/"+ep.ID+"/playback", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	putResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT playback: %v", err)
	}
	putResp.Body.Close()
	if putResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", putResp.StatusCode)
	}

	resp, err = http.Get(e.srv.URL + "/v1/episodes/" + ep.ID + "/playback")
	if err != nil {
		t.Fatalf("GET playback: %v", err)
	}
	decodeJSON(t, resp, &ps)
	if ps.CurrentChunkIndex != 1 || ps.PositionSecs != 12.5 || ps.PercentListened != 40 {
		t.Fatalf("unexpected playback state: %+v", ps)
	}
}

func TestFolders(t *testing.T) {
	e := newEnv(t)
	resp := e.postJSON(t, "/v1/folders", map[string]string{"name": "Tech"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create folder: status %d", resp.StatusCode)
	}
	var created folderResponse
	decodeJSON(t, resp, &created)
	if created.Name != "Tech" || created.ID == "" {
		t.Fatalf("unexpected folder: %+v", created)
	}

	listResp, err := http.Get(e.srv.URL + "/v1/folders")
	if err != nil {
		t.Fatalf("GET folders: %v", err)
	}
	var out struct {
		Folders []folderResponse `json:"folders"`
	}
	decodeJSON(t, listResp, &out)
	if len(out.Folders) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(out.Folders))
	}
}

func TestScratchPurgeEndpoint(t *testing.T) {
	e := newEnv(t)
	resp := e.postJSON(t, "/v1/scratch/purge", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
