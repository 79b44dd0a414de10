package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/dispatch"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/session"
	"github.com/fpang/gemini-photo-editor/internal/store"
)

// fakeEditor appends the label to the input. Instructions containing
// "fail" return a policy error; a non-nil block channel holds each call.
type fakeEditor struct {
	mu    sync.Mutex
	block chan struct{}
}

func (f *fakeEditor) Transform(ctx context.Context, req chat.Request) (*chat.Result, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if strings.Contains(req.Instruction, "fail") {
		return nil, &chat.EditError{Kind: chat.KindPolicy, Message: "blocked by policy"}
	}
	out := append(append([]byte(nil), req.Image.Data...), '+')
	out = append(out, req.Label...)
	return &chat.Result{Image: filehandler.Image{Name: req.Image.Name, MIMEType: "image/png", Data: out}}, nil
}

type fakeSuggester struct{}

func (fakeSuggester) SuggestEdits(context.Context, filehandler.Image) ([]chat.Suggestion, error) {
	return []chat.Suggestion{{Title: "Warm up", Instruction: "make it warmer", Feature: chat.FeatureAdjust, Impact: "high"}}, nil
}

type testEnv struct {
	srv     *httptest.Server
	manager *session.Manager
	prefs   *store.FileStore
	editor  *fakeEditor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvConfig(t, nil)
}

// newTestEnvConfig lets a test adjust the server config before it starts.
func newTestEnvConfig(t *testing.T, adjust func(*Config)) *testEnv {
	t.Helper()
	prefs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ed := &fakeEditor{}
	mgr := session.NewManager(ed, 0)
	cfg := Config{Sessions: mgr, Prefs: prefs, Suggester: fakeSuggester{}}
	if adjust != nil {
		adjust(&cfg)
	}
	api := New(cfg)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, manager: mgr, prefs: prefs, editor: ed}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (body %s)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body.String())
	}
}

// openUpload opens a session through a multipart upload and returns its ID.
func (e *testEnv) openUpload(t *testing.T, name string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(pngBytes(t))
	mw.Close()

	resp, err := http.Post(e.srv.URL+"/api/sessions", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)
	info := decode[session.Info](t, resp)
	if info.Name != name {
		t.Errorf("session name = %q, want %q", info.Name, name)
	}
	return info.ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/health", nil)
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestOpenSessionRecordsRecentProject(t *testing.T) {
	env := newTestEnv(t)
	env.openUpload(t, "cat.png")

	resp := env.do(t, http.MethodGet, "/api/recent", nil)
	expectStatus(t, resp, http.StatusOK)
	body := decode[struct {
		Recent []recentView `json:"recent"`
	}](t, resp)
	if len(body.Recent) != 1 || body.Recent[0].Name != "cat.png" || !body.Recent[0].HasThumbnail {
		t.Fatalf("unexpected recent list: %+v", body.Recent)
	}

	thumb := env.do(t, http.MethodGet, "/api/recent/cat.png/thumbnail", nil)
	expectStatus(t, thumb, http.StatusOK)
	if ct := thumb.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("thumbnail Content-Type = %q", ct)
	}

	// Reopening from the recent list starts a fresh session.
	reopen := env.do(t, http.MethodPost, "/api/sessions", map[string]string{"recent": "cat.png"})
	expectStatus(t, reopen, http.StatusCreated)
	if env.manager.Len() != 2 {
		t.Errorf("open sessions = %d, want 2", env.manager.Len())
	}

	missing := env.do(t, http.MethodPost, "/api/sessions", map[string]string{"recent": "dog.png"})
	expectStatus(t, missing, http.StatusNotFound)

	del := env.do(t, http.MethodDelete, "/api/recent/cat.png", nil)
	expectStatus(t, del, http.StatusNoContent)
}

func TestEditUndoRedo(t *testing.T) {
	env := newTestEnv(t)
	id := env.openUpload(t, "cat.png")
	base := "/api/sessions/" + id

	resp := env.do(t, http.MethodPost, base+"/edit", editRequest{Feature: "edit", Params: chat.Params{Prompt: "remove the bin"}})
	expectStatus(t, resp, http.StatusOK)
	res := decode[historyResponse](t, resp)
	if res.State.Cursor != 1 || res.State.Length != 2 || res.Entry == nil || res.Entry.Label != "edit" {
		t.Fatalf("unexpected edit result: %+v", res)
	}

	resp = env.do(t, http.MethodPost, base+"/edit", editRequest{Instruction: "make it warmer", Label: "suggestion"})
	expectStatus(t, resp, http.StatusOK)

	cur := env.do(t, http.MethodGet, base+"/current", nil)
	expectStatus(t, cur, http.StatusOK)
	var img bytes.Buffer
	img.ReadFrom(cur.Body)
	if !bytes.HasSuffix(img.Bytes(), []byte("+edit+suggestion")) {
		t.Errorf("edits did not chain: %q", img.Bytes()[len(img.Bytes())-20:])
	}

	for i, want := range []bool{true, true, false} {
		res := decode[historyResponse](t, env.do(t, http.MethodPost, base+"/undo", nil))
		if res.Moved != want {
			t.Errorf("undo %d: moved = %v, want %v", i, res.Moved, want)
		}
	}
	res = decode[historyResponse](t, env.do(t, http.MethodPost, base+"/redo", nil))
	if !res.Moved || res.State.Cursor != 1 || !res.State.CanRedo {
		t.Errorf("unexpected redo result: %+v", res)
	}

	entries := decode[struct {
		Entries []entryView `json:"entries"`
	}](t, env.do(t, http.MethodGet, base+"/entries", nil))
	if len(entries.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries.Entries))
	}
	expectStatus(t, env.do(t, http.MethodGet, base+"/entries/2", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, base+"/entries/9", nil), http.StatusNotFound)
}

func TestEditErrors(t *testing.T) {
	env := newTestEnv(t)
	id := env.openUpload(t, "cat.png")
	base := "/api/sessions/" + id

	tests := []struct {
		name    string
		req     editRequest
		status  int
		message string
	}{
		{"unknown feature", editRequest{Feature: "sharpen"}, http.StatusBadRequest, "unknown feature"},
		{"missing reference", editRequest{Feature: "faceswap"}, http.StatusBadRequest, ""},
		{"missing prompt", editRequest{Feature: "edit"}, http.StatusBadRequest, ""},
		{"empty instruction", editRequest{Instruction: "  "}, http.StatusBadRequest, ""},
		{"remote failure", editRequest{Instruction: "please fail"}, http.StatusBadGateway, "blocked by policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, base+"/edit", tt.req)
			expectStatus(t, resp, tt.status)
			body := decode[map[string]string](t, resp)
			if !strings.Contains(body["error"], tt.message) {
				t.Errorf("error = %q, want it to contain %q", body["error"], tt.message)
			}
		})
	}

	// Failed edits leave history untouched.
	sess, _ := env.manager.Get(id)
	if st := sess.State(); st.Length != 1 {
		t.Errorf("history length = %d, want 1", st.Length)
	}
}

func TestEditBusy(t *testing.T) {
	env := newTestEnv(t)
	id := env.openUpload(t, "cat.png")
	base := "/api/sessions/" + id
	sess, _ := env.manager.Get(id)

	block := make(chan struct{})
	env.editor.mu.Lock()
	env.editor.block = block
	env.editor.mu.Unlock()

	done := make(chan int)
	go func() {
		resp, err := http.Post(env.srv.URL+base+"/edit", "application/json",
			strings.NewReader(`{"instruction": "first"}`))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !sess.State().Busy {
		if time.Now().After(deadline) {
			t.Fatal("first edit never became busy")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := env.do(t, http.MethodPost, base+"/edit", editRequest{Instruction: "second"})
	expectStatus(t, resp, http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, base+"/undo", nil), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, base+"/redo", nil), http.StatusConflict)

	close(block)
	if status := <-done; status != http.StatusOK {
		t.Errorf("first edit status = %d", status)
	}

	// The edit lands on the entry it was computed from.
	if st := sess.State(); st.Length != 2 || st.Cursor != 1 {
		t.Errorf("state after edit = %+v, want length 2, cursor 1", st)
	}
	hist := decode[historyResponse](t, env.do(t, http.MethodPost, base+"/undo", nil))
	if !hist.Moved {
		t.Error("undo after the edit should move")
	}
}

func TestVariantBatch(t *testing.T) {
	env := newTestEnv(t)
	id := env.openUpload(t, "cat.png")
	base := "/api/sessions/" + id + "/features/aesthetic"

	resp := env.do(t, http.MethodPost, base+"/generate", map[string]any{
		"variants": []session.Variant{
			{Key: "noir", Params: chat.Params{Preset: "film noir"}},
			{Key: "broken", Params: chat.Params{Preset: "fail on purpose"}},
		},
	})
	expectStatus(t, resp, http.StatusAccepted)

	sess, _ := env.manager.Get(id)
	sess.WaitBatch(chat.FeatureAesthetic)

	view := decode[batchView](t, env.do(t, http.MethodGet, base, nil))
	if view.State.Phase != session.PhaseResultsShown {
		t.Fatalf("phase = %v, want results-shown", view.State.Phase)
	}
	if view.Items["noir"].Status != "done" || view.Items["broken"].Status != "error" {
		t.Fatalf("unexpected items: %+v", view.Items)
	}
	if view.Items["broken"].Error != "blocked by policy" {
		t.Errorf("broken error = %q", view.Items["broken"].Error)
	}

	expectStatus(t, env.do(t, http.MethodGet, base+"/variants/noir", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, base+"/variants/missing", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodPost, base+"/variants/broken/commit", nil), http.StatusConflict)

	commit := decode[historyResponse](t, env.do(t, http.MethodPost, base+"/variants/noir/commit", nil))
	if commit.Entry == nil || commit.Entry.Label != "aesthetic:noir" || commit.State.Length != 2 {
		t.Errorf("unexpected commit result: %+v", commit)
	}

	back := decode[batchView](t, env.do(t, http.MethodPost, base+"/back", nil))
	if back.State.Phase != session.PhaseThemeSelection {
		t.Errorf("phase after back = %v", back.State.Phase)
	}
	// Back is only legal from results.
	expectStatus(t, env.do(t, http.MethodPost, base+"/back", nil), http.StatusConflict)
}

func TestVariantBatch_WaitForBatches(t *testing.T) {
	env := newTestEnvConfig(t, func(c *Config) { c.WaitForBatches = true })
	id := env.openUpload(t, "cat.png")
	base := "/api/sessions/" + id + "/features/style"

	resp := env.do(t, http.MethodPost, base+"/generate", map[string]any{
		"variants": []session.Variant{
			{Key: "watercolor", Params: chat.Params{Style: "watercolor"}},
			{Key: "broken", Params: chat.Params{Style: "fail please"}},
		},
	})
	expectStatus(t, resp, http.StatusOK)

	// No polling: the response already carries the settled batch.
	view := decode[batchView](t, resp)
	if view.State.Phase != session.PhaseResultsShown {
		t.Fatalf("phase = %v, want results-shown", view.State.Phase)
	}
	if view.Items["watercolor"].Status != "done" || view.Items["broken"].Status != "error" {
		t.Errorf("unexpected items: %+v", view.Items)
	}
	expectStatus(t, env.do(t, http.MethodPost, base+"/variants/watercolor/commit", nil), http.StatusOK)
}

func TestSelectThemes(t *testing.T) {
	env := newTestEnv(t)
	id := env.openUpload(t, "cat.png")

	resp := env.do(t, http.MethodPost, "/api/sessions/"+id+"/features/cosplay/select",
		map[string]any{"themes": []string{"pirate", "pirate", "astronaut"}})
	expectStatus(t, resp, http.StatusOK)
	view := decode[batchView](t, resp)
	if got := strings.Join(view.State.Themes, ","); got != "pirate,astronaut" {
		t.Errorf("themes = %q", got)
	}
	if len(view.Keys) != 0 {
		t.Errorf("keys = %v, want none before generating", view.Keys)
	}
}

func TestPreferencesNeverExposeAPIKey(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/api/preferences", map[string]any{
		"disclaimerAccepted": true,
		"apiKey":             "AIza-secret",
	})
	expectStatus(t, resp, http.StatusOK)

	get := env.do(t, http.MethodGet, "/api/preferences", nil)
	var raw bytes.Buffer
	raw.ReadFrom(get.Body)
	if strings.Contains(raw.String(), "AIza-secret") {
		t.Fatal("API key leaked in preferences response")
	}
	var view preferencesView
	if err := json.Unmarshal(raw.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if !view.DisclaimerAccepted || !view.HasAPIKey {
		t.Errorf("unexpected preferences: %+v", view)
	}

	stored, err := env.prefs.Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if stored.APIKey != "AIza-secret" {
		t.Errorf("stored key = %q", stored.APIKey)
	}

	// A partial update leaves the disclaimer alone and clears the key.
	resp = env.do(t, http.MethodPut, "/api/preferences", map[string]any{"apiKey": ""})
	view = decode[preferencesView](t, resp)
	if !view.DisclaimerAccepted || view.HasAPIKey {
		t.Errorf("unexpected preferences after clearing key: %+v", view)
	}
}

func TestSuggestAndExport(t *testing.T) {
	env := newTestEnv(t)
	id := env.openUpload(t, "cat.png")
	base := "/api/sessions/" + id

	sugg := decode[struct {
		Suggestions []chat.Suggestion `json:"suggestions"`
	}](t, env.do(t, http.MethodPost, base+"/suggest", nil))
	if len(sugg.Suggestions) != 1 || sugg.Suggestions[0].Feature != chat.FeatureAdjust {
		t.Errorf("unexpected suggestions: %+v", sugg.Suggestions)
	}

	env.do(t, http.MethodPost, base+"/edit", editRequest{Feature: "filter", Params: chat.Params{Preset: "vintage"}})

	resp := env.do(t, http.MethodGet, base+"/export", nil)
	expectStatus(t, resp, http.StatusOK)
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "cat-history.zip") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("invalid zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if got := strings.Join(names, ","); got != "00-original.png,01-filter.png,manifest.json" {
		t.Errorf("archive files = %s", got)
	}
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.openUpload(t, "cat.png")

	expectStatus(t, env.do(t, http.MethodDelete, "/api/sessions/"+id, nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodGet, "/api/sessions/"+id, nil), http.StatusNotFound)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{dispatch.ErrBusy, http.StatusConflict},
		{fmt.Errorf("%w: x", session.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", session.ErrInvalidTransition), http.StatusConflict},
		{&dispatch.Failure{Label: "edit", Message: "m", Err: errors.New("x")}, http.StatusBadGateway},
		{&chat.EditError{Kind: chat.KindQuota, Message: "quota"}, http.StatusBadGateway},
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("body: %w", &http.MaxBytesError{Limit: 10}), http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"/api/health", "/api/health"},
		{"/api/sessions/sess-abc/edit", "/api/sessions/*/edit"},
		{"/api/sessions/sess-abc/entries/3", "/api/sessions/*/entries/*"},
		{"/api/sessions/sess-abc/features/aesthetic/variants/noir/commit", "/api/sessions/*/features/aesthetic/variants/*/commit"},
		{"/api/recent/cat.png/thumbnail", "/api/recent/*/thumbnail"},
	}
	for _, tt := range tests {
		if got := normalizeEndpoint(tt.path); got != tt.want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	if originAllowed("https://evil.example", nil) {
		t.Error("foreign origin allowed")
	}
	if !originAllowed("https://photos.example", []string{"https://photos.example"}) {
		t.Error("configured origin rejected")
	}
}

func TestDecodeJSON_Oversized(t *testing.T) {
	body := io.MultiReader(
		strings.NewReader(`{"recent": "`),
		bytes.NewReader(bytes.Repeat([]byte("a"), maxJSONBody)),
		strings.NewReader(`"}`),
	)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	rec := httptest.NewRecorder()

	var v struct {
		Recent string `json:"recent"`
	}
	err := decodeJSON(rec, req, &v)
	if err == nil {
		t.Fatal("expected error for oversized body")
	}
	if errors.Is(err, session.ErrInvalidRequest) {
		t.Errorf("oversized body reported as invalid request: %v", err)
	}
	if got := errorStatus(err); got != http.StatusRequestEntityTooLarge {
		t.Errorf("errorStatus() = %d, want %d", got, http.StatusRequestEntityTooLarge)
	}
}
