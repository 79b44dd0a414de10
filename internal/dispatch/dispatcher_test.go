package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/filehandler"
)

func img(s string) filehandler.Image {
	return filehandler.Image{Name: s + ".png", MIMEType: "image/png", Data: []byte(s)}
}

// appendOp returns an operation that appends suffix to the input payload,
// which makes the causal chain visible in the output.
func appendOp(suffix string) Operation {
	return func(_ context.Context, in filehandler.Image) (filehandler.Image, error) {
		out := append(append([]byte(nil), in.Data...), suffix...)
		return filehandler.Image{Name: in.Name, MIMEType: in.MIMEType, Data: out}, nil
	}
}

type userErr struct{ msg string }

func (e userErr) Error() string       { return "internal: " + e.msg }
func (e userErr) UserMessage() string { return e.msg }

func TestDispatch_EmptyHistory(t *testing.T) {
	d := New()
	if _, err := d.Dispatch(context.Background(), "edit", appendOp("x")); !errors.Is(err, ErrEmpty) {
		t.Errorf("Dispatch() error = %v, want ErrEmpty", err)
	}
	if d.Busy() {
		t.Error("busy flag left set after ErrEmpty")
	}
}

func TestDispatch_ChainsFromCurrent(t *testing.T) {
	d := New()
	d.Load(img("A"))

	ctx := context.Background()
	if _, err := d.Dispatch(ctx, "one", appendOp("1")); err != nil {
		t.Fatal(err)
	}
	e, err := d.Dispatch(ctx, "two", appendOp("2"))
	if err != nil {
		t.Fatal(err)
	}
	if string(e.Image.Data) != "A12" {
		t.Errorf("second edit saw %q, want A12", e.Image.Data)
	}

	// After undo the next dispatch must read the entry now at the cursor.
	d.Undo()
	e, err = d.Dispatch(ctx, "three", appendOp("3"))
	if err != nil {
		t.Fatal(err)
	}
	if string(e.Image.Data) != "A13" {
		t.Errorf("edit after undo saw %q, want A13", e.Image.Data)
	}
	if s := d.Snapshot(); s.Length != 3 || s.Cursor != 2 || s.CanRedo {
		t.Errorf("snapshot = %+v, want length 3, cursor 2, no redo", s)
	}
}

func TestDispatch_FailureLeavesHistory(t *testing.T) {
	d := New()
	d.Load(img("A"))
	before := d.Snapshot()

	failing := func(context.Context, filehandler.Image) (filehandler.Image, error) {
		return filehandler.Image{}, userErr{msg: "Blocked by safety filters"}
	}
	_, err := d.Dispatch(context.Background(), "edit", failing)

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("error = %T, want *Failure", err)
	}
	if f.Message != "Blocked by safety filters" {
		t.Errorf("Message = %q", f.Message)
	}
	if after := d.Snapshot(); after != before {
		t.Errorf("history changed on failure: %+v -> %+v", before, after)
	}
}

func TestDispatch_EmptyResultIsFailure(t *testing.T) {
	d := New()
	d.Load(img("A"))
	empty := func(context.Context, filehandler.Image) (filehandler.Image, error) {
		return filehandler.Image{}, nil
	}
	if _, err := d.Dispatch(context.Background(), "edit", empty); err == nil {
		t.Fatal("expected failure for empty result")
	}
	if d.Snapshot().Length != 1 {
		t.Error("empty result should not be committed")
	}
}

func TestDispatch_PanicClearsBusy(t *testing.T) {
	d := New()
	d.Load(img("A"))
	boom := func(context.Context, filehandler.Image) (filehandler.Image, error) {
		panic("boom")
	}
	if _, err := d.Dispatch(context.Background(), "edit", boom); err == nil {
		t.Fatal("expected failure")
	}
	if d.Busy() {
		t.Error("busy flag left set after panic")
	}
}

func TestDispatch_RejectsWhileBusy(t *testing.T) {
	d := New()
	d.Load(img("A"))

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context, in filehandler.Image) (filehandler.Image, error) {
		close(started)
		<-release
		return appendOp("slow")(ctx, in)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := d.Dispatch(context.Background(), "slow", slow); err != nil {
			t.Errorf("slow dispatch failed: %v", err)
		}
	}()

	<-started
	if !d.Busy() {
		t.Error("Busy() = false during in-flight request")
	}
	if _, err := d.Dispatch(context.Background(), "second", appendOp("x")); !errors.Is(err, ErrBusy) {
		t.Errorf("second Dispatch error = %v, want ErrBusy", err)
	}
	if _, err := d.CommitImage("variant", img("V")); !errors.Is(err, ErrBusy) {
		t.Errorf("CommitImage during flight error = %v, want ErrBusy", err)
	}

	close(release)
	wg.Wait()

	if d.Busy() {
		t.Error("busy flag not cleared")
	}
	if s := d.Snapshot(); s.Length != 2 {
		t.Errorf("Length = %d, want 2 (one committed result only)", s.Length)
	}
}

func TestCommitImage(t *testing.T) {
	d := New()
	if _, err := d.CommitImage("v", img("V")); !errors.Is(err, ErrEmpty) {
		t.Errorf("CommitImage on empty history error = %v, want ErrEmpty", err)
	}

	d.Load(img("A"))
	e, err := d.CommitImage("v", img("V"))
	if err != nil {
		t.Fatal(err)
	}
	cur, _ := d.Current()
	if cur.ID != e.ID {
		t.Error("committed image is not current")
	}
}

func TestLoad_ReplacesHistory(t *testing.T) {
	d := New()
	d.Load(img("A"))
	d.Dispatch(context.Background(), "edit", appendOp("1"))
	d.Load(img("B"))

	s := d.Snapshot()
	if s.Length != 1 || s.Cursor != 0 {
		t.Errorf("snapshot after Load = %+v, want one entry", s)
	}
	cur, _ := d.Current()
	if string(cur.Image.Data) != "B" {
		t.Errorf("current = %q, want B", cur.Image.Data)
	}
}

func TestMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("disk full"), "disk full"},
		{"user message", userErr{msg: "try again"}, "try again"},
		{"wrapped user message", &Failure{Label: "x", Message: "outer", Err: userErr{msg: "inner"}}, "outer"},
		{"deadline", ctx.Err(), "The request timed out. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.err); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDispatch_HistoryPinnedWhileBusy(t *testing.T) {
	ctx := context.Background()
	d := New()
	d.Load(img("A"))
	if _, err := d.Dispatch(ctx, "b", appendOp("B")); err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context, in filehandler.Image) (filehandler.Image, error) {
		close(started)
		<-release
		return appendOp("C")(ctx, in)
	}

	done := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(ctx, "c", slow)
		done <- err
	}()
	<-started

	if _, moved, err := d.Undo(); !errors.Is(err, ErrBusy) || moved {
		t.Errorf("Undo() during flight = moved %v, err %v; want ErrBusy", moved, err)
	}
	if _, moved, err := d.Redo(); !errors.Is(err, ErrBusy) || moved {
		t.Errorf("Redo() during flight = moved %v, err %v; want ErrBusy", moved, err)
	}
	if err := d.Reset(); !errors.Is(err, ErrBusy) {
		t.Errorf("Reset() during flight error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("slow dispatch failed: %v", err)
	}

	entries := d.Entries()
	var got []string
	for _, e := range entries {
		got = append(got, string(e.Image.Data))
	}
	want := []string{"A", "AB", "ABC"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entries = %v, want %v", got, want)
			break
		}
	}
	if s := d.Snapshot(); s.Cursor != 2 {
		t.Errorf("cursor = %d, want 2", s.Cursor)
	}

	if _, moved, err := d.Undo(); err != nil || !moved {
		t.Errorf("Undo() after flight = moved %v, err %v", moved, err)
	}
	if err := d.Reset(); err != nil {
		t.Errorf("Reset() after flight error = %v", err)
	}
	if s := d.Snapshot(); s.Length != 0 || s.Cursor != -1 {
		t.Errorf("snapshot after Reset = %+v", s)
	}
}
