package session

import (
	"strings"
	"testing"
	"time"
)

func TestManager_OpenGetClose(t *testing.T) {
	m := NewManager(&fakeEditor{}, 0)

	s := m.Open("holiday", source())
	if !strings.HasPrefix(s.ID, idPrefix) {
		t.Errorf("ID = %q, want prefix %q", s.ID, idPrefix)
	}
	if got, ok := m.Get(s.ID); !ok || got != s {
		t.Error("Get() should return the opened session")
	}
	if _, ok := m.Get(strings.TrimPrefix(s.ID, idPrefix)); !ok {
		t.Error("Get() should accept an ID without prefix")
	}

	infos := m.List()
	if len(infos) != 1 || infos[0].Name != "holiday" || infos[0].State.Length != 1 {
		t.Errorf("List() = %+v", infos)
	}

	if !m.Close(s.ID) {
		t.Error("Close() should report the session existed")
	}
	if m.Close(s.ID) {
		t.Error("second Close() should report false")
	}
	if _, ok := m.Get(s.ID); ok {
		t.Error("closed session still retrievable")
	}
}

func TestManager_NewImageNewHistory(t *testing.T) {
	m := NewManager(&fakeEditor{}, 0)
	a := m.Open("a", source())
	b := m.Open("b", source())
	if a.ID == b.ID {
		t.Fatal("sessions should have distinct IDs")
	}
	if a.dispatcher == b.dispatcher {
		t.Error("sessions must not share history")
	}
}

func TestManager_EvictsOldest(t *testing.T) {
	m := NewManager(&fakeEditor{}, 2)
	first := m.Open("1", source())
	time.Sleep(time.Millisecond)
	m.Open("2", source())
	time.Sleep(time.Millisecond)
	m.Open("3", source())

	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
	if _, ok := m.Get(first.ID); ok {
		t.Error("oldest session should have been evicted")
	}
	list := m.List()
	if list[0].Name != "2" || list[1].Name != "3" {
		t.Errorf("List() order = %s, %s", list[0].Name, list[1].Name)
	}
}
