package logger

import (
	"reflect"
	"testing"
)

type entry struct {
	level   string
	message string
	keyvals []any
}

type recorder struct {
	entries []entry
}

func (r *recorder) add(level, message string, keyvals []any) {
	r.entries = append(r.entries, entry{level: level, message: message, keyvals: keyvals})
}

func (r *recorder) Log(m string, kv ...any)   { r.add("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.add("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.add("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.add("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("fatal", m, kv) }

func TestDispatchesToAllBackends(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	defer Init()

	Log("[Test] plain", "k", 1)
	Info("[Test] info", "doc", "d1")
	Warn("[Test] warn")

	want := []entry{
		{level: "log", message: "[Test] plain", keyvals: []any{"k", 1}},
		{level: "info", message: "[Test] info", keyvals: []any{"doc", "d1"}},
		{level: "warn", message: "[Test] warn", keyvals: nil},
	}
	for _, r := range []*recorder{a, b} {
		if !reflect.DeepEqual(r.entries, want) {
			t.Fatalf("entries = %+v, want %+v", r.entries, want)
		}
	}
}

func TestUninitializedIsNoop(t *testing.T) {
	current.Store(nil)
	Info("nothing happens")
	Error("nothing happens", "err", "x")
}
