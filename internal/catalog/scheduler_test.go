package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bb-Ricardo/fritzinfluxdb/internal/extract"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/pipeline"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/schema"
	"github.com/bb-Ricardo/fritzinfluxdb/internal/source"
	"github.com/bb-Ricardo/fritzinfluxdb/pkg/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeSource answers calls from canned responses keyed by "Service/Action"
// for TR-064 requests and by page (or path) for web requests.
type fakeSource struct {
	min       time.Duration
	responses map[string]any
	errs      map[string]error
	calls     []string
}

func requestKey(req source.Request) string {
	switch {
	case req.Action != "":
		return req.Service + "/" + req.Action
	case req.Params["page"] != "":
		return req.Params["page"]
	}
	return req.Path
}

func (f *fakeSource) Name() string                  { return "fake" }
func (f *fakeSource) Connect(context.Context) error { return nil }
func (f *fakeSource) MinInterval() time.Duration    { return f.min }
func (f *fakeSource) Close() error                  { return nil }

func (f *fakeSource) Call(_ context.Context, req source.Request) (any, error) {
	k := requestKey(req)
	f.calls = append(f.calls, k)
	if err, ok := f.errs[k]; ok {
		return nil, err
	}
	if v, ok := f.responses[k]; ok {
		return v, nil
	}
	return nil, source.ErrUnknownService
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestScheduler(t *testing.T, src *fakeSource, defs []Definition) (*Scheduler, *pipeline.Queue, *clock) {
	t.Helper()
	q := pipeline.NewQueue(1000)
	s, err := NewScheduler(src, defs, extract.NewEngine("fritz.box", time.UTC, discard), q, Options{}, discard)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, q, c
}

func service(t *testing.T, s *Scheduler, name string) *Service {
	t.Helper()
	for _, svc := range s.Services() {
		if svc.Name() == name {
			return svc
		}
	}
	t.Fatalf("service %q not found", name)
	return nil
}

func byName(ms []types.Measurement, name string) []types.Measurement {
	var out []types.Measurement
	for _, m := range ms {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

func uptimeDef(interval time.Duration) Definition {
	d := tr064("DeviceInfo", actions("GetInfo"), fields("NewUpTime", "systemuptime:int"))
	d.Interval = interval
	return d
}

func TestShouldPoll_SimulatedClock(t *testing.T) {
	src := &fakeSource{min: 10 * time.Second}
	s, _, c := newTestScheduler(t, src, []Definition{uptimeDef(30 * time.Second)})
	svc := s.Services()[0]

	if s.ShouldPoll(svc) {
		t.Error("undiscovered service should not be polled")
	}
	svc.state = StateAvailable
	if !s.ShouldPoll(svc) {
		t.Error("never queried service should be polled")
	}

	svc.lastQuery = c.now()
	c.advance(29 * time.Second)
	if s.ShouldPoll(svc) {
		t.Error("polled before interval elapsed")
	}
	c.advance(time.Second)
	if !s.ShouldPoll(svc) {
		t.Error("not polled after interval elapsed")
	}

	svc.state = StateUnavailable
	if s.ShouldPoll(svc) {
		t.Error("unavailable service polled")
	}
}

func TestNewScheduler_EffectiveInterval(t *testing.T) {
	src := &fakeSource{min: 10 * time.Second}
	s, _, _ := newTestScheduler(t, src, []Definition{uptimeDef(0), uptimeDef(5 * time.Second), uptimeDef(time.Minute)})
	want := []time.Duration{10 * time.Second, 10 * time.Second, time.Minute}
	for i, svc := range s.Services() {
		if svc.Interval() != want[i] {
			t.Errorf("service %d: interval %v, want %v", i, svc.Interval(), want[i])
		}
	}
}

func TestNewScheduler_RejectsInvalidDefinitions(t *testing.T) {
	bad := tr064("DeviceInfo", actions("GetInfo"), []Metric{{Name: "x", Node: &schema.Node{Type: types.Int}}})
	_, err := NewScheduler(&fakeSource{}, []Definition{bad}, extract.NewEngine("b", time.UTC, discard), pipeline.NewQueue(1), Options{}, discard)
	if !errors.Is(err, schema.ErrInvalidSchema) {
		t.Errorf("got %v, want ErrInvalidSchema", err)
	}
}

func TestDiscover_DisablesUnsupportedServicesAndActions(t *testing.T) {
	src := &fakeSource{
		responses: map[string]any{
			"Partial/GetInfo": map[string]any{"NewA": "1"},
			"Flaky/GetInfo":   map[string]any{"NewA": "1"},
		},
		errs: map[string]error{
			"Partial/GetExtra":   fmt.Errorf("fault 401: %w", source.ErrUnknownAction),
			"NoActions/GetInfo":  source.ErrUnknownAction,
			"NoActions/GetOther": source.ErrUnknownAction,
			"Flaky/GetInfo":      errors.New("connection reset"),
			"statusPage":         source.ErrUnknownService,
		},
	}
	defs := []Definition{
		tr064("Gone", actions("GetInfo"), fields("NewA", "a:int")),
		tr064("Partial", actions("GetInfo", "GetExtra"), fields("NewA", "a:int")),
		tr064("NoActions", actions("GetInfo", "GetOther"), fields("NewA", "a:int")),
		tr064("Flaky", actions("GetInfo"), fields("NewA", "a:int")),
		page("Status", map[string]string{"page": "statusPage"}, 0, metric("s", schema.Leaf("x", types.Int))),
	}
	s, q, c := newTestScheduler(t, src, defs)

	if err := s.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	want := map[string]State{
		"Gone":      StateUnavailable,
		"Partial":   StateAvailable,
		"NoActions": StateUnavailable,
		"Flaky":     StateAvailable,
		"Status":    StateUnavailable,
	}
	for name, st := range want {
		if got := service(t, s, name).State(); got != st {
			t.Errorf("%s: state %s, want %s", name, got, st)
		}
	}

	partial := service(t, s, "Partial")
	if !partial.ActionEnabled("GetInfo") || partial.ActionEnabled("GetExtra") {
		t.Error("Partial: only GetExtra should be disabled")
	}
	if !partial.LastQuery().Equal(c.now()) {
		t.Errorf("Partial: lastQuery %v, want %v", partial.LastQuery(), c.now())
	}
	if !service(t, s, "Flaky").LastQuery().IsZero() {
		t.Error("Flaky: lastQuery set after failed discovery")
	}
	if got := q.Drain(nil); len(got) != 1 || got[0].Value != int64(1) {
		t.Errorf("discovery measurements: got %v, want one a=1", got)
	}

	// Disabled services and actions are never called again.
	src.calls = nil
	c.advance(time.Hour)
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	for _, k := range src.calls {
		switch k {
		case "Gone/GetInfo", "Partial/GetExtra", "NoActions/GetInfo", "NoActions/GetOther", "statusPage":
			t.Errorf("disabled target %s called after discovery", k)
		}
	}
}

func TestPoll_TransientErrorSkipsOnlyCurrentTick(t *testing.T) {
	src := &fakeSource{responses: map[string]any{"DeviceInfo/GetInfo": map[string]any{"NewUpTime": "5"}}}
	s, q, c := newTestScheduler(t, src, []Definition{uptimeDef(10 * time.Second)})
	ctx := context.Background()
	if err := s.Discover(ctx); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	q.Drain(nil)
	svc := s.Services()[0]
	last := svc.LastQuery()

	src.errs = map[string]error{"DeviceInfo/GetInfo": errors.New("timeout")}
	c.advance(10 * time.Second)
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("queue: got %d measurements after failed poll", q.Len())
	}
	if svc.State() != StateAvailable || !svc.LastQuery().Equal(last) {
		t.Errorf("failed poll changed state %s / lastQuery %v", svc.State(), svc.LastQuery())
	}

	// Even a capability error after discovery only skips the tick.
	src.errs = map[string]error{"DeviceInfo/GetInfo": source.ErrUnknownAction}
	c.advance(time.Second)
	s.Poll(ctx)
	if svc.State() != StateAvailable || !svc.ActionEnabled("GetInfo") {
		t.Error("capability error after discovery disabled the service")
	}

	src.errs = nil
	c.advance(time.Second)
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("queue: got %d measurements after recovery, want 1", q.Len())
	}
}

func TestPoll_NewUpTimeEndToEnd(t *testing.T) {
	src := &fakeSource{responses: map[string]any{
		"DeviceInfo/GetInfo": map[string]any{
			"NewUpTime":          "12345",
			"NewModelName":       "FRITZ!Box 7590",
			"NewSoftwareVersion": "154.07.29",
		},
	}}
	defs := ByKind(TR064Definitions(), KindTR064)
	s, q, _ := newTestScheduler(t, src, defs)
	if err := s.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	out := q.Drain(nil)
	up := byName(out, "systemuptime")
	if len(up) != 1 {
		t.Fatalf("systemuptime: got %d measurements, want 1 (all: %v)", len(up), out)
	}
	if up[0].Value != int64(12345) {
		t.Errorf("value %#v, want int64(12345)", up[0].Value)
	}
	if box, _ := up[0].Tag(types.BoxTagKey); box != "fritz.box" {
		t.Errorf("box tag %q", box)
	}
	if m := byName(out, "softwareversion"); len(m) != 1 || m[0].Value != "154.07.29" {
		t.Errorf("softwareversion: got %v", m)
	}
	if svc := service(t, s, "DeviceInfo"); svc.State() != StateAvailable {
		t.Errorf("DeviceInfo state %s", svc.State())
	}
	if svc := service(t, s, "WANDSLInterfaceConfig"); svc.State() != StateUnavailable {
		t.Errorf("WANDSLInterfaceConfig state %s, want unavailable", svc.State())
	}
}

func TestPoll_MergesActionResults(t *testing.T) {
	src := &fakeSource{responses: map[string]any{
		"WANCommonIFC/GetAddonInfos":           map[string]any{"NewByteSendRate": "100", "NewByteReceiveRate": "200"},
		"WANCommonIFC/GetCommonLinkProperties": map[string]any{"NewPhysicalLinkStatus": "Up"},
	}}
	def := TR064Definitions()[0]
	s, q, _ := newTestScheduler(t, src, []Definition{def})
	if err := s.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	out := q.Drain(nil)
	for name, want := range map[string]any{"sendrate": int64(100), "receiverate": int64(200), "physicallinkstatus": "Up"} {
		if m := byName(out, name); len(m) != 1 || m[0].Value != want {
			t.Errorf("%s: got %v, want %v", name, m, want)
		}
	}
}

func TestDiscover_TransientActionErrorStillProbesSiblings(t *testing.T) {
	src := &fakeSource{
		responses: map[string]any{
			"X/GetA": map[string]any{"NewA": "1"},
			"X/GetC": map[string]any{"NewC": "3"},
		},
		errs: map[string]error{
			"X/GetA": errors.New("timeout"),
			"X/GetB": source.ErrUnknownAction,
		},
	}
	def := tr064("X", actions("GetA", "GetB", "GetC"), fields("NewA", "a:int", "NewC", "c:int"))
	s, q, c := newTestScheduler(t, src, []Definition{def})
	ctx := context.Background()

	if err := s.Discover(ctx); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []string{"X/GetA", "X/GetB", "X/GetC"}
	if fmt.Sprint(src.calls) != fmt.Sprint(want) {
		t.Errorf("discovery calls: got %v, want %v", src.calls, want)
	}
	svc := s.Services()[0]
	if svc.State() != StateAvailable {
		t.Fatalf("state %s, want available", svc.State())
	}
	if !svc.ActionEnabled("GetA") || svc.ActionEnabled("GetB") || !svc.ActionEnabled("GetC") {
		t.Error("only GetB should be disabled")
	}
	if got := q.Drain(nil); len(got) != 1 || got[0].Name != "c" {
		t.Errorf("discovery measurements: got %v, want c only", got)
	}

	delete(src.errs, "X/GetA")
	for i := 0; i < 3; i++ {
		c.advance(time.Minute)
		if err := s.Poll(ctx); err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if got := q.Drain(nil); len(got) != 2 {
			t.Errorf("poll %d: got %d measurements, want 2", i, len(got))
		}
	}
}

func TestPoll_FailedActionKeepsSiblingResults(t *testing.T) {
	src := &fakeSource{responses: map[string]any{
		"X/GetInfo":            map[string]any{"NewA": "1"},
		"X/GetStatisticsTotal": map[string]any{"NewB": "2"},
	}}
	def := tr064("X", actions("GetInfo", "GetStatisticsTotal"), fields("NewA", "a:int", "NewB", "b:int"))
	s, q, c := newTestScheduler(t, src, []Definition{def})
	ctx := context.Background()
	if err := s.Discover(ctx); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	q.Drain(nil)
	svc := s.Services()[0]

	src.errs = map[string]error{"X/GetStatisticsTotal": errors.New("timeout")}
	c.advance(time.Minute)
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	got := q.Drain(nil)
	if len(got) != 1 || got[0].Name != "a" || got[0].Value != int64(1) {
		t.Errorf("got %v, want a=1", got)
	}
	if !svc.LastQuery().Equal(c.now()) {
		t.Errorf("lastQuery %v, want %v", svc.LastQuery(), c.now())
	}
	if !svc.ActionEnabled("GetStatisticsTotal") {
		t.Error("transient failure disabled the action")
	}

	// Nothing is emitted and lastQuery stays when every action fails.
	src.errs["X/GetInfo"] = errors.New("timeout")
	last := svc.LastQuery()
	c.advance(time.Minute)
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if q.Len() != 0 || !svc.LastQuery().Equal(last) {
		t.Errorf("all actions failed: %d measurements, lastQuery %v", q.Len(), svc.LastQuery())
	}
}

func TestPoll_TrackingSuppressesRepeatedEntries(t *testing.T) {
	logs := map[string]any{"data": map[string]any{"log": []any{
		map[string]any{"date": "01.01.26", "time": "10:00:00", "msg": "boot"},
	}}}
	src := &fakeSource{min: 10 * time.Second, responses: map[string]any{"log": logs}}
	var def Definition
	for _, d := range logDefinitions() {
		if d.Name == "System logs" && d.Firmware[0] == "7.39" {
			def = d
		}
	}
	s, q, c := newTestScheduler(t, src, []Definition{def})
	ctx := context.Background()
	if err := s.Discover(ctx); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	first := q.Drain(nil)
	if len(first) != 1 {
		t.Fatalf("first poll: got %d entries, want 1", len(first))
	}
	want := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if !first[0].Timestamp.Equal(want) {
		t.Errorf("timestamp %v, want %v", first[0].Timestamp, want)
	}
	if lt, _ := first[0].Tag("log_type"); lt != "System" {
		t.Errorf("log_type tag %q", lt)
	}

	c.advance(time.Minute)
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if n := q.Len(); n != 0 {
		t.Errorf("repeated entry emitted %d times", n)
	}
}

func TestPoll_PrepareErrorSkipsService(t *testing.T) {
	src := &fakeSource{responses: map[string]any{"x": map[string]any{"v": 1}}}
	def := page("X", map[string]string{"page": "x"}, 0, metric("v", schema.Leaf("v", types.Int)))
	def.Prepare = func(any) (any, error) { return nil, errors.New("broken") }
	s, q, _ := newTestScheduler(t, src, []Definition{def})
	if err := s.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("queue: got %d measurements", q.Len())
	}
	if s.Services()[0].State() != StateAvailable {
		t.Error("prepare failure should not disable the service")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := &fakeSource{responses: map[string]any{"DeviceInfo/GetInfo": map[string]any{"NewUpTime": "1"}}}
	s, _, _ := newTestScheduler(t, src, []Definition{uptimeDef(0)})
	s.tick = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
