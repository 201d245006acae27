package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"axion/internal/ahrs"
	"axion/internal/archive"
	"axion/internal/drag"
	"axion/internal/engine"
	"axion/internal/errlog"
	"axion/internal/feedback"
	"axion/internal/timeutil"
)

type fakeControl struct {
	calls  []string
	mode   string
	target drag.Target
	slot   int
	prefs  feedback.Prefs
	cal    ahrs.Calibration
	err    error
}

func (f *fakeControl) rec(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeControl) SetMode(name string) error {
	if _, err := feedback.ParseMode(name); err != nil {
		return err
	}
	f.mode = name
	return f.rec("mode")
}
func (f *fakeControl) SetDragTarget(t drag.Target) error { f.target = t; return f.rec("target") }
func (f *fakeControl) StartDrag() error                  { return f.rec("start") }
func (f *fakeControl) AbortDrag() error                  { return f.rec("abort") }
func (f *fakeControl) ConfirmDrag(save bool) (drag.Run, error) {
	return drag.Run{TargetName: "1/8", DistanceM: 201.17}, f.rec("confirm")
}
func (f *fakeControl) ResetAccel() error     { return f.rec("accel") }
func (f *fakeControl) ResetPeakG() error     { return f.rec("peakg") }
func (f *fakeControl) LapStartRacing() error { return f.rec("lapstart") }
func (f *fakeControl) LapReset() error       { return f.rec("lapreset") }
func (f *fakeControl) LapSelectSlot(n int) (int, error) {
	f.slot = n
	return n, f.rec("slot")
}
func (f *fakeControl) LapSave() error  { return f.rec("lapsave") }
func (f *fakeControl) FlushLog() error { return f.rec("flush") }
func (f *fakeControl) ClearLog() error { return f.rec("clear") }
func (f *fakeControl) SetFeedbackPrefs(p feedback.Prefs) error {
	f.prefs = p
	return f.rec("prefs")
}
func (f *fakeControl) SaveCalibration(c ahrs.Calibration) error {
	f.cal = c
	return f.rec("calibration")
}

type fakePrefs struct{ p feedback.Prefs }

func (f fakePrefs) Prefs() feedback.Prefs { return f.p }

type fakeLevel struct{ axis int }

func (f *fakeLevel) Level(axis int) (ahrs.Mount, error) {
	f.axis = axis
	return ahrs.Mount{ForwardAxis: axis, Set: true}, nil
}

type fakeHistory struct{}

func (fakeHistory) DragRuns(target string, limit int) ([]archive.DragRun, error) {
	return []archive.DragRun{{ID: "a", Target: target, FinalMs: 9000}}, nil
}

func (fakeHistory) Laps(slot, limit int) ([]archive.Lap, error) {
	if slot == 3 {
		return nil, errors.New("boom")
	}
	return []archive.Lap{{ID: "l", Slot: slot, LapMs: 61000}}, nil
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestAPIStatus(t *testing.T) {
	st := NewStatus()
	st.SetStatic(map[string]any{"store": "memory"})
	st.SetSources(Sources{
		Engine:   func() engine.Snapshot { return engine.Snapshot{Mode: "drag", Ticks: 42} },
		Feedback: func() feedback.Snapshot { return feedback.Snapshot{Mode: "drag", Color: "green"} },
		Pulse:    func() (uint64, uint64) { return 5, 4 },
	})

	ts := httptest.NewServer(Handler(st, Options{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "axion" {
		t.Fatalf("service=%q", snap.Service)
	}
	if snap.Static["store"] != "memory" {
		t.Fatalf("static=%v", snap.Static)
	}
	if snap.Engine == nil || snap.Engine.Ticks != 42 || snap.Engine.Mode != "drag" {
		t.Fatalf("engine=%+v", snap.Engine)
	}
	if snap.Feedback == nil || snap.Feedback.Color != "green" {
		t.Fatalf("feedback=%+v", snap.Feedback)
	}
	if snap.GPS != nil || snap.OBD != nil {
		t.Fatalf("unset sources should be omitted")
	}
	if snap.Pulse == nil || snap.Pulse.Edges != 5 || snap.Pulse.Taken != 4 {
		t.Fatalf("pulse=%+v", snap.Pulse)
	}
}

func TestAPIStatus_MethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(), Options{}))
	defer ts.Close()

	resp := post(t, ts.URL+"/api/status")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if got := resp.Header.Get("Allow"); got != http.MethodGet {
		t.Fatalf("allow=%q", got)
	}
}

func TestAPIErrors(t *testing.T) {
	clk := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	l := errlog.New(clk)
	l.Add(errlog.GPSLost, "gps", 0)
	clk.Advance(time.Second)
	l.Add(errlog.StorageWriteFail, "lap", -5)

	ts := httptest.NewServer(Handler(NewStatus(), Options{Errors: l}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/errors")
	if err != nil {
		t.Fatalf("get errors: %v", err)
	}
	defer resp.Body.Close()

	var out ErrorsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if out.Count != 2 || len(out.Entries) != 2 {
		t.Fatalf("count=%d entries=%d", out.Count, len(out.Entries))
	}
	if out.Entries[0].CodeName != "gps_lost" {
		t.Fatalf("entries[0]=%+v", out.Entries[0])
	}
	last := out.Entries[1]
	if last.CodeName != "storage_write_fail" || last.Data != -5 || last.Epoch != 1_700_000_001 {
		t.Fatalf("entries[1]=%+v", last)
	}
}

func TestAPIErrors_Unavailable(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(), Options{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/errors")
	if err != nil {
		t.Fatalf("get errors: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestCommands(t *testing.T) {
	ctl := &fakeControl{}
	lv := &fakeLevel{}
	ts := httptest.NewServer(Handler(NewStatus(), Options{Control: ctl, Level: lv}))
	defer ts.Close()

	for _, p := range []string{
		"/api/mode?name=lap",
		"/api/drag/target?target=1/4",
		"/api/drag/start",
		"/api/drag/abort",
		"/api/accel/reset",
		"/api/gforces/reset",
		"/api/lap/start",
		"/api/lap/reset",
		"/api/lap/save",
		"/api/lap/slot?n=2",
		"/api/log/flush",
		"/api/log/clear",
	} {
		resp := post(t, ts.URL+p)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status code=%d", p, resp.StatusCode)
		}
	}
	if len(ctl.calls) != 12 {
		t.Fatalf("calls=%v", ctl.calls)
	}
	if ctl.mode != "lap" || ctl.target != drag.QuarterMile || ctl.slot != 2 {
		t.Fatalf("ctl=%+v", ctl)
	}

	resp := post(t, ts.URL+"/api/drag/confirm?save=true")
	defer resp.Body.Close()
	var run drag.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.TargetName != "1/8" {
		t.Fatalf("run=%+v", run)
	}

	resp2 := post(t, ts.URL+"/api/ahrs/level?forward_axis=-2")
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK || lv.axis != -2 {
		t.Fatalf("level status=%d axis=%d", resp2.StatusCode, lv.axis)
	}
}

func TestCommands_BadInput(t *testing.T) {
	ctl := &fakeControl{}
	ts := httptest.NewServer(Handler(NewStatus(), Options{Control: ctl, Level: &fakeLevel{}}))
	defer ts.Close()

	for _, p := range []string{
		"/api/mode?name=radar",
		"/api/drag/target?target=1mi",
		"/api/lap/slot?n=7",
		"/api/ahrs/level?forward_axis=0",
	} {
		resp := post(t, ts.URL+p)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s status code=%d", p, resp.StatusCode)
		}
	}
	if len(ctl.calls) != 0 {
		t.Fatalf("calls=%v", ctl.calls)
	}

	ctl.err = errors.New("drag: not armed")
	resp := post(t, ts.URL+"/api/drag/abort")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestFeedbackPrefs(t *testing.T) {
	ctl := &fakeControl{}
	cur := feedback.DefaultPrefs()
	cur.GlobalBuzzer = false
	ts := httptest.NewServer(Handler(NewStatus(), Options{Control: ctl, Prefs: fakePrefs{cur}}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/feedback/prefs")
	if err != nil {
		t.Fatalf("get prefs: %v", err)
	}
	var got feedback.Prefs
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if got != cur {
		t.Fatalf("prefs=%+v", got)
	}

	want := feedback.DefaultPrefs()
	want.LED[feedback.Lap] = false
	b, _ := json.Marshal(want)
	resp, err = http.Post(ts.URL+"/api/feedback/prefs", "application/json", strings.NewReader(string(b)))
	if err != nil {
		t.Fatalf("post prefs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || ctl.prefs != want {
		t.Fatalf("status=%d prefs=%+v", resp.StatusCode, ctl.prefs)
	}

	resp, err = http.Post(ts.URL+"/api/feedback/prefs", "application/json", strings.NewReader(`{"bogus":1}`))
	if err != nil {
		t.Fatalf("post bad prefs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestCalibrationCommand(t *testing.T) {
	ctl := &fakeControl{}
	ts := httptest.NewServer(Handler(NewStatus(), Options{Control: ctl}))
	defer ts.Close()

	body := `{"offset":[12,-3,4],"scale":[1,1.2,0.9]}`
	resp, err := http.Post(ts.URL+"/api/ahrs/calibration", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ctl.cal.Offset != [3]float32{12, -3, 4} || ctl.cal.Scale[1] != 1.2 {
		t.Fatalf("cal=%+v", ctl.cal)
	}

	resp, err = http.Post(ts.URL+"/api/ahrs/calibration", "application/json", strings.NewReader(`{"scale":[1,0,1]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || len(ctl.calls) != 1 {
		t.Fatalf("status=%d calls=%v", resp.StatusCode, ctl.calls)
	}
}

func TestCommands_NoEngine(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(), Options{}))
	defer ts.Close()

	resp := post(t, ts.URL+"/api/drag/start")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestArchiveEndpoints(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(), Options{History: fakeHistory{}}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/archive/drag?target=1/4&limit=5")
	if err != nil {
		t.Fatalf("get drag: %v", err)
	}
	var runs []archive.DragRun
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if len(runs) != 1 || runs[0].Target != "1/4" {
		t.Fatalf("runs=%+v", runs)
	}

	resp, err = http.Get(ts.URL + "/api/archive/laps?slot=3")
	if err != nil {
		t.Fatalf("get laps: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status code=%d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/archive/laps?limit=0")
	if err != nil {
		t.Fatalf("get laps: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestRootPage(t *testing.T) {
	st := NewStatus()
	st.SetSources(Sources{Engine: func() engine.Snapshot { return engine.Snapshot{Mode: "lap"} }})
	ts := httptest.NewServer(Handler(st, Options{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(buf.String(), "mode=lap") {
		t.Fatalf("body=%q", buf.String())
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d", resp2.StatusCode)
	}
}

func TestAbout_ReportsFacts(t *testing.T) {
	facts := Facts{Store: "file ./x.eeprom", StoreSize: "8.0 KiB", Boots: 7, SchemaVersion: 2, Inputs: []string{"gps", "pps:synthetic"}}
	ts := httptest.NewServer(Handler(NewStatus(), Options{About: facts}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/about")
	if err != nil {
		t.Fatalf("get about: %v", err)
	}
	defer resp.Body.Close()
	var got AboutResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Service != "axion" || got.GoVersion == "" {
		t.Fatalf("about=%+v", got)
	}
	if got.Boots != 7 || got.SchemaVersion != 2 || len(got.Inputs) != 2 || got.Inputs[1] != "pps:synthetic" {
		t.Fatalf("facts=%+v", got.Facts)
	}
}
