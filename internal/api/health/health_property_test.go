package health

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type fixedFleet struct {
	total, online int
}

func (f fixedFleet) Counts() (int, int) {
	return f.total, f.online
}

// fakeClock advances only when told to.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

// For any non-negative duration, the split fields recombine to the whole
// seconds of the input and each field stays in its range.
func TestPropertySplitUptime(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("uptime fields recombine to total seconds", prop.ForAll(
		func(secs int64) bool {
			u := SplitUptime(time.Duration(secs) * time.Second)
			if u.Hours < 0 || u.Hours > 23 || u.Minutes < 0 || u.Minutes > 59 || u.Seconds < 0 || u.Seconds > 59 {
				return false
			}
			recombined := int64(u.Days)*86400 + int64(u.Hours)*3600 + int64(u.Minutes)*60 + int64(u.Seconds)
			return recombined == secs && u.TotalSeconds == float64(secs)
		},
		gen.Int64Range(0, 400*86400),
	))

	properties.TestingRun(t)
}

func TestSplitUptimeExamples(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want Uptime
	}{
		{0, Uptime{}},
		{90 * time.Second, Uptime{Minutes: 1, Seconds: 30, TotalSeconds: 90}},
		{26*time.Hour + 3*time.Minute + 4*time.Second + 500*time.Millisecond,
			Uptime{Days: 1, Hours: 2, Minutes: 3, Seconds: 4, TotalSeconds: 93784.5}},
		{-time.Second, Uptime{}},
	}
	for _, tt := range tests {
		if got := SplitUptime(tt.d); got != tt.want {
			t.Errorf("SplitUptime(%v) = %+v, want %+v", tt.d, got, tt.want)
		}
	}
}

func TestCheckerUptimeAdvances(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := newChecker(nil, "v1", clock.now)

	if got := c.Uptime(); got.TotalSeconds != 0 {
		t.Errorf("initial uptime = %+v", got)
	}

	clock.t = clock.t.Add(3*time.Hour + 5*time.Second)
	got := c.Uptime()
	if got.Hours != 3 || got.Seconds != 5 {
		t.Errorf("uptime = %+v", got)
	}
	if !c.StartTime().Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("start time moved: %v", c.StartTime())
	}
}

// For any fleet state, the check reports ok with the fleet's counts. An
// all-offline fleet does not make the process unhealthy.
func TestPropertyCheckAlwaysOK(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("status is ok and counts are passed through", prop.ForAll(
		func(total, offline int) bool {
			if offline > total {
				offline = total
			}
			c := NewChecker(fixedFleet{total: total, online: total - offline}, "v1.2.3")
			resp := c.Check()
			return resp.Status == StatusOK &&
				resp.Version == "v1.2.3" &&
				resp.WorkersTotal == total &&
				resp.WorkersOnline == total-offline &&
				resp.Timestamp > 0
		},
		gen.IntRange(0, 64),
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}

func TestHandlerReturns200(t *testing.T) {
	c := NewChecker(fixedFleet{total: 3, online: 0}, "dev")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusOK || resp.WorkersTotal != 3 || resp.WorkersOnline != 0 {
		t.Errorf("response = %+v", resp)
	}
}
