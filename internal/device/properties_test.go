package device

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestProperties_RoundTripKeepsOrder(t *testing.T) {
	in := `{"zeta":"z","alpha":1,"startTime":1767225600000,"voice":true,"nested":{"a":1}}`

	var p Properties
	if err := json.Unmarshal([]byte(in), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	wantKeys := []string{"zeta", "alpha", "startTime", "voice", "nested"}
	keys := p.Keys()
	if len(keys) != len(wantKeys) {
		t.Fatalf("Keys() = %v, want %v", keys, wantKeys)
	}
	for i := range wantKeys {
		if keys[i] != wantKeys[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], wantKeys[i])
		}
	}

	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != in {
		t.Errorf("Marshal() = %s, want %s", out, in)
	}

	if n, ok := p.Int64("startTime"); !ok || n != 1767225600000 {
		t.Errorf("Int64(startTime) = %d, %v", n, ok)
	}
	if s, ok := p.String("zeta"); !ok || s != "z" {
		t.Errorf("String(zeta) = %q, %v", s, ok)
	}
}

func TestProperties_UnmarshalRejectsNonObject(t *testing.T) {
	var p Properties
	if err := json.Unmarshal([]byte(`[1,2]`), &p); !errors.Is(err, ErrInvalidProperties) {
		t.Errorf("Unmarshal(array) error = %v, want ErrInvalidProperties", err)
	}
	if err := json.Unmarshal([]byte(`null`), &p); err != nil || p.Len() != 0 {
		t.Errorf("Unmarshal(null) = %v, len %d", err, p.Len())
	}
}

func TestProperties_SetAndClone(t *testing.T) {
	p := NewProperties("a", 1, "b", "two")
	p.Set("a", 3)

	if p.Len() != 2 || p.Keys()[0] != "a" {
		t.Errorf("replace changed order: %v", p.Keys())
	}

	c := p.Clone()
	c.Set("c", false)
	if p.Len() != 2 {
		t.Error("Clone shares storage with original")
	}

	var zero Properties
	if b, _ := json.Marshal(zero); string(b) != "{}" {
		t.Errorf("zero Properties marshals to %s", b)
	}
}

func TestTimerData(t *testing.T) {
	now := time.UnixMilli(1_767_225_600_000)

	tests := []struct {
		name        string
		data        TimerData
		wantRunning bool
		wantLeft    time.Duration
	}{
		{"idle", IdleData(), false, 0},
		{"zero end", TimerData{Available: true, EndMs: Int64Ptr(0)}, false, 0},
		{"running", TimerData{Available: true, EndMs: Int64Ptr(now.UnixMilli() + 60_000)}, true, time.Minute},
		{"expired", TimerData{Available: true, EndMs: Int64Ptr(now.UnixMilli() - 1)}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.data.Running(now); got != tt.wantRunning {
				t.Errorf("Running() = %v, want %v", got, tt.wantRunning)
			}
			if got := tt.data.Remaining(now); got != tt.wantLeft {
				t.Errorf("Remaining() = %v, want %v", got, tt.wantLeft)
			}
		})
	}
}

func TestTimerData_Clone(t *testing.T) {
	d := TimerData{Available: true, EndMs: Int64Ptr(5), Properties: NewProperties("k", "v")}
	c := d.Clone()
	*c.EndMs = 6
	c.Properties.Set("k2", 1)

	if *d.EndMs != 5 || d.Properties.Len() != 1 {
		t.Error("Clone shares state with original")
	}
}
