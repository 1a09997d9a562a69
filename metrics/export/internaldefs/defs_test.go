package internaldefs

import (
	"testing"

	recovery "github.com/pwm-project/pwm-sub000"
)

func TestFamiliesCoverEveryCounterOnce(t *testing.T) {
	seen := map[recovery.MetricID]string{}
	for _, f := range Families {
		if len(f.Series) > 1 && f.Label == "" {
			t.Fatalf("%s has several series but no label", f.Name)
		}
		for _, s := range f.Series {
			if prev, dup := seen[s.ID]; dup {
				t.Fatalf("metric %d exported by both %s and %s", s.ID, prev, f.Name)
			}
			seen[s.ID] = f.Name
		}
	}
	for id := recovery.MetricIdentifySuccess; id < recovery.MetricActionLatency; id++ {
		if _, ok := seen[id]; !ok {
			t.Fatalf("counter %d is not exported", id)
		}
	}
}

func TestFunnel(t *testing.T) {
	v := Funnel(recovery.MetricsSnapshot{Counters: map[recovery.MetricID]uint64{
		recovery.MetricIdentifySuccess:  8,
		recovery.MetricRecoveryVerified: 2,
		recovery.MetricResetPassword:    1,
		recovery.MetricUnlockOnly:       1,
	}})
	if v.Identified != 8 || v.Verified != 2 || v.Completed != 2 {
		t.Fatalf("unexpected funnel %+v", v)
	}
	if v.Ratio() != 0.25 {
		t.Fatalf("expected ratio 0.25, got %v", v.Ratio())
	}
	if (Verification{}).Ratio() != 0 {
		t.Fatal("expected zero ratio without identifications")
	}
}
