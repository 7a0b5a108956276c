package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/alfredjeanlab/lastplay/internal/model"
)

func samples(states ...model.State) []model.StateSample {
	out := make([]model.StateSample, len(states))
	for i, s := range states {
		if s != "" {
			out[i] = model.Sample(s, time.Time{})
		}
	}
	return out
}

func TestDebouncer(t *testing.T) {
	tests := []struct {
		name   string
		k      int
		stream []model.StateSample
		// want lists the states confirmed, in order.
		want []model.State
	}{
		{"confirm after K", 2, samples(sel, sel), []model.State{sel}},
		{"single sample below K", 2, samples(sel), nil},
		{"dissent resets", 3, samples(sel, sel, playing, sel, sel), nil},
		{"K of 1", 1, samples(sel, playing, result), []model.State{sel, playing, result}},
		{"no sample keeps the run", 2, samples(playing, "", playing), []model.State{playing}},
		{"illegal transition is noise", 2, samples(playing, result, playing), []model.State{playing}},
		{"confirmed sample resets candidate", 2, samples(sel, sel, playing, sel, playing), []model.State{sel}},
		{"result only after playing", 1, samples(result, sel, result), []model.State{sel}},
		{"direct loop", 1, samples(playing, result, playing), []model.State{playing, result, playing}},
		{"abort", 2, samples(playing, playing, none, none), []model.State{playing, none}},
		{"zero K means one", 0, samples(playing), []model.State{playing}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(tt.k)
			var got []model.State
			for _, s := range tt.stream {
				if st, ok := d.Observe(s); ok {
					got = append(got, st)
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("confirmed %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("confirmed %v, want %v", got, tt.want)
				}
			}
		})
	}
}

// TestDebouncer_Property checks random streams against a direct reading of
// the rule: a state is confirmed exactly when the last K samples that could
// be acted on all name it.
func TestDebouncer_Property(t *testing.T) {
	all := []model.State{"", none, sel, playing, result}
	rng := rand.New(rand.NewSource(1))

	for run := 0; run < 500; run++ {
		k := 1 + rng.Intn(4)
		d := NewDebouncer(k)
		confirmed := model.StateNone
		var considered []model.State

		for i := 0; i < 200; i++ {
			s := all[rng.Intn(len(all))]
			// Bias towards runs so confirmations actually happen.
			if i > 0 && rng.Intn(3) > 0 && len(considered) > 0 {
				s = considered[len(considered)-1]
			}
			var sample model.StateSample
			if s != "" {
				sample = model.Sample(s, time.Time{})
			}

			actionable := s != "" && s != confirmed && model.CanTransition(confirmed, s)
			if s == confirmed {
				considered = nil
			} else if actionable {
				considered = append(considered, s)
			}
			wantConfirm := false
			if n := len(considered); n >= k {
				wantConfirm = true
				for _, c := range considered[n-k:] {
					if c != s {
						wantConfirm = false
					}
				}
			}

			got, ok := d.Observe(sample)
			if ok != wantConfirm {
				t.Fatalf("run %d (K=%d) sample %d %q: confirmed=%v, want %v (recent %v)",
					run, k, i, s, ok, wantConfirm, considered)
			}
			if ok {
				if got != s {
					t.Fatalf("run %d: confirmed %s on a %s sample", run, got, s)
				}
				confirmed = s
				considered = nil
			}
			if d.Confirmed() != confirmed {
				t.Fatalf("run %d: Confirmed() = %s, want %s", run, d.Confirmed(), confirmed)
			}
		}
	}
}

func TestDebouncer_Force(t *testing.T) {
	d := NewDebouncer(2)
	d.Observe(model.Sample(playing, time.Time{}))
	d.Force(playing)
	if c, n := d.Candidate(); c != "" || n != 0 {
		t.Errorf("candidate after Force = %s/%d", c, n)
	}
	if d.Confirmed() != playing {
		t.Errorf("Confirmed = %s", d.Confirmed())
	}
}

func TestSaveQueue(t *testing.T) {
	q := NewSaveQueue(2)
	for i := 0; i < 2; i++ {
		if !q.Offer(model.SaveRequest{Source: "hotkey"}) {
			t.Fatalf("Offer %d rejected", i)
		}
	}
	if q.Offer(model.SaveRequest{Source: "hotkey"}) {
		t.Error("Offer accepted beyond capacity")
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d", q.Len())
	}
	if got := q.drain(); len(got) != 2 {
		t.Errorf("drain = %d requests", len(got))
	}
	if got := q.drain(); len(got) != 0 {
		t.Errorf("second drain = %v", got)
	}
}
