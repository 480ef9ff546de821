package credits

import "testing"

func TestRouteTasks_FollowsTrails(t *testing.T) {
	trails := TrailStrengths{
		"w1": {"build": 2.0},
		"w2": {"test": 3.0},
	}
	got := RouteTasks([]string{"build", "test"}, []string{"w1", "w2"}, trails, 1.0)
	if got["build"] != "w1" {
		t.Errorf("build -> %q, want w1", got["build"])
	}
	if got["test"] != "w2" {
		t.Errorf("test -> %q, want w2", got["test"])
	}
}

func TestRouteTasks_LoadPenaltySpreadsWork(t *testing.T) {
	// No trails: every pair scores the exploration default, so the load
	// penalty alone must alternate assignments.
	got := RouteTasks([]string{"t1", "t2"}, []string{"w1", "w2"}, nil, 1.0)
	if got["t1"] != "w1" {
		t.Errorf("t1 -> %q, want w1", got["t1"])
	}
	if got["t2"] != "w2" {
		t.Errorf("t2 -> %q, want w2 once w1 is loaded", got["t2"])
	}
}

func TestRouteTasks_StrongTrailBeatsLoad(t *testing.T) {
	trails := TrailStrengths{"w1": {"t1": 5.0, "t2": 5.0}}
	got := RouteTasks([]string{"t1", "t2"}, []string{"w1", "w2"}, trails, 1.0)
	if got["t1"] != "w1" || got["t2"] != "w1" {
		t.Errorf("got %v, want both on w1 (5/2 still beats 0.1)", got)
	}
}

func TestRouteTasks_AlphaSharpensPreference(t *testing.T) {
	// At alpha 2 the squared strength dominates a full load level.
	trails := TrailStrengths{"w1": {"t1": 2.0, "t2": 2.0, "t3": 2.0}}
	got := RouteTasks([]string{"t1", "t2", "t3"}, []string{"w1", "w2"}, trails, 2.0)
	for task, worker := range got {
		if worker != "w1" {
			t.Errorf("%s -> %q, want w1 at alpha 2", task, worker)
		}
	}
}

func TestRouteTasks_NoWorkers(t *testing.T) {
	got := RouteTasks([]string{"t1"}, nil, nil, 1.0)
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}
