package supervisor

import (
	"fmt"
	"reflect"
	"testing"
)

func TestRing_LastBeforeWrap(t *testing.T) {
	r := newRing(5)
	r.push("a")
	r.push("b")
	r.push("c")

	if got := r.last(0); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("last(0) = %v", got)
	}
	if got := r.last(2); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("last(2) = %v", got)
	}
	if r.len() != 3 {
		t.Errorf("len = %d, want 3", r.len())
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 7; i++ {
		r.push(fmt.Sprintf("line%d", i))
	}
	want := []string{"line5", "line6", "line7"}
	if got := r.last(0); !reflect.DeepEqual(got, want) {
		t.Errorf("last(0) = %v, want %v", got, want)
	}
	if got := r.last(10); !reflect.DeepEqual(got, want) {
		t.Errorf("last beyond count = %v, want %v", got, want)
	}
	if got := r.last(1); !reflect.DeepEqual(got, []string{"line7"}) {
		t.Errorf("last(1) = %v", got)
	}
}

func TestRing_DefaultCapacity(t *testing.T) {
	r := newRing(0)
	if len(r.buf) != 300 {
		t.Errorf("default capacity = %d, want 300", len(r.buf))
	}
}

func TestRing_Empty(t *testing.T) {
	r := newRing(4)
	if got := r.last(0); len(got) != 0 {
		t.Errorf("empty ring returned %v", got)
	}
}
