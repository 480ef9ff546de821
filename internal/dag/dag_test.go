package dag

import (
	"reflect"
	"testing"
)

func TestSort_LinearChain(t *testing.T) {
	nodes := []Node{
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}
	res := Sort(nodes)
	if !res.Valid {
		t.Fatal("expected valid ordering")
	}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Order = %v, want %v", res.Order, want)
	}
	if len(res.Levels) != 3 {
		t.Errorf("Levels = %v, want 3 levels", res.Levels)
	}
}

func TestSort_LevelsGroupIndependentNodes(t *testing.T) {
	nodes := []Node{
		{ID: "root"},
		{ID: "left", DependsOn: []string{"root"}},
		{ID: "right", DependsOn: []string{"root"}},
		{ID: "join", DependsOn: []string{"left", "right"}},
	}
	res := Sort(nodes)
	if !res.Valid {
		t.Fatal("expected valid ordering")
	}
	want := [][]string{{"root"}, {"left", "right"}, {"join"}}
	if !reflect.DeepEqual(res.Levels, want) {
		t.Errorf("Levels = %v, want %v", res.Levels, want)
	}
}

func TestSort_PriorityBreaksTies(t *testing.T) {
	nodes := []Node{
		{ID: "low", Priority: 1},
		{ID: "high", Priority: 5},
		{ID: "mid", Priority: 3},
	}
	res := Sort(nodes)
	want := []string{"high", "mid", "low"}
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Order = %v, want %v", res.Order, want)
	}
}

func TestSort_CycleInvalid(t *testing.T) {
	nodes := []Node{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c"},
	}
	res := Sort(nodes)
	if res.Valid {
		t.Fatal("expected invalid ordering for cyclic graph")
	}
	if len(res.Order) != 1 || res.Order[0] != "c" {
		t.Errorf("Order = %v, want only the acyclic node", res.Order)
	}
	if res.NodeCount != 3 {
		t.Errorf("NodeCount = %d, want 3", res.NodeCount)
	}
}

func TestSort_UnknownDependencyIgnored(t *testing.T) {
	nodes := []Node{{ID: "a", DependsOn: []string{"ghost"}}}
	res := Sort(nodes)
	if !res.Valid || len(res.Order) != 1 {
		t.Errorf("external dependency should be treated as satisfied, got %+v", res)
	}
}

func TestDetectCycles(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		want  []string
	}{
		{
			name:  "acyclic",
			nodes: []Node{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}},
			want:  nil,
		},
		{
			name: "two node cycle",
			nodes: []Node{
				{ID: "a", DependsOn: []string{"b"}},
				{ID: "b", DependsOn: []string{"a"}},
			},
			want: []string{"a", "b"},
		},
		{
			name: "self loop",
			nodes: []Node{
				{ID: "x", DependsOn: []string{"x"}},
				{ID: "y"},
			},
			want: []string{"x"},
		},
		{
			name: "cycle plus tail",
			nodes: []Node{
				{ID: "a", DependsOn: []string{"c"}},
				{ID: "b", DependsOn: []string{"a"}},
				{ID: "c", DependsOn: []string{"b"}},
				{ID: "tail", DependsOn: []string{"a"}},
			},
			want: []string{"a", "b", "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := DetectCycles(tt.nodes)
			if res.HasCycles != (len(tt.want) > 0) {
				t.Fatalf("HasCycles = %v, want %v", res.HasCycles, len(tt.want) > 0)
			}
			if !reflect.DeepEqual(res.CycleNodes, tt.want) {
				t.Errorf("CycleNodes = %v, want %v", res.CycleNodes, tt.want)
			}
		})
	}
}

func TestWouldCycle(t *testing.T) {
	existing := []Node{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}
	if WouldCycle(existing, Node{ID: "c", DependsOn: []string{"b"}}) {
		t.Error("appending to a chain should not cycle")
	}
	// Re-submitting "a" with a dependency on "b" closes the loop.
	if !WouldCycle(existing, Node{ID: "a", DependsOn: []string{"b"}}) {
		t.Error("expected cycle when a depends on b and b on a")
	}
}
