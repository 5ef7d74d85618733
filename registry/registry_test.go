package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/petal-labs/nodeschema/control"
)

func fixedNow() time.Time {
	return time.Date(2026, time.October, 19, 0, 0, 0, 0, time.UTC)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	pt := PortType{Type: "number", Name: "number", Label: "Number", Color: "blue"}
	if err := r.RegisterPortType(pt); err != nil {
		t.Fatalf("RegisterPortType: %v", err)
	}

	got, ok := r.PortType("number")
	if !ok {
		t.Fatal("PortType should find registered type")
	}
	if got.Label != "Number" {
		t.Errorf("Label = %q, want %q", got.Label, "Number")
	}
	if diff := cmp.Diff([]string{"number"}, got.AcceptTypes); diff != "" {
		t.Errorf("AcceptTypes should default to own id (-want +got):\n%s", diff)
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := New()
	if _, ok := r.PortType("nonexistent"); ok {
		t.Error("PortType should return false for unregistered type")
	}
	if _, ok := r.NodeType("nonexistent"); ok {
		t.Error("NodeType should return false for unregistered type")
	}
}

func TestRegistry_DuplicateKeepsFirst(t *testing.T) {
	r := New()
	if err := r.RegisterPortType(PortType{Type: "str", Label: "Original"}); err != nil {
		t.Fatal(err)
	}
	err := r.RegisterPortType(PortType{Type: "str", Label: "Updated"})

	var dup *DuplicateTypeError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want *DuplicateTypeError", err)
	}
	if !errors.Is(err, ErrDuplicateType) {
		t.Error("DuplicateTypeError should match ErrDuplicateType")
	}
	if dup.Kind != KindPortType || dup.ID != "str" {
		t.Errorf("dup = %+v", dup)
	}

	got, _ := r.PortType("str")
	if got.Label != "Original" {
		t.Errorf("Label = %q, want %q (first registration wins)", got.Label, "Original")
	}
	if ports, _ := r.Len(); ports != 1 {
		t.Errorf("ports = %d, want 1", ports)
	}
}

func TestRegistry_NodeTypeDuplicate(t *testing.T) {
	r := New()
	_ = r.RegisterNodeType(NodeType{Type: "add", Label: "Add"})
	err := r.RegisterNodeType(NodeType{Type: "add", Label: "Other"})
	if !errors.Is(err, ErrDuplicateType) {
		t.Fatalf("err = %v, want ErrDuplicateType", err)
	}
	got, _ := r.NodeType("add")
	if got.Label != "Add" {
		t.Errorf("Label = %q, want Add", got.Label)
	}
}

func TestRegistry_PreservesOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"gamma", "alpha", "beta"} {
		_ = r.RegisterPortType(PortType{Type: id})
		_ = r.RegisterNodeType(NodeType{Type: id})
	}

	want := []string{"gamma", "alpha", "beta"}
	if diff := cmp.Diff(want, r.PortTypeIDs()); diff != "" {
		t.Errorf("PortTypeIDs (-want +got):\n%s", diff)
	}
	nodes := r.NodeTypes()
	for i, id := range want {
		if nodes[i].Type != id {
			t.Errorf("NodeTypes()[%d].Type = %q, want %q", i, nodes[i].Type, id)
		}
	}
}

func TestRegistry_SealRejectsWrites(t *testing.T) {
	r := New()
	_ = r.RegisterPortType(PortType{Type: "int"})
	r.Seal()

	if !r.Sealed() {
		t.Fatal("Sealed should be true")
	}
	tests := []struct {
		name string
		fn   func() error
	}{
		{"port type", func() error { return r.RegisterPortType(PortType{Type: "x"}) }},
		{"node type", func() error { return r.RegisterNodeType(NodeType{Type: "x"}) }},
		{"accept types", func() error { return r.SetAcceptTypes("int", []string{"int", "x"}) }},
		{"relax", r.Relax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrSealed) {
				t.Errorf("err = %v, want ErrSealed", err)
			}
		})
	}
}

func TestRegistry_ReturnedTypesAreCopies(t *testing.T) {
	r := New()
	_ = r.RegisterPortType(PortType{Type: "float", AcceptTypes: []string{"float", "int"}})

	got, _ := r.PortType("float")
	got.AcceptTypes[0] = "mutated"

	again, _ := r.PortType("float")
	if again.AcceptTypes[0] != "float" {
		t.Errorf("registry entry was mutated through a lookup: %v", again.AcceptTypes)
	}
}

func TestRegistry_PortAppliesOverrides(t *testing.T) {
	r := New()
	ctl, _ := control.Resolve("text", control.Options{Name: "value"})
	_ = r.RegisterPortType(PortType{
		Type:     "str",
		Name:     "str",
		Label:    "Text",
		Color:    "yellow",
		Controls: []control.Control{ctl},
	})

	hidden := true
	got, err := r.Port("str", Overrides{Name: "template", Label: "Template", HidePort: &hidden})
	if err != nil {
		t.Fatalf("Port: %v", err)
	}
	want := PortInstance{
		Type:        "str",
		Name:        "template",
		Label:       "Template",
		Color:       "yellow",
		AcceptTypes: []string{"str"},
		HidePort:    true,
		Controls:    []control.Control{ctl},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Port (-want +got):\n%s", diff)
	}

	if _, err := r.Port("missing", Overrides{}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestRegistry_CanConnect(t *testing.T) {
	r := New()
	_ = r.RegisterPortType(PortType{Type: "int"})
	_ = r.RegisterPortType(PortType{Type: "str"})
	_ = r.RegisterPortType(PortType{Type: "float", AcceptTypes: []string{"float", "int"}})

	tests := []struct {
		name string
		from string
		to   PortInstance
		want bool
	}{
		{"same type", "int", PortInstance{Type: "int"}, true},
		{"widened", "int", PortInstance{Type: "float"}, true},
		{"narrow", "float", PortInstance{Type: "int"}, false},
		{"instance accept list", "str", PortInstance{Type: "int", AcceptTypes: []string{"int", "str"}}, true},
		{"unknown source", "blob", PortInstance{Type: "int"}, false},
		{"unknown target", "int", PortInstance{Type: "blob"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.CanConnect(tt.from, tt.to); got != tt.want {
				t.Errorf("CanConnect(%q, %+v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}

	if err := r.Relax(); err != nil {
		t.Fatal(err)
	}
	if !r.CanConnect("float", PortInstance{Type: "int", AcceptTypes: []string{"int"}}) {
		t.Error("relaxed registry should accept any registered source")
	}
}

func TestRegistry_ConcurrentReadsAfterSeal(t *testing.T) {
	r := New()
	if err := RegisterStandard(r, fixedNow); err != nil {
		t.Fatal(err)
	}
	r.Seal()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.PortType("int")
			r.HasPortType("str")
			r.PortTypes()
			r.NodeTypes()
			_, _ = r.Port("float", Overrides{Name: "x"})
			r.CanConnect("int", PortInstance{Type: "float"})
		}()
	}
	wg.Wait()
}

// --- Standard port types ---

func TestStandard_AllExpectedTypesRegistered(t *testing.T) {
	r := New()
	if err := RegisterStandard(r, fixedNow); err != nil {
		t.Fatalf("RegisterStandard: %v", err)
	}
	want := []string{"int", "float", "str", "bool", "color", "date", "time", "month", "week", "object"}
	if diff := cmp.Diff(want, r.PortTypeIDs()); diff != "" {
		t.Errorf("PortTypeIDs (-want +got):\n%s", diff)
	}
}

func TestStandard_Controls(t *testing.T) {
	types, err := StandardPortTypes(fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	for _, pt := range types {
		t.Run(pt.Type, func(t *testing.T) {
			if len(pt.Controls) != 1 {
				t.Fatalf("controls = %d, want 1", len(pt.Controls))
			}
			c := pt.Controls[0]
			if pt.Type == ObjectType {
				if !pt.Universal || c.Editable() {
					t.Errorf("object should be universal with a label-only control")
				}
				return
			}
			if !c.Editable() {
				t.Errorf("%s control should be editable", pt.Type)
			}
		})
	}
}

func TestStandard_SkipsExisting(t *testing.T) {
	r := New()
	_ = r.RegisterPortType(PortType{Type: "str", Label: "Custom"})
	if err := RegisterStandard(r, fixedNow); err != nil {
		t.Fatalf("RegisterStandard: %v", err)
	}
	got, _ := r.PortType("str")
	if got.Label != "Custom" {
		t.Errorf("Label = %q, want Custom", got.Label)
	}
}
