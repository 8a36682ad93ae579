package gridgen_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/tessera/pkg/module"
	"github.com/MrWong99/tessera/pkg/module/gridgen"
	"github.com/MrWong99/tessera/pkg/module/mock"
)

func TestFactories_WorldgenNames(t *testing.T) {
	t.Parallel()

	want := map[string]string{
		"square":   "simple_square",
		"hex":      "simple_hex",
		"province": "simple_province",
	}
	for kind, factory := range gridgen.Factories() {
		m, err := factory("instance-"+kind, nil)
		if err != nil {
			t.Fatalf("%s factory: unexpected error: %v", kind, err)
		}
		g, ok := m.(module.Generator)
		if !ok {
			t.Fatalf("%s module does not implement module.Generator", kind)
		}
		if got := g.WorldgenName(); got != want[kind] {
			t.Errorf("%s WorldgenName = %q, want %q", kind, got, want[kind])
		}
		if info := m.Info(); info.Name != "instance-"+kind || info.ABIVersion != module.ABIVersion {
			t.Errorf("%s Info = %+v", kind, info)
		}
	}
}

func TestFactories_FreshInstances(t *testing.T) {
	t.Parallel()
	a, _ := gridgen.NewSquare("a", nil)
	b, _ := gridgen.NewSquare("b", nil)
	a.Shutdown()

	if _, err := b.(module.Generator).GenerateWorld(context.Background(), []byte(`{}`)); err != nil {
		t.Errorf("shutting down one instance affected another: %v", err)
	}
}

func TestModule_WorldgenNameOption(t *testing.T) {
	t.Parallel()
	m, _ := gridgen.NewHex("hexes", module.Options{"worldgen_name": "islands"})
	if got := m.(module.Generator).WorldgenName(); got != "islands" {
		t.Errorf("WorldgenName = %q, want islands", got)
	}
}

func TestModule_GenerateThroughInstance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := gridgen.NewSquare("sq", nil)
	inst := module.NewInstance(m)
	if err := inst.Init(ctx, module.NewWorld(&mock.Capabilities{})); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}

	doc, err := inst.GenerateWorld(ctx, []byte(`{"width":2,"height":2,"z_levels":1}`))
	if err != nil {
		t.Fatalf("GenerateWorld: unexpected error: %v", err)
	}
	data, err := doc.Take()
	if err != nil {
		t.Fatalf("Take: unexpected error: %v", err)
	}
	var res struct {
		Topology string            `json:"topology"`
		Cells    []json.RawMessage `json:"cells"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if res.Topology != "square" || len(res.Cells) != 4 {
		t.Errorf("got %s with %d cells, want square with 4", res.Topology, len(res.Cells))
	}
}

func TestModule_ParamError(t *testing.T) {
	t.Parallel()
	m, _ := gridgen.NewSquare("sq", nil)
	doc, err := m.(module.Generator).GenerateWorld(context.Background(), []byte(`{"width":`))
	if !errors.Is(err, module.ErrParam) {
		t.Errorf("err = %v, want ErrParam", err)
	}
	if doc != nil {
		t.Error("document returned alongside error")
	}
	if got := module.StatusOf(err); got != module.StatusParamError {
		t.Errorf("StatusOf = %d, want %d", got, module.StatusParamError)
	}
}

func TestModule_DefensiveAfterShutdown(t *testing.T) {
	t.Parallel()
	m, _ := gridgen.NewProvince("prov", nil)
	m.Update(1)
	m.Shutdown()
	m.Update(1)
	if _, err := m.(module.Generator).GenerateWorld(context.Background(), []byte(`{}`)); !errors.Is(err, module.ErrShutDown) {
		t.Errorf("GenerateWorld after Shutdown: err = %v, want ErrShutDown", err)
	}
}
