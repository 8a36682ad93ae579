package host_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/tessera/internal/gridmap"
	"github.com/MrWong99/tessera/internal/host"
	"github.com/MrWong99/tessera/internal/resilience"
	"github.com/MrWong99/tessera/pkg/module"
	"github.com/MrWong99/tessera/pkg/module/gridgen"
)

func gridModule(t *testing.T, name string, factory module.Factory) host.Loaded {
	t.Helper()
	m, err := factory(name, nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return host.Loaded{
		Manifest: module.Manifest{Name: name, Version: gridgen.Version, Kind: "grid"},
		Module:   m,
	}
}

func loadGrid(t *testing.T, h *host.Host) {
	t.Helper()
	err := h.Load(context.Background(), []host.Loaded{
		gridModule(t, "square", gridgen.NewSquare),
		gridModule(t, "hex", gridgen.NewHex),
		gridModule(t, "province", gridgen.NewProvince),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
}

const provinceDoc = `{"topology":"province","cells":[{"id":"A","neighbors":["B"]},{"id":"B","neighbors":["A"]}]}`

func TestHost_Worldgens(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)
	loadGrid(t, h)

	want := []string{"simple_hex", "simple_province", "simple_square"}
	if got := h.Worldgens(); !slices.Equal(got, want) {
		t.Errorf("Worldgens() = %v, want %v", got, want)
	}
	for _, s := range h.Modules() {
		if s.Worldgen == "" {
			t.Errorf("module %q has no worldgen in its status", s.Name)
		}
	}
}

func TestHost_Generate(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)
	loadGrid(t, h)
	ctx := context.Background()

	tests := []struct {
		worldgen  string
		params    string
		wantCells int
	}{
		{"simple_square", `{"width":2,"height":3,"z_levels":1}`, 6},
		{"simple_hex", `{"width":2,"height":2,"z_levels":2}`, 8},
		{"simple_province", `{}`, 3},
		{"simple_square", `{"width":-4,"height":3,"z_levels":1}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.worldgen+tt.params, func(t *testing.T) {
			g, err := h.Generate(ctx, tt.worldgen, []byte(tt.params))
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if g.Map.Len() != tt.wantCells {
				t.Errorf("cells = %d, want %d", g.Map.Len(), tt.wantCells)
			}
			if g.Worldgen != tt.worldgen {
				t.Errorf("Worldgen = %q, want %q", g.Worldgen, tt.worldgen)
			}
			again, err := gridmap.Decode(g.Document)
			if err != nil {
				t.Fatalf("returned document does not decode: %v", err)
			}
			if again.Len() != tt.wantCells {
				t.Errorf("document cells = %d, want %d", again.Len(), tt.wantCells)
			}
		})
	}
}

func TestHost_GenerateUnknownSuggests(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)
	loadGrid(t, h)

	_, err := h.Generate(context.Background(), "simple_sqare", []byte(`{}`))
	if !errors.Is(err, host.ErrWorldgenNotFound) {
		t.Fatalf("err = %v, want ErrWorldgenNotFound", err)
	}
	if !strings.Contains(err.Error(), `did you mean "simple_square"`) {
		t.Errorf("err = %v, want a suggestion", err)
	}
}

func TestHost_GenerateParamErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t, host.WithBreakerConfig(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}))
	loadGrid(t, h)
	ctx := context.Background()

	for range 3 {
		_, err := h.Generate(ctx, "simple_square", []byte(`[1,2,3]`))
		if !errors.Is(err, module.ErrParam) {
			t.Fatalf("err = %v, want ErrParam", err)
		}
		if module.StatusOf(err) != module.StatusParamError {
			t.Errorf("status = %v, want param_error", module.StatusOf(err))
		}
	}
	if st, _ := h.BreakerState("simple_square"); st != resilience.StateClosed {
		t.Errorf("breaker = %v, want closed", st)
	}
	if _, err := h.Generate(ctx, "simple_square", []byte(`{"width":1,"height":1,"z_levels":1}`)); err != nil {
		t.Errorf("valid request after param errors: %v", err)
	}
}

func TestHost_GenerateBreakerOpens(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t, host.WithBreakerConfig(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}))

	m := newMock("flaky")
	m.Worldgen = "flaky_gen"
	m.GenerateErr = errors.New("disk on fire")
	ctx := context.Background()
	if err := h.Load(ctx, []host.Loaded{loaded(m)}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for range 2 {
		if _, err := h.Generate(ctx, "flaky_gen", []byte(`{}`)); err == nil || errors.Is(err, resilience.ErrCircuitOpen) {
			t.Fatalf("err = %v, want the module failure", err)
		}
	}
	_, err := h.Generate(ctx, "flaky_gen", []byte(`{}`))
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if len(m.GenerateCalls) != 2 {
		t.Errorf("module called %d times, want 2", len(m.GenerateCalls))
	}
	if st, ok := h.BreakerState("flaky_gen"); !ok || st != resilience.StateOpen {
		t.Errorf("breaker = %v (%v), want open", st, ok)
	}
}

func TestHost_GenerateRejectsInvalidDocument(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)

	m := newMock("sloppy")
	m.Worldgen = "sloppy_gen"
	m.GenerateDoc = []byte(`{"cells":[]}`)
	if err := h.Load(context.Background(), []host.Loaded{loaded(m)}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, err := h.Generate(context.Background(), "sloppy_gen", []byte(`{}`))
	if !errors.Is(err, gridmap.ErrInvalidMap) {
		t.Fatalf("err = %v, want ErrInvalidMap", err)
	}
}

func TestHost_PostprocessorsAndValidators(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)

	m := newMock("provinces")
	m.Worldgen = "provinces"
	m.GenerateDoc = []byte(provinceDoc)
	ctx := context.Background()
	if err := h.Load(ctx, []host.Loaded{loaded(m)}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var calls []string
	h.AddPostprocessor(func(m *gridmap.Map) {
		calls = append(calls, "post")
		for _, k := range m.Cells() {
			m.SetBiome(k, "tundra")
		}
	})
	h.AddValidator(func(m *gridmap.Map) error {
		calls = append(calls, "validate")
		if b, _ := m.Biome(gridmap.ProvinceKey("A")); b != "tundra" {
			return errors.New("postprocessor did not run first")
		}
		return nil
	})

	g, err := h.Generate(ctx, "provinces", []byte(`{}`))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if want := []string{"post", "validate"}; !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if !bytes.Contains(g.Document, []byte(`"biome":"tundra"`)) {
		t.Errorf("document %s does not carry the postprocessed biome", g.Document)
	}

	h.AddValidator(func(m *gridmap.Map) error {
		if m.Len() < 10 {
			return errors.New("world too small")
		}
		return nil
	})
	_, err = h.Generate(ctx, "provinces", []byte(`{}`))
	if !errors.Is(err, host.ErrValidation) || !strings.Contains(err.Error(), "world too small") {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestHost_DuplicateWorldgen(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)

	err := h.Load(context.Background(), []host.Loaded{
		gridModule(t, "square_a", gridgen.NewSquare),
		gridModule(t, "square_b", gridgen.NewSquare),
	})
	if !errors.Is(err, host.ErrDuplicateWorldgen) {
		t.Fatalf("err = %v, want ErrDuplicateWorldgen", err)
	}
	if got := h.Worldgens(); !slices.Equal(got, []string{"simple_square"}) {
		t.Errorf("Worldgens() = %v", got)
	}
	for _, s := range h.Modules() {
		want, wantWorldgen := module.StateInitialized.String(), "simple_square"
		if s.Name == "square_b" {
			want, wantWorldgen = module.StateShutDown.String(), ""
		}
		if s.State != want || s.Worldgen != wantWorldgen {
			t.Errorf("module %q = %s/%q, want %s/%q", s.Name, s.State, s.Worldgen, want, wantWorldgen)
		}
	}
	g, err := h.Generate(context.Background(), "simple_square", []byte(`{"width":1,"height":1,"z_levels":1}`))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if g.Module != "square_a" {
		t.Errorf("generated by %q, want square_a", g.Module)
	}
}

func TestHost_GenerateChunks(t *testing.T) {
	t.Parallel()
	h, _ := newTestHost(t)
	loadGrid(t, h)

	params := map[string]any{"width": 2, "height": 2, "z_levels": 1}
	m, err := h.GenerateChunks(context.Background(), "simple_square", params, 2)
	if err != nil {
		t.Fatalf("GenerateChunks: %v", err)
	}
	if m.Len() != 16 {
		t.Errorf("cells = %d, want 16", m.Len())
	}
	for _, k := range []gridmap.CellKey{gridmap.SquareKey(0, 0, 0), gridmap.SquareKey(3, 3, 0), gridmap.SquareKey(2, 1, 0)} {
		if !m.Contains(k) {
			t.Errorf("merged map lacks cell %s", k)
		}
	}
	if _, ok := params["chunk_x"]; ok {
		t.Error("GenerateChunks modified the caller's params")
	}
}
