package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/tessera/internal/gridmap"
	"github.com/MrWong99/tessera/pkg/worldgen"
)

// maxChunks bounds the chunk grid per axis.
const maxChunks = 16

// ListWorldgensInput is the input of "list_worldgens".
type ListWorldgensInput struct{}

// WorldgenInfo describes one registered worldgen.
type WorldgenInfo struct {
	Name   string `json:"name" jsonschema:"worldgen name to pass to generate_world"`
	Module string `json:"module" jsonschema:"module providing the worldgen"`
	State  string `json:"state" jsonschema:"lifecycle state of the module"`
}

// ListWorldgensResult is the output of "list_worldgens".
type ListWorldgensResult struct {
	Worldgens []WorldgenInfo `json:"worldgens"`
}

// GenerateWorldInput is the input of "generate_world".
type GenerateWorldInput struct {
	Worldgen string         `json:"worldgen" jsonschema:"registered worldgen name"`
	Params   map[string]any `json:"params,omitempty" jsonschema:"request document such as width, height, z_levels and biomes"`
	Chunks   int            `json:"chunks,omitempty" jsonschema:"generate an N by N block of chunks and merge them"`
}

// GenerateWorldResult is the output of "generate_world".
type GenerateWorldResult struct {
	Worldgen string `json:"worldgen"`
	Topology string `json:"topology"`
	Cells    int    `json:"cells"`
	Document string `json:"document" jsonschema:"the generated map as a JSON document"`
}

// CellRef names a cell. Grid maps use x, y, z (hex maps read x, y as q, r);
// province maps use id.
type CellRef struct {
	X  int    `json:"x,omitempty"`
	Y  int    `json:"y,omitempty"`
	Z  int    `json:"z,omitempty"`
	ID string `json:"id,omitempty"`
}

func (c CellRef) key(topo worldgen.Topology) gridmap.CellKey {
	switch topo {
	case worldgen.TopologyHex:
		return gridmap.HexKey(c.X, c.Y, c.Z)
	case worldgen.TopologyProvince:
		return gridmap.ProvinceKey(c.ID)
	default:
		return gridmap.SquareKey(c.X, c.Y, c.Z)
	}
}

// DescribeMapInput is the input of "describe_map".
type DescribeMapInput struct {
	Worldgen string         `json:"worldgen" jsonschema:"registered worldgen name"`
	Params   map[string]any `json:"params,omitempty" jsonschema:"request document passed to the worldgen"`
	Chunks   int            `json:"chunks,omitempty" jsonschema:"generate an N by N block of chunks and merge them"`
	From     *CellRef       `json:"from,omitempty" jsonschema:"path start; requires to"`
	To       *CellRef       `json:"to,omitempty" jsonschema:"path goal; requires from"`
}

// PathSummary is the shortest path between two cells.
type PathSummary struct {
	Found bool     `json:"found"`
	Cells []string `json:"cells,omitempty"`
	Cost  float64  `json:"cost,omitempty"`
}

// DescribeMapResult is the output of "describe_map".
type DescribeMapResult struct {
	Worldgen string         `json:"worldgen"`
	Topology string         `json:"topology"`
	Cells    int            `json:"cells"`
	Biomes   map[string]int `json:"biomes" jsonschema:"number of cells per biome"`
	Path     *PathSummary   `json:"path,omitempty"`
}

func listWorldgensTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        "list_worldgens",
		Description: "Lists the registered world generators and the modules that provide them.",
	}
}

func generateWorldTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        "generate_world",
		Description: "Generates a world with a registered worldgen and returns the map document.",
	}
}

func describeMapTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        "describe_map",
		Description: "Generates a world and summarises it: cell count, biome histogram and optionally the shortest path between two cells.",
	}
}

func (s *Server) listWorldgens(_ context.Context, _ *mcpsdk.CallToolRequest, _ ListWorldgensInput) (*mcpsdk.CallToolResult, ListWorldgensResult, error) {
	owners := make(map[string][2]string)
	for _, m := range s.backend.Modules() {
		if m.Worldgen != "" {
			owners[m.Worldgen] = [2]string{m.Name, m.State}
		}
	}
	out := ListWorldgensResult{Worldgens: []WorldgenInfo{}}
	for _, name := range s.backend.Worldgens() {
		o := owners[name]
		out.Worldgens = append(out.Worldgens, WorldgenInfo{Name: name, Module: o[0], State: o[1]})
	}
	return nil, out, nil
}

func (s *Server) generateWorld(ctx context.Context, _ *mcpsdk.CallToolRequest, in GenerateWorldInput) (*mcpsdk.CallToolResult, GenerateWorldResult, error) {
	m, err := s.generate(ctx, in)
	if err != nil {
		return nil, GenerateWorldResult{}, err
	}
	doc, err := m.Encode()
	if err != nil {
		return nil, GenerateWorldResult{}, fmt.Errorf("encode map: %w", err)
	}
	return nil, GenerateWorldResult{
		Worldgen: in.Worldgen,
		Topology: string(m.Topology()),
		Cells:    m.Len(),
		Document: string(doc),
	}, nil
}

func (s *Server) describeMap(ctx context.Context, _ *mcpsdk.CallToolRequest, in DescribeMapInput) (*mcpsdk.CallToolResult, DescribeMapResult, error) {
	if (in.From == nil) != (in.To == nil) {
		return nil, DescribeMapResult{}, errors.New("from and to must be given together")
	}
	m, err := s.generate(ctx, GenerateWorldInput{Worldgen: in.Worldgen, Params: in.Params, Chunks: in.Chunks})
	if err != nil {
		return nil, DescribeMapResult{}, err
	}

	out := DescribeMapResult{
		Worldgen: in.Worldgen,
		Topology: string(m.Topology()),
		Cells:    m.Len(),
		Biomes:   make(map[string]int),
	}
	for _, k := range m.Cells() {
		if b, ok := m.Biome(k); ok {
			out.Biomes[b]++
		}
	}

	if in.From != nil {
		p, ok := m.FindPath(in.From.key(m.Topology()), in.To.key(m.Topology()))
		out.Path = &PathSummary{Found: ok}
		if ok {
			out.Path.Cost = p.Cost
			for _, k := range p.Cells {
				out.Path.Cells = append(out.Path.Cells, k.String())
			}
		}
	}
	return nil, out, nil
}

// generate runs in against the backend, merging chunks when requested.
func (s *Server) generate(ctx context.Context, in GenerateWorldInput) (*gridmap.Map, error) {
	if in.Worldgen == "" {
		return nil, errors.New("worldgen is required")
	}
	if in.Chunks < 0 || in.Chunks > maxChunks {
		return nil, fmt.Errorf("chunks must be between 1 and %d", maxChunks)
	}
	if in.Chunks > 1 {
		return s.backend.GenerateChunks(ctx, in.Worldgen, in.Params, in.Chunks)
	}

	params := []byte("{}")
	if in.Params != nil {
		var err error
		if params, err = json.Marshal(in.Params); err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
	}
	g, err := s.backend.Generate(ctx, in.Worldgen, params)
	if err != nil {
		return nil, err
	}
	return g.Map, nil
}
