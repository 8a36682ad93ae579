package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MrWong99/tessera/internal/host"
	"github.com/MrWong99/tessera/internal/world"
	"github.com/MrWong99/tessera/pkg/module"
)

// optionFlag collects repeated -option key=value pairs. Values that parse as
// JSON keep their type; anything else is a string.
type optionFlag module.Options

func (o optionFlag) String() string { return fmt.Sprint(map[string]any(o)) }

func (o optionFlag) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("option %q is not key=value", s)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	o[key] = v
	return nil
}

// runGen implements "tessera gen". It loads a single module into a private
// host, generates an n×n block of chunks and writes the merged map to stdout.
func runGen(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	kind := fs.String("module", "", "module kind to generate with (required)")
	paramsPath := fs.String("params", "", `request document file; "-" reads stdin; empty means {}`)
	chunks := fs.Int("chunks", 1, "generate an N×N block of chunks")
	opts := optionFlag{}
	fs.Var(opts, "option", "module option key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *kind == "" {
		fmt.Fprintln(stderr, "tessera gen: -module is required")
		fs.Usage()
		return 2
	}
	if *chunks < 1 {
		fmt.Fprintln(stderr, "tessera gen: -chunks must be at least 1")
		return 2
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	params, err := readParams(*paramsPath, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "tessera gen: %v\n", err)
		return 1
	}

	doc, err := generate(context.Background(), *kind, module.Options(opts), params, *chunks)
	if err != nil {
		fmt.Fprintf(stderr, "tessera gen: %v\n", err)
		return 1
	}
	if _, err := stdout.Write(append(doc, '\n')); err != nil {
		fmt.Fprintf(stderr, "tessera gen: %v\n", err)
		return 1
	}
	return 0
}

func generate(ctx context.Context, kind string, opts module.Options, params map[string]any, chunks int) ([]byte, error) {
	manifest := module.Manifest{Name: kind, Kind: kind, Options: opts}
	mod, err := newRegistry().CreateModule(manifest)
	if err != nil {
		return nil, err
	}
	manifest.Version = mod.Info().Version

	h := host.New(module.NewWorld(world.NewMemWorld()))
	defer h.Shutdown(ctx)

	if err := h.Load(ctx, []host.Loaded{{Manifest: manifest, Module: mod}}); err != nil {
		return nil, err
	}
	worldgens := h.Worldgens()
	if len(worldgens) == 0 {
		return nil, fmt.Errorf("module kind %q provides no worldgen", kind)
	}

	m, err := h.GenerateChunks(ctx, worldgens[0], params, chunks)
	if err != nil {
		return nil, err
	}
	return m.Encode()
}

func readParams(path string, stdin io.Reader) (map[string]any, error) {
	var data []byte
	var err error
	switch path {
	case "":
		return map[string]any{}, nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	if params == nil {
		return nil, errors.New("params: document is not an object")
	}
	return params, nil
}
