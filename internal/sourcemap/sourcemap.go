// Package sourcemap ingests emitted V3 source maps and maps
// (inputFile, inputLine) -> (outputFile, outputLine, outputColumn).
//
// The V3 JSON envelope is decoded with encoding/json, and the
// "mappings" field is decoded with a small Base64-VLQ decoder (see
// vlq.go).
package sourcemap

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// rawSourceMap is the V3 source map JSON envelope.
type rawSourceMap struct {
	Version  int      `json:"version"`
	File     string   `json:"file"`
	Sources  []string `json:"sources"`
	Names    []string `json:"names"`
	Mappings string   `json:"mappings"`
}

// generatedPos is one decoded mapping: a generated (output) position plus
// the original (input) position it was produced from.
type generatedPos struct {
	genLine, genCol   int
	origSource        int
	origLine, origCol int
}

// consumer is the decoded, queryable form of one source map.
type consumer struct {
	mapFile    string
	outputFile string
	sources    []string
	mappings   []generatedPos // sorted by origLine, origCol, genLine
}

// Position is a resolved mapping result.
type Position struct {
	File        string
	Line0Based  int
	Column0Based int
}

// Mapper owns every loaded source map for the process lifetime.
type Mapper struct {
	// inputPath -> consumer index + which source within it
	byInput map[string]inputEntry
	consumers []*consumer
}

type inputEntry struct {
	consumerIdx int
	sourceIdx   int
}

// New loads every file in mapFiles (absolute paths to *.map files) and
// builds the inputPath -> {outputFile, consumer} index. A map whose
// "sources" list is empty is rejected outright.
func New(mapFiles []string) (*Mapper, error) {
	m := &Mapper{byInput: make(map[string]inputEntry)}

	for _, mapFile := range mapFiles {
		raw, err := loadRaw(mapFile)
		if err != nil {
			return nil, fmt.Errorf("sourcemap: loading %s: %w", mapFile, err)
		}
		if len(raw.Sources) == 0 {
			continue // reject maps with no sources
		}

		mappings, err := decodeMappings(raw.Mappings, len(raw.Sources))
		if err != nil {
			return nil, fmt.Errorf("sourcemap: decoding mappings in %s: %w", mapFile, err)
		}
		sort.Slice(mappings, func(i, j int) bool {
			if mappings[i].origLine != mappings[j].origLine {
				return mappings[i].origLine < mappings[j].origLine
			}
			if mappings[i].origCol != mappings[j].origCol {
				return mappings[i].origCol < mappings[j].origCol
			}
			return mappings[i].genLine < mappings[j].genLine
		})

		outputFile := resolveOutputFile(raw, mapFile)

		c := &consumer{
			mapFile:    mapFile,
			outputFile: outputFile,
			sources:    raw.Sources,
			mappings:   mappings,
		}
		idx := len(m.consumers)
		m.consumers = append(m.consumers, c)

		for si, src := range raw.Sources {
			input := normalize(src, mapFile)
			m.byInput[input] = inputEntry{consumerIdx: idx, sourceIdx: si}
		}
	}

	return m, nil
}

func loadRaw(mapFile string) (*rawSourceMap, error) {
	data, err := os.ReadFile(mapFile)
	if err != nil {
		return nil, err
	}
	var raw rawSourceMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// resolveOutputFile computes the generated file a map belongs to: either
// the map's declared "file", or the map's basename minus ".map", joined
// to the map's directory.
func resolveOutputFile(raw *rawSourceMap, mapFile string) string {
	dir := filepath.Dir(mapFile)
	if raw.File != "" {
		return filepath.ToSlash(filepath.Join(dir, raw.File))
	}
	base := strings.TrimSuffix(filepath.Base(mapFile), ".map")
	return filepath.ToSlash(filepath.Join(dir, base))
}

func normalize(source, mapFile string) string {
	if path.IsAbs(source) {
		return filepath.ToSlash(path.Clean(source))
	}
	dir := filepath.Dir(mapFile)
	return filepath.ToSlash(filepath.Clean(filepath.Join(dir, source)))
}

// HasMapping reports whether inputPath is a source listed in any loaded
// map.
func (m *Mapper) HasMapping(inputPath string) bool {
	_, ok := m.byInput[normalizePath(inputPath)]
	return ok
}

// OutputFile returns the generated file a mapped input belongs to.
func (m *Mapper) OutputFile(inputPath string) (string, bool) {
	e, ok := m.byInput[normalizePath(inputPath)]
	if !ok {
		return "", false
	}
	return m.consumers[e.consumerIdx].outputFile, true
}

func normalizePath(p string) string {
	return filepath.ToSlash(path.Clean(p))
}

// MappingInfo resolves an (inputPath, 0-based line, 0-based column) to
// the corresponding generated position: query every generated position
// recorded against that input line (matching line+1, because source
// maps are 1-based for the "original" side in this decoder's internal
// bookkeeping — see decodeMappings), pick the smallest generated line,
// falling back to the nearest later mapping if no exact line match
// exists. Returns nil if inputPath is unmapped.
func (m *Mapper) MappingInfo(inputPath string, line0Based, col0Based int) *Position {
	e, ok := m.byInput[normalizePath(inputPath)]
	if !ok {
		return nil
	}
	c := m.consumers[e.consumerIdx]

	wantLine := line0Based + 1 // internal bookkeeping is 1-based for orig line, see decodeMappings

	var exact []generatedPos
	for _, gp := range c.mappings {
		if gp.origSource == e.sourceIdx && gp.origLine == wantLine {
			exact = append(exact, gp)
		}
	}

	var best *generatedPos
	if len(exact) > 0 {
		best = &exact[0]
		for i := range exact {
			if exact[i].genLine < best.genLine {
				best = &exact[i]
			}
		}
	} else {
		// Fallback: nearest mapping at or after the requested original
		// position for this source, mirroring generatedPositionFor.
		for i := range c.mappings {
			gp := c.mappings[i]
			if gp.origSource != e.sourceIdx {
				continue
			}
			if gp.origLine > wantLine || (gp.origLine == wantLine && gp.origCol >= col0Based) {
				best = &c.mappings[i]
				break
			}
		}
	}

	if best == nil {
		return nil
	}

	return &Position{
		File:         c.outputFile,
		Line0Based:   best.genLine - 1,
		Column0Based: best.genCol,
	}
}
