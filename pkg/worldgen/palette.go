package worldgen

const (
	// UnknownBiome is assigned when the selected palette entry has no name.
	UnknownBiome = "Unknown"

	// UnknownTerrain is assigned when the selected biome has no usable tile.
	UnknownTerrain = "unknown"
)

// Terrain hash multipliers. Changing them changes every generated chunk.
const (
	terrainMulX = 17
	terrainMulY = 31
	terrainMulZ = 13
)

// paletteIndex reduces a signed hash into [0, n). The sum is reinterpreted
// as an unsigned 64-bit value before the modulo, so negative coordinates
// select the same entries as the reference generator.
func paletteIndex(v, n int) int {
	return int(uint64(int64(v)) % uint64(n))
}

// assign sets the biome and terrain of c from the palette. It does nothing
// when the palette is empty. a and b are the two planar coordinates (x/y or
// q/r) in global space.
func assign(c *Cell, biomes []Biome, a, b, z int) {
	if len(biomes) == 0 {
		return
	}
	biome := biomes[paletteIndex(a+b+z, len(biomes))]

	c.Tagged = true
	c.Biome = UnknownBiome
	if biome.Name != nil {
		c.Biome = *biome.Name
	}

	c.Terrain = UnknownTerrain
	if len(biome.Tiles) > 0 {
		tile := biome.Tiles[paletteIndex(a*terrainMulX+b*terrainMulY+z*terrainMulZ, len(biome.Tiles))]
		if tile != nil {
			c.Terrain = *tile
		}
	}
}
