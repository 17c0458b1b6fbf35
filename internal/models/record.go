package models

// Direction is a sky direction in a persisted record.
type Direction struct {
	Lon  float64 `yaml:"lon" json:"lon"`
	Lat  float64 `yaml:"lat" json:"lat"`
	Unit string  `yaml:"unit" json:"unit"`
}

// Position is an Earth-fixed position in a persisted record.
type Position struct {
	X    float64 `yaml:"x" json:"x"`
	Y    float64 `yaml:"y" json:"y"`
	Z    float64 `yaml:"z" json:"z"`
	Unit string  `yaml:"unit" json:"unit"`
}

// Shape is a 4-D extent (nx, ny, npol, nchan).
type Shape struct {
	NX    int `yaml:"nx" json:"nx"`
	NY    int `yaml:"ny" json:"ny"`
	NPol  int `yaml:"npol" json:"npol"`
	NChan int `yaml:"nchan" json:"nchan"`
}

// Matrix is a row-major dense matrix.
type Matrix struct {
	Rows int       `yaml:"rows" json:"rows"`
	Cols int       `yaml:"cols" json:"cols"`
	Data []float64 `yaml:"data,flow" json:"data"`
}

// ChannelMap is the persisted form of one spectral window's translation table.
type ChannelMap struct {
	Spw             int      `yaml:"spw" json:"spw"`
	Chan            []int    `yaml:"chan,flow" json:"chan"`
	Pol             []int    `yaml:"pol,flow" json:"pol"`
	Correlations    []string `yaml:"correlations,flow,omitempty" json:"correlations,omitempty"`
	NeedsConversion bool     `yaml:"needsConversion,omitempty" json:"needsConversion,omitempty"`
	IOnly           bool     `yaml:"iOnly,omitempty" json:"iOnly,omitempty"`
}

// Spectral is a linear frequency axis.
type Spectral struct {
	RefPixel  float64 `yaml:"refPixel" json:"refPixel"`
	RefFreq   float64 `yaml:"refFreq" json:"refFreq"`
	Increment float64 `yaml:"increment" json:"increment"`
	NChan     int     `yaml:"nchan" json:"nchan"`
}

// Payload describes the binary block that follows the header.
type Payload struct {
	// Rows is the number of image rows (nx values each) in the block.
	Rows      int    `yaml:"rows" json:"rows"`
	RowLength int    `yaml:"rowLength" json:"rowLength"`
	Encoding  string `yaml:"encoding" json:"encoding"`

	// Bytes is the length of the block; zero means it runs to the end of the file.
	Bytes int `yaml:"bytes,omitempty" json:"bytes,omitempty"`
}

// RecordHeader is the self-describing part of a saved gridding machine.
type RecordHeader struct {
	Format string `yaml:"format" json:"format"`

	CacheSizeBytes      int64     `yaml:"cacheSizeBytes" json:"cacheSizeBytes"`
	TileSize            int       `yaml:"tileSize" json:"tileSize"`
	Kernel              string    `yaml:"kernel" json:"kernel"`
	PhaseCenter         Direction `yaml:"phaseCenter" json:"phaseCenter"`
	ObservatoryPosition Position  `yaml:"observatoryPosition" json:"observatoryPosition"`
	Distance            float64   `yaml:"distance" json:"distance"`
	Padding             float64   `yaml:"padding" json:"padding"`
	UseAutocorrelations bool      `yaml:"useAutocorrelations" json:"useAutocorrelations"`
	MaxAbsData          float64   `yaml:"maxAbsData" json:"maxAbsData"`

	CenterLoc [4]int     `yaml:"centerLoc,flow" json:"centerLoc"`
	OffsetLoc [4]int     `yaml:"offsetLoc,flow" json:"offsetLoc"`
	UVScale   [2]float64 `yaml:"uvScale,flow" json:"uvScale"`
	UVOffset  [2]float64 `yaml:"uvOffset,flow" json:"uvOffset"`
	Increment [2]float64 `yaml:"increment,flow" json:"increment"`

	GridShape  Shape  `yaml:"gridShape" json:"gridShape"`
	ImageShape Shape  `yaml:"imageShape" json:"imageShape"`
	SumWeight  Matrix `yaml:"sumWeight" json:"sumWeight"`

	Spectral Spectral `yaml:"spectral" json:"spectral"`
	Stokes   []string `yaml:"stokes,flow" json:"stokes"`

	ChannelMaps []ChannelMap `yaml:"channelMaps,omitempty" json:"channelMaps,omitempty"`

	// Pass is the direction of the pass in progress: idle, sky or vis.
	Pass string `yaml:"pass,omitempty" json:"pass,omitempty"`

	// Payload is set when image data follow the header.
	Payload *Payload `yaml:"payload,omitempty" json:"payload,omitempty"`

	// GridPayload is set when the uv grid of a pass in progress follows the image.
	GridPayload *Payload `yaml:"gridPayload,omitempty" json:"gridPayload,omitempty"`
}
