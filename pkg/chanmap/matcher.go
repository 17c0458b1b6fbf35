package chanmap

import (
	"slices"
	"sort"

	"uvgrid/pkg/logging"
	"uvgrid/pkg/vis"
)

// Matcher caches one Map per spectral window. Maps are rebuilt when a spectral
// window is first seen or a buffer marks a new dataset; spectral windows that
// need frame conversion have their channel map recomputed for every buffer.
type Matcher struct {
	spectral   Spectral
	stokes     []vis.Correlation
	conversion map[int]bool
	log        *logging.Logger

	cache       map[int]Map
	builds      int
	warnedEmpty bool
}

// NewMatcher builds a matcher for an image with the given spectral axis and
// polarization planes. convert lists the spectral windows needing frame conversion.
func NewMatcher(axis Spectral, stokes []vis.Correlation, convert []int, log *logging.Logger) *Matcher {
	conv := make(map[int]bool, len(convert))
	for _, spw := range convert {
		conv[spw] = true
	}
	return &Matcher{
		spectral:   axis,
		stokes:     append([]vis.Correlation(nil), stokes...),
		conversion: conv,
		log:        logging.Or(log).WithComponent("chanmap"),
		cache:      make(map[int]Map),
	}
}

// Map returns the translation table for buf's spectral window.
func (m *Matcher) Map(buf *vis.Buffer) (Map, error) {
	if buf.NewDataset {
		m.Reset()
	}

	spw := buf.SpectralWindow
	cached, ok := m.cache[spw]
	if ok && len(cached.Chan) == buf.NChan() && slices.Equal(cached.Correlations, buf.Correlations) {
		if !cached.NeedsConversion {
			return cached, nil
		}
		out := cached.Clone()
		out.Chan, _ = BuildChannels(m.spectral, buf.ImageFrequencies())
		return out, nil
	}

	pol, iOnly, err := BuildPolarizations(m.stokes, buf.Correlations)
	if err != nil {
		return Map{}, err
	}

	needsConversion := m.conversion[spw]
	freqs := buf.Frequencies
	if needsConversion {
		freqs = buf.ImageFrequencies()
	}
	chans, found := BuildChannels(m.spectral, freqs)

	built := Map{
		Spw:             spw,
		Chan:            chans,
		Pol:             pol,
		NeedsConversion: needsConversion,
		IOnly:           iOnly,
		Correlations:    append([]vis.Correlation(nil), buf.Correlations...),
	}
	m.cache[spw] = built
	m.builds++

	if found == 0 && !needsConversion && !m.warnedEmpty {
		m.warnedEmpty = true
		m.log.WithSpw(spw).Warn("no overlap in frequency between image channels and selected data",
			"vis_channels", len(chans), "image_channels", m.spectral.NChan)
	}
	return built, nil
}

// Builds returns how many maps have been computed from scratch.
func (m *Matcher) Builds() int { return m.builds }

// Reset discards every cached map.
func (m *Matcher) Reset() {
	clear(m.cache)
	m.warnedEmpty = false
}

// Cached returns the cached map of spw, if any.
func (m *Matcher) Cached(spw int) (Map, bool) {
	mp, ok := m.cache[spw]
	if !ok {
		return Map{}, false
	}
	return mp.Clone(), true
}

// Restore seeds the cache, e.g. from a persisted record.
func (m *Matcher) Restore(maps []Map) {
	for _, mp := range maps {
		m.cache[mp.Spw] = mp.Clone()
	}
}

// Snapshot returns every cached map.
func (m *Matcher) Snapshot() []Map {
	out := make([]Map, 0, len(m.cache))
	for _, mp := range m.cache {
		out = append(out, mp.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spw < out[j].Spw })
	return out
}
