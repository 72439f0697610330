package main

// codecRank returns the index of codec in the preference order, or
// len(prefs) for codecs not listed so they sort after every preference.
func codecRank(codec string, prefs []string) int {
	for i, p := range prefs {
		if p == codec {
			return i
		}
	}
	return len(prefs)
}

// qualityRank maps a tier code to its position in the ladder (best = 0).
// Tier codes are service-assigned and not numerically ordered by quality, so
// comparisons go through the ladder. Unknown tiers sort after known ones.
func qualityRank(quality int, ladder []int) int {
	for i, q := range ladder {
		if q == quality {
			return i
		}
	}
	return len(ladder)
}

// selectVideo picks one video stream: the best available tier at or below
// the requested one (never silently above it), then the earliest codec in
// the preference order, ties broken by candidate order. Returns nil when
// nothing qualifies.
func selectVideo(candidates []VideoStreamMeta, quality int, codecPrefs []string) *VideoStreamMeta {
	requested := qualityRank(quality, videoQualityLadder)
	var best *VideoStreamMeta
	bestTier, bestCodec := 0, 0
	for i := range candidates {
		c := &candidates[i]
		tier := qualityRank(c.Quality, videoQualityLadder)
		if tier < requested {
			continue
		}
		codec := codecRank(c.Codec, codecPrefs)
		if best == nil || tier < bestTier || (tier == bestTier && codec < bestCodec) {
			best, bestTier, bestCodec = c, tier, codec
		}
	}
	return best
}

// selectAudio picks one audio stream under the same policy as selectVideo.
func selectAudio(candidates []AudioStreamMeta, quality int, codecPrefs []string) *AudioStreamMeta {
	requested := qualityRank(quality, audioQualityLadder)
	var best *AudioStreamMeta
	bestTier, bestCodec := 0, 0
	for i := range candidates {
		c := &candidates[i]
		tier := qualityRank(c.Quality, audioQualityLadder)
		if tier < requested {
			continue
		}
		codec := codecRank(c.Codec, codecPrefs)
		if best == nil || tier < bestTier || (tier == bestTier && codec < bestCodec) {
			best, bestTier, bestCodec = c, tier, codec
		}
	}
	return best
}
