package agent

// ImageRemovedPlaceholder replaces a pruned screenshot so the
// surrounding conversation keeps its shape.
const ImageRemovedPlaceholder = "[screenshot removed to conserve context]"

// PruneImages bounds the number of images in the history view sent to
// the model. It retains the keep most recent images and replaces older
// ones with a textual placeholder; all non-image content is preserved
// verbatim. Removal happens in multiples of chunk so the upstream
// prompt cache is not invalidated on every call. The input is never
// mutated.
func PruneImages(turns []Turn, keep, chunk int) []Turn {
	if keep < 0 {
		return turns
	}

	total := 0
	for _, turn := range turns {
		for _, block := range turn.Blocks {
			if block.Image != "" {
				total++
			}
		}
	}

	toRemove := total - keep
	if chunk > 1 {
		toRemove -= toRemove % chunk
	}
	if toRemove <= 0 {
		return turns
	}

	// Walk in order so the oldest images go first.
	pruned := make([]Turn, len(turns))
	for i, turn := range turns {
		pruned[i] = turn
		if toRemove == 0 {
			continue
		}

		changed := false
		blocks := make([]Block, len(turn.Blocks))
		for j, block := range turn.Blocks {
			blocks[j] = block
			if toRemove == 0 || block.Image == "" {
				continue
			}
			toRemove--
			changed = true
			blocks[j].Image = ""
			if blocks[j].Kind == BlockImage {
				blocks[j].Kind = BlockText
				blocks[j].Text = ImageRemovedPlaceholder
			} else if blocks[j].Text == "" {
				blocks[j].Text = ImageRemovedPlaceholder
			}
		}
		if changed {
			pruned[i].Blocks = blocks
		}
	}

	return pruned
}

// MarkCacheBoundaries annotates the most recent markers stable user
// turns with a cache-control marker and clears the marker that has
// aged out, so boundaries only ever move forward. Re-annotating an
// already marked turn is a no-op. The input is never mutated.
func MarkCacheBoundaries(turns []Turn, markers int) []Turn {
	if markers <= 0 {
		return turns
	}

	marked := make([]Turn, len(turns))
	copy(marked, turns)

	remaining := markers
	for i := len(marked) - 1; i >= 0; i-- {
		if marked[i].Role != RoleUser || len(marked[i].Blocks) == 0 {
			continue
		}

		last := len(marked[i].Blocks) - 1
		if remaining > 0 {
			remaining--
			if !marked[i].Blocks[last].CacheControl {
				marked[i] = withCacheControl(marked[i], last, true)
			}
		} else {
			// At most one boundary ages out per call.
			if marked[i].Blocks[last].CacheControl {
				marked[i] = withCacheControl(marked[i], last, false)
			}
			break
		}
	}

	return marked
}

func withCacheControl(turn Turn, index int, value bool) Turn {
	blocks := make([]Block, len(turn.Blocks))
	copy(blocks, turn.Blocks)
	blocks[index].CacheControl = value
	turn.Blocks = blocks
	return turn
}
