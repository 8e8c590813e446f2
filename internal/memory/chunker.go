package memory

import "strings"

// ChunkText splits text into chunks of at most chunkSize runes with
// chunkOverlap runes of overlap between consecutive chunks, per spec
// §4.5's fallback ladder: try paragraph boundaries first, then sentence
// boundaries, then a fixed-size overlapping window. Grounded on the
// teacher's streaming chunker (internal/documents/splitter.go, since
// removed) in spirit — boundary-aware splitting that falls back to a
// fixed window — but self-contained since that file's Tokenizer/Language
// types belonged to manifold's own product surface.
func ChunkText(text string, chunkSize, chunkOverlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}

	if len([]rune(text)) <= chunkSize {
		return []string{text}
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) > 1 {
		return packUnits(paragraphs, chunkSize, chunkOverlap)
	}

	sentences := splitSentences(text)
	if len(sentences) > 1 {
		return packUnits(sentences, chunkSize, chunkOverlap)
	}

	return windowChunks(text, chunkSize, chunkOverlap)
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(cur.String())
			if s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

// packUnits greedily packs whole units (paragraphs or sentences) into
// chunks no larger than chunkSize runes, carrying the trailing
// chunkOverlap runes of one chunk into the next when they fit.
func packUnits(units []string, chunkSize, chunkOverlap int) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			chunks = append(chunks, s)
		}
	}

	for _, u := range units {
		// A single unit longer than chunkSize is split on its own by the
		// next rung of the ladder (sentences, then fixed windows).
		if len([]rune(u)) > chunkSize {
			flush()
			cur.Reset()
			chunks = append(chunks, ChunkText(u, chunkSize, chunkOverlap)...)
			continue
		}
		candidate := u
		if cur.Len() > 0 {
			candidate = cur.String() + "\n\n" + u
		}
		if len([]rune(candidate)) > chunkSize && cur.Len() > 0 {
			flush()
			overlap := lastRunes(cur.String(), chunkOverlap)
			cur.Reset()
			if overlap != "" && len([]rune(overlap))+2+len([]rune(u)) <= chunkSize {
				cur.WriteString(overlap)
				cur.WriteString("\n\n")
			}
			cur.WriteString(u)
		} else {
			cur.Reset()
			cur.WriteString(candidate)
		}
	}
	flush()
	return dedupeAdjacent(chunks)
}

// windowChunks is the final fallback rung: fixed-size overlapping windows
// over raw runes, used when no paragraph/sentence boundary exists (e.g.
// minified code, a single giant line).
func windowChunks(text string, chunkSize, chunkOverlap int) []string {
	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}
	step := chunkSize - chunkOverlap
	if step <= 0 {
		step = chunkSize
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func dedupeAdjacent(chunks []string) []string {
	var out []string
	for i, c := range chunks {
		if i > 0 && out[len(out)-1] == c {
			continue
		}
		out = append(out, c)
	}
	return out
}
