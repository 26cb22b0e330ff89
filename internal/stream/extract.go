package stream

// The backend's payloads are duck-typed: the text of a delta can live under
// several field names depending on which pipeline stage emitted it. Rather
// than probing shapes ad hoc at every call site, extraction is an explicit
// ordered list of total strategies; the first one that matches wins.

type deltaExtractor func(map[string]any) (string, bool)

var deltaExtractors = []deltaExtractor{
	contentString, // {"content": "..."}
	contentBlocks, // {"content": [{"text": "..."}, ...]}
	textField,     // {"text": "..."}
	chunkContent,  // {"chunk": {"content": "..."}}
	deltaField,    // {"delta": "..."}
}

// ExtractDelta pulls a textual delta out of a decoded payload. It never
// fails; the second return is false when no strategy matched.
func ExtractDelta(obj map[string]any) (string, bool) {
	for _, extract := range deltaExtractors {
		if s, ok := extract(obj); ok {
			return s, true
		}
	}
	return "", false
}

func contentString(obj map[string]any) (string, bool) {
	s, ok := obj["content"].(string)
	return s, ok
}

func contentBlocks(obj map[string]any) (string, bool) {
	blocks, ok := obj["content"].([]any)
	if !ok {
		return "", false
	}
	var out string
	matched := false
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := block["text"].(string); ok {
			out += text
			matched = true
		}
	}
	return out, matched
}

func textField(obj map[string]any) (string, bool) {
	s, ok := obj["text"].(string)
	return s, ok
}

func chunkContent(obj map[string]any) (string, bool) {
	chunk, ok := obj["chunk"].(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := chunk["content"].(string)
	return s, ok
}

func deltaField(obj map[string]any) (string, bool) {
	s, ok := obj["delta"].(string)
	return s, ok
}
