package live

import "strings"

// speechChunkPunctuation are the characters that close a chunk early
// so the synthesizer gets natural sentence breaks.
const speechChunkPunctuation = ",.!?;:"

// speechChunkWords is the fallback chunk size for text with no
// punctuation, which is what the output policy usually produces.
const speechChunkWords = 5

// splitSpeechChunks splits a complete reply into chunks sized for the
// streaming synthesizer. A chunk closes at the first word carrying
// sentence punctuation, or after speechChunkWords words, whichever
// comes first. Chunks go to the same synthesis context in order, so
// the split affects pacing, never wording.
func splitSpeechChunks(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for i, word := range words {
		if strings.ContainsAny(word, speechChunkPunctuation) || i-start+1 >= speechChunkWords {
			chunks = append(chunks, strings.Join(words[start:i+1], " "))
			start = i + 1
		}
	}
	if start < len(words) {
		chunks = append(chunks, strings.Join(words[start:], " "))
	}
	return chunks
}
