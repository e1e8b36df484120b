// Package chunker converts conversation records into index entries.
//
// A Chunker is pure and deterministic: the same record at the same scope
// always yields the same entries, which is what makes index rebuilds
// idempotent upstream.
//
// # Scopes
//
// Scope pair groups each user turn with the assistant run that follows
// it; scope turn indexes every coalesced turn on its own:
//
//	c := chunker.New()
//	entries, err := c.Chunk(record, types.ScopePair)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, entry := range entries {
//	    fmt.Printf("%s: %s\n", entry.Key(), entry.UserHead)
//	}
//
// # Heads and Embedding Text
//
// Each entry carries a user head (first line, 160 runes) and an assistant
// head (first line, 200 runes). EmbedText composes both heads plus the
// annotation meta bits, capped at 1200 runes, so vectors stay comparable
// across wildly different turn lengths:
//
//	text := chunker.EmbedText(entry)
//	vector, err := cache.Embed(ctx, text)
//
// # Annotations
//
// Annotate derives cheap heuristic flags from the raw text: length
// buckets, code/link presence, polarity, unfinished-thread and
// preference/design/learning cues, and clarity/context quality grades:
//
//	ann := chunker.Annotate(userText, assistantText)
//	if ann.HasCode {
//	    // entry contains fenced or indented code
//	}
//
// The flags feed search filtering, sparse tag matching, and index
// statistics. They are retrieval hints, not classifiers.
package chunker
