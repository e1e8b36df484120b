// Package source reads logged conversations out of AI-agent state
// databases.
//
// Each agent stores its chat history in its own on-disk format; a Source
// backend hides that format behind two capabilities: listing composer
// (session) IDs and fetching the reconstructed conversation for one of
// them. The backend is chosen by explicit configuration:
//
//	src, err := source.New(source.Config{Agent: "cursor"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
//
//	infos, err := src.ListComposers(ctx)
//	record, err := src.FetchRecords(ctx, infos[0].ComposerID)
//
// # Cursor Backend
//
// CursorSource reads the cursorDiskKV table of Cursor's state.vscdb
// SQLite database, opened read-only so a running agent is never
// disturbed. Composer records live under "composerData:<uuid>" keys;
// message bubbles under "bubbleId:<composerID>:<bubbleID>", ordered by
// the composer's header list. Bubble JSON is extracted leniently because
// the schema is undocumented and drifts between agent versions; a
// malformed composer record surfaces as types.ErrSourceRead for that
// composer only.
//
// Default database locations are resolved per platform (global storage
// preferred over workspace storage).
//
// # Reconstruction
//
// Agents split assistant output across many bubbles. CoalesceTurns merges
// consecutive assistant turns into one run and drops empty turns, so a
// reconstructed conversation alternates user/assistant.
package source
