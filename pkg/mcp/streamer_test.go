package mcp

import (
	"strings"
	"testing"
)

func collectChunks(t *testing.T, rc ResourceContent, chunkSize int) []ResourceContent {
	t.Helper()
	var out []ResourceContent
	for chunk := range StreamContent(rc, chunkSize) {
		out = append(out, chunk)
	}
	return out
}

func TestStreamContentSmallPassThrough(t *testing.T) {
	rc := ResourceContent{URI: "doc://small", MimeType: "text/plain", Text: "under budget"}

	chunks := collectChunks(t, rc, MinChunkSize)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	got := chunks[0]
	if got.Text != rc.Text || got.URI != rc.URI {
		t.Errorf("chunk = %+v, want original unchanged", got)
	}
	if got.Chunk != nil || got.Complete != nil {
		t.Errorf("pass-through must not add chunk markers: %+v", got)
	}
}

func TestStreamContentExactBudgetPassThrough(t *testing.T) {
	rc := ResourceContent{URI: "doc://exact", Text: strings.Repeat("x", MinChunkSize)}

	chunks := collectChunks(t, rc, MinChunkSize)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 for size == chunkSize", len(chunks))
	}
	if chunks[0].Chunk != nil {
		t.Error("content at the boundary passes through unsliced")
	}
}

func TestStreamContentTextChunks(t *testing.T) {
	const chunkSize = MinChunkSize
	payload := strings.Repeat("a", chunkSize) + strings.Repeat("b", chunkSize) + strings.Repeat("c", chunkSize)
	rc := ResourceContent{URI: "doc://big", MimeType: "text/csv", Text: payload}

	chunks := collectChunks(t, rc, chunkSize)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}

	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if chunk.Chunk == nil || *chunk.Chunk != i {
			t.Errorf("chunk %d: index = %v", i, chunk.Chunk)
		}
		wantComplete := i == 2
		if chunk.Complete == nil || *chunk.Complete != wantComplete {
			t.Errorf("chunk %d: complete = %v, want %v", i, chunk.Complete, wantComplete)
		}
		if chunk.URI != rc.URI || chunk.MimeType != rc.MimeType {
			t.Errorf("chunk %d: uri/mime not repeated: %+v", i, chunk)
		}
		if len(chunk.Text) != chunkSize {
			t.Errorf("chunk %d: size = %d, want %d", i, len(chunk.Text), chunkSize)
		}
		rebuilt.WriteString(chunk.Text)
	}
	if rebuilt.String() != payload {
		t.Error("concatenation does not reproduce the original")
	}
}

func TestStreamContentBlobChunks(t *testing.T) {
	const chunkSize = MinChunkSize
	blob := strings.Repeat("QUJD", chunkSize/2) // base64-ish filler, 2x budget
	rc := ResourceContent{URI: "img://photo", MimeType: "image/png", Blob: blob}

	chunks := collectChunks(t, rc, chunkSize)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if chunk.Text != "" {
			t.Errorf("chunk %d: blob content must stay in blob field", i)
		}
		rebuilt.WriteString(chunk.Blob)
	}
	if rebuilt.String() != blob {
		t.Error("concatenated blob differs from original")
	}
	if c := chunks[1].Complete; c == nil || !*c {
		t.Error("terminal chunk must carry complete=true")
	}
}

func TestStreamContentUnevenTail(t *testing.T) {
	const chunkSize = MinChunkSize
	payload := strings.Repeat("z", 2*chunkSize+chunkSize/2)
	rc := ResourceContent{URI: "doc://uneven", Text: payload}

	chunks := collectChunks(t, rc, chunkSize)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[2].Text) != chunkSize/2 {
		t.Errorf("tail size = %d, want %d", len(chunks[2].Text), chunkSize/2)
	}
	if c := chunks[2].Complete; c == nil || !*c {
		t.Error("tail must be the terminal chunk")
	}
}

// Content that already carries markers is forwarded untouched, not re-sliced.
func TestStreamContentAlreadyChunked(t *testing.T) {
	idx := 4
	complete := false
	rc := ResourceContent{
		URI:      "doc://prechunked",
		Text:     strings.Repeat("q", 5*MinChunkSize),
		Chunk:    &idx,
		Complete: &complete,
	}

	chunks := collectChunks(t, rc, MinChunkSize)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if got := chunks[0]; got.Chunk == nil || *got.Chunk != 4 || len(got.Text) != 5*MinChunkSize {
		t.Errorf("pre-chunked content was modified: %+v", got)
	}
}

// Chunk sizes below the floor are raised to it.
func TestStreamContentEnforcesFloor(t *testing.T) {
	payload := strings.Repeat("f", MinChunkSize+MinChunkSize/2)
	rc := ResourceContent{URI: "doc://floor", Text: payload}

	chunks := collectChunks(t, rc, 10)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (floor %d)", len(chunks), MinChunkSize)
	}
	if len(chunks[0].Text) != MinChunkSize {
		t.Errorf("first chunk size = %d, want floor %d", len(chunks[0].Text), MinChunkSize)
	}
}

// The sequence re-slices from the original on every range.
func TestStreamContentRestartable(t *testing.T) {
	payload := strings.Repeat("r", 3*MinChunkSize)
	seq := StreamContent(ResourceContent{URI: "doc://again", Text: payload}, MinChunkSize)

	for pass := range 2 {
		n := 0
		for chunk := range seq {
			if chunk.Chunk == nil || *chunk.Chunk != n {
				t.Fatalf("pass %d chunk %d: bad index %v", pass, n, chunk.Chunk)
			}
			n++
		}
		if n != 3 {
			t.Fatalf("pass %d yielded %d chunks, want 3", pass, n)
		}
	}
}

func TestStreamContentEarlyBreak(t *testing.T) {
	payload := strings.Repeat("e", 4*MinChunkSize)
	seq := StreamContent(ResourceContent{URI: "doc://partial", Text: payload}, MinChunkSize)

	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("consumed %d chunks before break, want 2", n)
	}
}

func TestStreamAll(t *testing.T) {
	small := ResourceContent{URI: "doc://a", Text: "tiny"}
	big := ResourceContent{URI: "doc://b", Text: strings.Repeat("B", 2*MinChunkSize)}
	result := &ResourceReadResult{Contents: []ResourceContent{small, big}}

	var chunks []ResourceContent
	for chunk := range StreamAll(result, MinChunkSize) {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 1 + 2", len(chunks))
	}
	if chunks[0].URI != "doc://a" || chunks[1].URI != "doc://b" || chunks[2].URI != "doc://b" {
		t.Errorf("chunk order wrong: %+v", chunks)
	}
}

func TestStreamAllNil(t *testing.T) {
	n := 0
	for range StreamAll(nil, MinChunkSize) {
		n++
	}
	if n != 0 {
		t.Errorf("nil result yielded %d chunks", n)
	}
}
