package mcp

import "iter"

// StreamContent turns one resource content item into a lazy sequence of
// chunk records. Content at or under chunkSize, and content that already
// carries chunk markers, passes through as a single terminal item. Larger
// payloads are sliced into runs of chunkSize bytes; every chunk repeats the
// URI and mime type, carries its 0-based index, and all but the terminal
// chunk are marked complete:false. Concatenating the chunk payloads in
// order reproduces the original content byte-for-byte.
//
// The sequence is restartable: each range re-slices from the original item.
func StreamContent(rc ResourceContent, chunkSize int) iter.Seq[ResourceContent] {
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}

	return func(yield func(ResourceContent) bool) {
		payload := rc.payload()
		if rc.Chunked() || len(payload) <= chunkSize {
			yield(rc)
			return
		}

		isText := rc.Text != ""
		total := (len(payload) + chunkSize - 1) / chunkSize

		for i := 0; i < total; i++ {
			start := i * chunkSize
			end := start + chunkSize
			if end > len(payload) {
				end = len(payload)
			}

			idx := i
			complete := i == total-1
			chunk := ResourceContent{
				URI:      rc.URI,
				MimeType: rc.MimeType,
				Chunk:    &idx,
				Complete: &complete,
			}
			if isText {
				chunk.Text = payload[start:end]
			} else {
				chunk.Blob = payload[start:end]
			}

			if !yield(chunk) {
				return
			}
		}
	}
}

// StreamAll flattens a resource read result into one chunk sequence,
// streaming each content item in order.
func StreamAll(res *ResourceReadResult, chunkSize int) iter.Seq[ResourceContent] {
	return func(yield func(ResourceContent) bool) {
		if res == nil {
			return
		}
		for _, rc := range res.Contents {
			for chunk := range StreamContent(rc, chunkSize) {
				if !yield(chunk) {
					return
				}
			}
		}
	}
}
