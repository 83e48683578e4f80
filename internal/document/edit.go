package document

import (
	"fmt"
	"strings"

	"github.com/dshills/lspwire/internal/protocol"
)

// applyChanges applies content change events to a document snapshot in
// order. A nil range means full-document replacement. Ranged edits use
// LSP positions, whose character offsets count UTF-16 code units.
func applyChanges(content string, changes []protocol.TextDocumentContentChangeEvent) (string, error) {
	for _, ch := range changes {
		if ch.Range == nil {
			content = ch.Text
			continue
		}
		start := positionToByteOffset(content, ch.Range.Start)
		end := positionToByteOffset(content, ch.Range.End)
		if start > end {
			return "", fmt.Errorf("inverted edit range %d..%d", start, end)
		}
		content = content[:start] + ch.Text + content[end:]
	}
	return content, nil
}

// positionToByteOffset converts an LSP position to a byte offset,
// clamping positions past the end of a line or the document.
func positionToByteOffset(content string, pos protocol.Position) int {
	offset := 0
	for line := 0; line < pos.Line; line++ {
		idx := strings.IndexByte(content[offset:], '\n')
		if idx < 0 {
			return len(content)
		}
		offset += idx + 1
	}

	rest := content[offset:]
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[:idx]
	}
	return offset + utf16ToByteOffset(rest, pos.Character)
}

// utf16ToByteOffset converts a UTF-16 code unit offset to a byte
// offset within a single line.
func utf16ToByteOffset(s string, utf16Off int) int {
	if utf16Off <= 0 {
		return 0
	}

	count := 0
	for i, r := range s {
		if count >= utf16Off {
			return i
		}
		if r >= 0x10000 {
			count += 2 // surrogate pair
		} else {
			count++
		}
	}
	return len(s)
}
