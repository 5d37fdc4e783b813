package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	pipeerrors "github.com/tempofuse/tempofuse/internal/errors"
)

// readJSONLines decodes a JSON-lines collection export into raw records.
// Line order is preserved as arrival order.
func readJSONLines(ctx context.Context, collection string, r io.Reader) ([]RawRecord, error) {
	var records []RawRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var fields map[string]any
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
				fmt.Sprintf("collection %s line %d is not valid JSON", collection, line), err)
		}

		records = append(records, RawRecord{
			Collection: collection,
			ID:         fmt.Sprintf("%s-%06d", collection, line),
			Fields:     fields,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, pipeerrors.NewSourceError(pipeerrors.CodeSourceUnavailable,
			fmt.Sprintf("failed to read collection %s", collection), err)
	}

	return records, nil
}
