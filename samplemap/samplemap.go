// Package samplemap reads the two-column table that links study sample IDs
// to the sample IDs used by a reference genotype panel.
package samplemap

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/carbocation/pfx"
)

// Read parses a tab-separated mapping file whose first column is the
// reference-panel sample ID and whose second column is the study sample ID.
// The returned map is keyed by study sample ID. Any line with other than two
// fields is an error.
func Read(filename string) (map[string]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	out := make(map[string]string)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if x := len(fields); x != 2 {
			return nil, fmt.Errorf("detected %d columns instead of 2 for this line: %s", x, line)
		}

		out[fields[1]] = fields[0]
	}
	if err := scanner.Err(); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}
