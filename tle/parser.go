package tle

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/signalsfoundry/groundpass/internal/logging"
)

// Parse reads three-line blocks (name, line 1, line 2) from r. Lines that do not
// line up into a block are skipped one at a time until the next block starts;
// blocks that fail Validate are skipped whole. Both cases are logged at warn.
func Parse(ctx context.Context, r io.Reader, log logging.Logger) ([]Entry, error) {
	if log == nil {
		log = logging.Noop()
	}
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var entries []Entry
	for i := 0; i+2 < len(lines); {
		name := strings.TrimSpace(lines[i])
		l1 := strings.TrimSpace(lines[i+1])
		l2 := strings.TrimSpace(lines[i+2])

		if !strings.HasPrefix(l1, "1 ") || !strings.HasPrefix(l2, "2 ") {
			log.Warn(ctx, "skipping line outside a TLE block", logging.Int("line_index", i), logging.String("text", name))
			i++
			continue
		}
		i += 3

		if err := Validate(l1, l2); err != nil {
			log.Warn(ctx, "skipping invalid TLE", logging.String("name", name), logging.Err(err))
			continue
		}
		id, _ := catalogNumber(l1)
		epoch, _ := ParseEpoch(strings.TrimSpace(l1[18:32]))
		entries = append(entries, Entry{
			NoradID: id,
			Name:    name,
			Epoch:   epoch,
			Line1:   l1,
			Line2:   l2,
		})
	}
	return entries, nil
}
