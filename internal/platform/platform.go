// Package platform talks to the learning platform's course management command.
//
// Manager is the capability the pipeline depends on; Command implements it by
// running the command as a subprocess.
package platform

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// Manager lists courses and exports a single course.
type Manager interface {
	// ListCourseIDs returns every course id known to the platform, in the
	// order the platform reports them. An empty list is not an error.
	ListCourseIDs(ctx context.Context) ([]string, error)

	// ExportCourse writes the content export of courseID to dest.
	ExportCourse(ctx context.Context, courseID, dest string) error
}

// maxLine bounds a single line of list output.
const maxLine = 1024 * 1024

// ParseCourseIDs splits list output into ids: one per line, surrounding
// whitespace trimmed, blank lines skipped, order preserved. Output it cannot
// read to the end is an error, never a shorter list.
func ParseCourseIDs(out []byte) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "platform: read course list after %d ids", len(ids))
	}
	return ids, nil
}
