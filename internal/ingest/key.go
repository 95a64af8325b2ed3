package ingest

import (
	"fmt"
	"path"
	"strings"
)

// UploadKey is the parsed form of an uploaded object's storage key. Two
// grammars are accepted:
//
//	essays/{essayId}.{ext}                              (legacy, record pre-assigned)
//	{teacherId}/assignments/{assignmentId}/{fileName}   (batch upload)
type UploadKey struct {
	Legacy       bool
	EssayID      string
	TeacherID    string
	AssignmentID string
	FileName     string
}

func ParseUploadKey(key string) (*UploadKey, error) {
	if rest, ok := strings.CutPrefix(key, "essays/"); ok {
		if rest == "" || strings.Contains(rest, "/") {
			return nil, fmt.Errorf("malformed legacy key: %q", key)
		}
		essayID := strings.TrimSuffix(rest, path.Ext(rest))
		if essayID == "" {
			return nil, fmt.Errorf("malformed legacy key: %q", key)
		}
		return &UploadKey{
			Legacy:  true,
			EssayID: essayID,
		}, nil
	}

	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[1] != "assignments" {
		return nil, fmt.Errorf("unrecognized upload key: %q", key)
	}
	if parts[0] == "" || parts[2] == "" || parts[3] == "" {
		return nil, fmt.Errorf("unrecognized upload key: %q", key)
	}

	return &UploadKey{
		TeacherID:    parts[0],
		AssignmentID: parts[2],
		FileName:     parts[3],
	}, nil
}
