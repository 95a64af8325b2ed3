// Package ingest unpacks uploaded objects into pending essay records and
// work items.
package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"essaypipe/internal/dispatch"
	"essaypipe/internal/extract"
	"essaypipe/internal/models"
	"essaypipe/internal/queue"
	"essaypipe/internal/resolve"
	"essaypipe/internal/storage"
)

// EssayStore is the slice of the essay repository ingestion needs.
type EssayStore interface {
	Create(ctx context.Context, essay *models.Essay) error
	GetByEssayID(ctx context.Context, essayID string) (*models.Essay, error)
}

// Result counts what one uploaded object produced.
type Result struct {
	Ingested int
	Skipped  int
}

type Unpacker interface {
	HandleObjectCreated(ctx context.Context, event models.ObjectCreatedEvent) (*Result, error)
}

type unpacker struct {
	essays      EssayStore
	resolver    resolve.Resolver
	blobs       storage.BlobStore
	dispatcher  dispatch.Dispatcher
	textExts    map[string]struct{}
	archiveExts map[string]struct{}
	logger      zerolog.Logger
}

func NewUnpacker(
	essays EssayStore,
	resolver resolve.Resolver,
	blobs storage.BlobStore,
	dispatcher dispatch.Dispatcher,
	textExtensions, archiveExtensions []string,
	logger zerolog.Logger,
) Unpacker {
	return &unpacker{
		essays:      essays,
		resolver:    resolver,
		blobs:       blobs,
		dispatcher:  dispatcher,
		textExts:    extensionSet(textExtensions),
		archiveExts: extensionSet(archiveExtensions),
		logger:      logger,
	}
}

func extensionSet(extensions []string) map[string]struct{} {
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return set
}

// HandleObjectCreated processes one upload notification. Errors returned are
// whole-object failures; per-essay and per-member failures are logged and
// counted as skipped so the rest of the object still fans out.
func (u *unpacker) HandleObjectCreated(ctx context.Context, event models.ObjectCreatedEvent) (*Result, error) {
	key, err := ParseUploadKey(event.Key)
	if err != nil {
		return nil, queue.Permanent(err)
	}

	if key.Legacy {
		return u.handleLegacy(ctx, key)
	}

	data, err := u.blobs.Get(ctx, event.Key)
	if err != nil {
		if err == storage.ErrObjectNotFound {
			return nil, queue.Permanent(fmt.Errorf("uploaded object vanished: %s", event.Key))
		}
		return nil, fmt.Errorf("failed to download upload %s: %w", event.Key, err)
	}

	ext := strings.ToLower(path.Ext(key.FileName))
	if _, ok := u.archiveExts[ext]; ok {
		return u.unpackArchive(ctx, key, data)
	}
	if _, ok := u.textExts[ext]; ok {
		result := &Result{}
		if u.ingestEssay(ctx, key.TeacherID, key.AssignmentID, string(data)) {
			result.Ingested++
		} else {
			result.Skipped++
		}
		return result, nil
	}

	return nil, queue.Permanent(fmt.Errorf("unsupported upload extension %q in key %s", ext, event.Key))
}

// handleLegacy covers pre-assigned essay ids: the record already exists and
// only the work item is missing.
func (u *unpacker) handleLegacy(ctx context.Context, key *UploadKey) (*Result, error) {
	essay, err := u.essays.GetByEssayID(ctx, key.EssayID)
	if err != nil {
		return nil, fmt.Errorf("failed to load essay %s: %w", key.EssayID, err)
	}
	if essay == nil {
		return nil, queue.Permanent(fmt.Errorf("no essay record for legacy key essay %s", key.EssayID))
	}

	item := &models.WorkItem{
		TeacherID:    essay.TeacherID,
		AssignmentID: essay.AssignmentID,
		StudentID:    essay.StudentID,
		EssayID:      essay.EssayID,
	}
	if err := u.dispatcher.DispatchWork(ctx, item); err != nil {
		return nil, err
	}

	return &Result{Ingested: 1}, nil
}

func (u *unpacker) unpackArchive(ctx context.Context, key *UploadKey, data []byte) (*Result, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, queue.Permanent(fmt.Errorf("unreadable archive %s: %w", key.FileName, err))
	}

	result := &Result{}
	for _, member := range reader.File {
		if member.FileInfo().IsDir() {
			continue
		}

		ext := strings.ToLower(path.Ext(member.Name))
		if _, ok := u.textExts[ext]; !ok {
			u.logger.Debug().Str("member", member.Name).Msg("Skipping non-text archive member")
			result.Skipped++
			continue
		}

		text, err := readMember(member)
		if err != nil {
			// One bad member must not sink the rest of the archive.
			u.logger.Warn().Err(err).Str("member", member.Name).Msg("Failed to extract archive member")
			result.Skipped++
			continue
		}

		if u.ingestEssay(ctx, key.TeacherID, key.AssignmentID, text) {
			result.Ingested++
		} else {
			result.Skipped++
		}
	}

	u.logger.Info().
		Str("archive", key.FileName).
		Str("assignment_id", key.AssignmentID).
		Int("ingested", result.Ingested).
		Int("skipped", result.Skipped).
		Msg("Archive unpacked")

	return result, nil
}

func readMember(member *zip.File) (string, error) {
	rc, err := member.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open member: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read member: %w", err)
	}

	return string(data), nil
}

// ingestEssay runs the full per-essay sequence: resolve the author, store
// the canonical text, persist the pending record, then enqueue the work
// item. The record must exist before the message does, or the worker's
// status check would read a missing row.
func (u *unpacker) ingestEssay(ctx context.Context, teacherID, assignmentID, text string) bool {
	studentID := ""
	if name, ok := extract.StudentName(text); ok {
		student, err := u.resolver.Resolve(ctx, teacherID, name)
		if err != nil {
			u.logger.Error().Err(err).
				Str("teacher_id", teacherID).
				Str("candidate_name", name).
				Msg("Failed to resolve student; essay stays unassigned")
		} else {
			studentID = student.StudentID
		}
	}

	essayID := uuid.New().String()
	textRef := "essays/" + essayID + ".txt"

	if err := u.blobs.Put(ctx, textRef, []byte(text)); err != nil {
		u.logger.Error().Err(err).Str("essay_id", essayID).Msg("Failed to store essay text")
		return false
	}

	now := time.Now().UTC()
	essay := &models.Essay{
		AssignmentID: assignmentID,
		EssayID:      essayID,
		TeacherID:    teacherID,
		StudentID:    studentID,
		RawTextRef:   textRef,
		Status:       models.EssayStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.essays.Create(ctx, essay); err != nil {
		u.logger.Error().Err(err).Str("essay_id", essayID).Msg("Failed to persist essay record")
		return false
	}

	item := &models.WorkItem{
		TeacherID:    teacherID,
		AssignmentID: assignmentID,
		StudentID:    studentID,
		EssayID:      essayID,
	}
	if err := u.dispatcher.DispatchWork(ctx, item); err != nil {
		// Record exists but no message: the janitor sweep will re-enqueue
		// after the stuck timeout, so the essay is delayed, not lost.
		u.logger.Error().Err(err).Str("essay_id", essayID).Msg("Failed to dispatch work item")
		return false
	}

	return true
}
