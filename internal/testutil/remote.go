package testutil

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/remote/wire"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected failure")

// Commit is one batch the FakeRemote received, successful or not.
type Commit struct {
	Writes []remote.Write
	Err    error
}

// FakeRemote is an in-memory document store implementing remote.BatchWriter and
// remote.SurveyReader, with failure injection.
//
// Documents are merged field by field. Deleting a document deletes every document
// below its path, like the production store.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeRemote struct {
	mu        sync.Mutex
	codec     *wire.Codec
	docs      map[string]map[string]any
	commits   []Commit
	failNext  []error
	failPaths map[string]error
}

var (
	_ remote.BatchWriter  = (*FakeRemote)(nil)
	_ remote.SurveyReader = (*FakeRemote)(nil)
)

// NewFakeRemote creates an empty remote.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		codec:     remote.NewCodec(),
		docs:      make(map[string]map[string]any),
		failPaths: make(map[string]error),
	}
}

// FailNextCommit makes the next Commit fail with err (ErrInjected when nil).
// Calls queue up: n calls fail the next n commits.
func (r *FakeRemote) FailNextCommit(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	r.failNext = append(r.failNext, err)
}

// FailPath makes every commit that writes path fail until ClearFailures.
func (r *FakeRemote) FailPath(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	r.failPaths[path] = err
}

// ClearFailures removes all injected failures.
func (r *FakeRemote) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = nil
	r.failPaths = make(map[string]error)
}

// Commit applies writes atomically.
func (r *FakeRemote) Commit(ctx context.Context, writes []remote.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	batch := slices.Clone(writes)
	if err := r.injectedFailure(writes); err != nil {
		r.commits = append(r.commits, Commit{Writes: batch, Err: err})
		return err
	}

	for _, w := range writes {
		switch w.Op {
		case remote.OpMerge:
			doc, ok := r.docs[w.Path]
			if !ok {
				doc = make(map[string]any, len(w.Data))
				r.docs[w.Path] = doc
			}
			maps.Copy(doc, w.Data)
		case remote.OpDelete:
			for p := range r.docs {
				if p == w.Path || strings.HasPrefix(p, w.Path+"/") {
					delete(r.docs, p)
				}
			}
		}
	}
	r.commits = append(r.commits, Commit{Writes: batch})
	return nil
}

func (r *FakeRemote) injectedFailure(writes []remote.Write) error {
	if len(r.failNext) > 0 {
		err := r.failNext[0]
		r.failNext = r.failNext[1:]
		return err
	}
	for _, w := range writes {
		if err, ok := r.failPaths[w.Path]; ok {
			return fmt.Errorf("write %s: %w", w.Path, err)
		}
		if w.Op != remote.OpMerge && w.Op != remote.OpDelete {
			return fmt.Errorf("write %s: unsupported op %q", w.Path, w.Op)
		}
	}
	return nil
}

// Doc returns the document at path.
func (r *FakeRemote) Doc(path string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[path]
	if !ok {
		return nil, false
	}
	return maps.Clone(doc), true
}

// Paths returns every document path in sorted order.
func (r *FakeRemote) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.docs))
}

// Commits returns every commit received so far, including failed ones.
func (r *FakeRemote) Commits() []Commit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.commits)
}

// SeedSurvey publishes a survey and its locations of interest.
func (r *FakeRemote) SeedSurvey(survey model.Survey, lois ...model.LocationOfInterest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.codec.Encode(survey)
	if err != nil {
		return err
	}
	r.docs[model.SurveyDocumentPath(survey.ID)] = doc
	for _, loi := range lois {
		doc, err := r.codec.Encode(loi)
		if err != nil {
			return err
		}
		r.docs[model.LOIDocumentPath(survey.ID, loi.ID)] = doc
	}
	return nil
}

// FetchSurvey decodes the survey document.
func (r *FakeRemote) FetchSurvey(ctx context.Context, surveyID string) (model.Survey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[model.SurveyDocumentPath(surveyID)]
	if !ok {
		return model.Survey{}, fmt.Errorf("survey %s not found", surveyID)
	}
	var survey model.Survey
	if err := r.codec.Decode(doc, &survey); err != nil {
		return model.Survey{}, err
	}
	return survey, nil
}

// FetchLocationsOfInterest decodes every location of interest document of a survey.
func (r *FakeRemote) FetchLocationsOfInterest(ctx context.Context, surveyID string) ([]model.LocationOfInterest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := model.SurveyDocumentPath(surveyID) + "/lois/"
	var lois []model.LocationOfInterest
	for _, p := range slices.Sorted(maps.Keys(r.docs)) {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		var loi model.LocationOfInterest
		if err := r.codec.Decode(r.docs[p], &loi); err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		loi.State = model.EntityStateDefault
		lois = append(lois, loi)
	}
	return lois, nil
}

// FakeBlobStore is an in-memory remote.BlobStore with failure injection.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeBlobStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	attempts []string
	fail     map[string]error
}

var _ remote.BlobStore = (*FakeBlobStore)(nil)

// NewFakeBlobStore creates an empty blob store.
func NewFakeBlobStore() *FakeBlobStore {
	return &FakeBlobStore{
		objects: make(map[string][]byte),
		fail:    make(map[string]error),
	}
}

// FailUpload makes uploads to remotePath fail with err (ErrInjected when nil).
func (b *FakeBlobStore) FailUpload(remotePath string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	b.fail[remotePath] = err
}

// ClearFailures removes all injected failures.
func (b *FakeBlobStore) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = make(map[string]error)
}

// Upload reads localPath and stores its bytes under remotePath.
func (b *FakeBlobStore) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts = append(b.attempts, remotePath)
	if err, ok := b.fail[remotePath]; ok {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	b.objects[remotePath] = data
	return nil
}

// Object returns the bytes stored under remotePath.
func (b *FakeBlobStore) Object(remotePath string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[remotePath]
	return data, ok
}

// Objects returns the stored object paths in sorted order.
func (b *FakeBlobStore) Objects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.objects))
}

// Attempts returns every remote path an upload was attempted for, in call order.
func (b *FakeBlobStore) Attempts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.attempts)
}
