package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/studyforge/internal/domain"
)

// JobIndex is the slice of the job store the sink needs.
type JobIndex interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	RecordArtifact(ctx context.Context, jobID string, artifact domain.Artifact) error
	FindArtifact(ctx context.Context, jobID, topicSlug string) (*domain.Artifact, error)
}

// PutRequest stores the content for one topic.
type PutRequest struct {
	JobID       string
	OwnerID     string
	WriterToken string
	Ordinal     int
	TopicSlug   string
	Content     []byte
}

// FileRequest stores a descriptive file at the notebook root.
type FileRequest struct {
	JobID       string
	OwnerID     string
	WriterToken string
	Name        string
	Content     []byte
}

// Sink writes notebook content under {owner}/notebooks/{job}/ and keeps the
// artifact index in the job store.
type Sink struct {
	objects ObjectStore
	index   JobIndex
	now     func() time.Time
}

// NewSink creates a sink over objects and index.
func NewSink(objects ObjectStore, index JobIndex) *Sink {
	return &Sink{objects: objects, index: index, now: time.Now}
}

// NotebookPrefix is the key prefix for a notebook, with trailing slash.
func NotebookPrefix(ownerID, jobID string) string {
	return ownerID + "/notebooks/" + jobID + "/"
}

// SectionPath is the key for a topic's content.
func SectionPath(ownerID, jobID string, ordinal int, slug string) string {
	return fmt.Sprintf("%ssections/%02d_%s", NotebookPrefix(ownerID, jobID), ordinal, slug)
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\")
}

func checkIDs(ownerID, jobID string) error {
	if !validSegment(ownerID) || !validSegment(jobID) {
		return fmt.Errorf("%w: invalid owner or job id", domain.ErrInvalidInput)
	}
	return nil
}

func hashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// fence loads the job and rejects writers that no longer own it.
func (s *Sink) fence(ctx context.Context, jobID, ownerID, token string) error {
	job, err := s.index.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.OwnerID != ownerID {
		return fmt.Errorf("%w: job %s belongs to another owner", domain.ErrForbidden, jobID)
	}
	return job.CheckWriter(token)
}

// Put stores a topic's content. Re-putting identical content for the same job
// and slug returns the recorded artifact without rewriting the object.
func (s *Sink) Put(ctx context.Context, req PutRequest) (domain.Artifact, error) {
	if err := checkIDs(req.OwnerID, req.JobID); err != nil {
		return domain.Artifact{}, err
	}
	if !domain.ValidSlug(req.TopicSlug) || req.Ordinal < 0 {
		return domain.Artifact{}, fmt.Errorf("%w: invalid topic slug or ordinal", domain.ErrInvalidInput)
	}
	if err := s.fence(ctx, req.JobID, req.OwnerID, req.WriterToken); err != nil {
		return domain.Artifact{}, fmt.Errorf("store %s: %w", req.TopicSlug, err)
	}

	key := SectionPath(req.OwnerID, req.JobID, req.Ordinal, req.TopicSlug)
	hash := hashContent(req.Content)

	existing, err := s.index.FindArtifact(ctx, req.JobID, req.TopicSlug)
	switch {
	case err == nil && existing.Hash == hash && existing.Path == key:
		slog.Debug("artifact unchanged, skipping write", "job_id", req.JobID, "topic", req.TopicSlug)
		return *existing, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return domain.Artifact{}, fmt.Errorf("lookup artifact %s: %w", req.TopicSlug, err)
	}

	if err := s.objects.Write(ctx, key, req.Content, ""); err != nil {
		return domain.Artifact{}, fmt.Errorf("write %s: %w", key, err)
	}
	a := domain.Artifact{
		TopicSlug: req.TopicSlug,
		Ordinal:   req.Ordinal,
		Path:      key,
		Size:      int64(len(req.Content)),
		Hash:      hash,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.index.RecordArtifact(ctx, req.JobID, a); err != nil {
		return domain.Artifact{}, fmt.Errorf("index %s: %w", req.TopicSlug, err)
	}
	return a, nil
}

// PutFile writes a descriptive file such as README.md at the notebook root.
func (s *Sink) PutFile(ctx context.Context, req FileRequest) (string, error) {
	if err := checkIDs(req.OwnerID, req.JobID); err != nil {
		return "", err
	}
	if !validSegment(req.Name) {
		return "", fmt.Errorf("%w: invalid file name %q", domain.ErrInvalidInput, req.Name)
	}
	if err := s.fence(ctx, req.JobID, req.OwnerID, req.WriterToken); err != nil {
		return "", fmt.Errorf("store %s: %w", req.Name, err)
	}
	key := NotebookPrefix(req.OwnerID, req.JobID) + req.Name
	if err := s.objects.Write(ctx, key, req.Content, ""); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	return key, nil
}

// List returns the job's artifacts in plan order.
func (s *Sink) List(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	job, err := s.index.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := append([]domain.Artifact(nil), job.Artifacts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

// resolve maps a notebook-relative or full key to a full key inside the notebook.
func resolve(ownerID, jobID, p string) (string, error) {
	if err := checkIDs(ownerID, jobID); err != nil {
		return "", err
	}
	prefix := NotebookPrefix(ownerID, jobID)
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if !strings.HasPrefix(p, prefix) {
		p = prefix + p
	}
	k, err := cleanKey(p)
	if err != nil || !strings.HasPrefix(k, prefix) || k+"/" == prefix {
		return "", fmt.Errorf("%w: invalid path %q", domain.ErrInvalidInput, p)
	}
	return k, nil
}

// Read returns a file from the notebook.
func (s *Sink) Read(ctx context.Context, ownerID, jobID, p string) ([]byte, error) {
	key, err := resolve(ownerID, jobID, p)
	if err != nil {
		return nil, err
	}
	return s.objects.Read(ctx, key)
}

// SignedURL returns a download URL for a notebook file.
func (s *Sink) SignedURL(ctx context.Context, ownerID, jobID, p string, ttl time.Duration) (string, error) {
	key, err := resolve(ownerID, jobID, p)
	if err != nil {
		return "", err
	}
	return s.objects.SignedURL(ctx, key, ttl)
}

// DeleteNotebook removes every object of the notebook.
func (s *Sink) DeleteNotebook(ctx context.Context, ownerID, jobID string) error {
	if err := checkIDs(ownerID, jobID); err != nil {
		return err
	}
	return s.objects.DeletePrefix(ctx, NotebookPrefix(ownerID, jobID))
}

// Node is an entry in a notebook tree.
type Node struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Type     string    `json:"type"`
	Size     int64     `json:"size,omitempty"`
	Updated  time.Time `json:"updated,omitempty"`
	Children []*Node   `json:"children,omitempty"`
}

// Node types.
const (
	NodeFolder = "folder"
	NodeFile   = "file"
)

// Tree returns the nested folder/file listing of a notebook. Paths are
// relative to the notebook root.
func (s *Sink) Tree(ctx context.Context, ownerID, jobID string) (*Node, error) {
	if err := checkIDs(ownerID, jobID); err != nil {
		return nil, err
	}
	prefix := NotebookPrefix(ownerID, jobID)
	objs, err := s.objects.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	root := &Node{Name: jobID, Path: "", Type: NodeFolder, Children: []*Node{}}
	for _, o := range objs {
		rel := strings.TrimPrefix(o.Key, prefix)
		parts := strings.Split(rel, "/")
		cur := root
		for i, part := range parts {
			last := i == len(parts)-1
			child := findChild(cur, part)
			if child == nil {
				child = &Node{Name: part, Path: path.Join(parts[:i+1]...), Type: NodeFolder}
				if last {
					child.Type = NodeFile
					child.Size = o.Size
					child.Updated = o.Updated
				}
				cur.Children = append(cur.Children, child)
			}
			cur = child
		}
	}
	sortTree(root)
	return root, nil
}

func findChild(n *Node, name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// sortTree puts folders first, then orders by name.
func sortTree(n *Node) {
	sort.Slice(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Type != b.Type {
			return a.Type == NodeFolder
		}
		return a.Name < b.Name
	})
	for _, c := range n.Children {
		sortTree(c)
	}
}

// Files lists one directory level of a notebook under prefix.
func (s *Sink) Files(ctx context.Context, ownerID, jobID, prefix string) ([]*Node, error) {
	tree, err := s.Tree(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	cur := tree
	if prefix != "" {
		for _, part := range strings.Split(prefix, "/") {
			cur = findChild(cur, part)
			if cur == nil || cur.Type != NodeFolder {
				return nil, fmt.Errorf("folder %q: %w", prefix, domain.ErrNotFound)
			}
		}
	}
	out := make([]*Node, 0, len(cur.Children))
	for _, c := range cur.Children {
		flat := *c
		flat.Children = nil
		out = append(out, &flat)
	}
	return out, nil
}
