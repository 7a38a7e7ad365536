// Package fs implements a durable flow store on top of the abstract file
// storage service, usable with the local file system, embed or any cloud
// scheme afs supports.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"

	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/dao"
	"github.com/flowgrid/flowgrid/service/dao/criteria"
)

// Service persists one JSON document per flow instance under a base path.
// The package-level mutex serialises writers so the version check-and-
// increment stays atomic for a single engine process; multi-writer setups
// need a backend with native compare-and-swap.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ dao.Service[string, model.FlowDefinition] = (*Service)(nil)

// New creates a filesystem flow store rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fsService := afs.New()
	ctx := context.Background()
	exists, _ := fsService.Exists(ctx, basePath)
	if !exists {
		if err := fsService.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	basePath = url.Normalize(basePath, file.Scheme)
	return &Service{basePath: basePath, fs: fsService}, nil
}

// Save writes the flow document after verifying the stored version matches.
func (s *Service) Save(ctx context.Context, flow *model.FlowDefinition) error {
	if flow == nil {
		return dao.ErrNilEntity
	}
	if flow.FlowID == "" {
		return dao.ErrInvalidID
	}

	// Snapshot under the flow's own lock; marshalling the live instance
	// would read the blackboard while a sibling step writes it.
	snapshot := flow.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.load(ctx, flow.FlowID)
	if err != nil && err != dao.ErrNotFound {
		return err
	}
	if stored != nil && stored.Version != snapshot.Version {
		return dao.ErrVersionConflict
	}
	snapshot.Version++

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}
	filePath := s.flowPath(flow.FlowID)
	if err = s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save flow to %s: %w", filePath, err)
	}
	flow.SetVersion(snapshot.Version)
	return nil
}

// Load retrieves a flow document by id.
func (s *Service) Load(ctx context.Context, id string) (*model.FlowDefinition, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*model.FlowDefinition, error) {
	filePath := s.flowPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check flow file: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	flow := &model.FlowDefinition{}
	if err = json.Unmarshal(data, flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow %s: %w", id, err)
	}
	return flow, nil
}

// Delete removes a flow document.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.flowPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check flow file: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err = s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete flow file: %w", err)
	}
	return nil
}

// List scans the base path and returns matching flows, newest first.
// Unreadable documents are skipped so one corrupt file cannot take down a
// recovery sweep.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*model.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list flow files: %w", err)
	}

	var flows []*model.FlowDefinition
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		flow := &model.FlowDefinition{}
		if err = json.Unmarshal(data, flow); err != nil {
			continue
		}
		if !criteria.Matches(flow, parameters) {
			continue
		}
		flows = append(flows, flow)
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].CreatedAt.After(flows[j].CreatedAt) })
	return criteria.Paginate(flows, parameters), nil
}

func (s *Service) flowPath(id string) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.json", id))
}
