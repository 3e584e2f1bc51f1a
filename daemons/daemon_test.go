package daemons

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/l3montree-dev/devguard-policy/database/models"
	"github.com/l3montree-dev/devguard-policy/dtos"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memoryConfigService struct {
	values map[string][]byte
}

func (m *memoryConfigService) GetJSONConfig(key string, v any) error {
	b, ok := m.values[key]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	return json.Unmarshal(b, v)
}

func (m *memoryConfigService) SetJSONConfig(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if m.values == nil {
		m.values = map[string][]byte{}
	}
	m.values[key] = b
	return nil
}

type alwaysLeader struct{}

func (alwaysLeader) IsLeader() bool { return true }

type fakeCommentService struct {
	errs  []error
	calls int
}

func (f *fakeCommentService) Execute(ctx context.Context, event dtos.GenerateCommentEvent) error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type rootGroups struct {
	shared.NamespaceRepository
	namespaces []models.Namespace
}

func (r rootGroups) RootGroups(ctx context.Context) ([]models.Namespace, error) {
	return r.namespaces, nil
}

// limitedLoader reports limit_reached once per model and finishes on the next call.
type limitedLoader struct {
	received map[dtos.AnalyticsModel][]dtos.LoaderContext
}

func (l *limitedLoader) Execute(ctx context.Context, params shared.DataLoaderParams) (dtos.LoaderResult, error) {
	if l.received == nil {
		l.received = map[dtos.AnalyticsModel][]dtos.LoaderContext{}
	}
	l.received[params.Model] = append(l.received[params.Model], params.Context)
	if params.Context.Cursor(1) == nil {
		c := dtos.LoaderContext{ProcessedRecords: 1}
		c.SetCursor(1, dtos.LoaderCursor{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001")})
		return dtos.LoaderResult{Reason: dtos.ReasonLimitReached, Context: c}, nil
	}
	return dtos.LoaderResult{Reason: dtos.ReasonModelProcessed, Context: dtos.LoaderContext{ProcessedRecords: 2}}, nil
}

func TestCommentWorker(t *testing.T) {
	t.Run("should retry when the lease is taken", func(t *testing.T) {
		service := &fakeCommentService{errs: []error{shared.LockTimeoutError{Key: "policy_violation_comment:1"}}}
		worker := NewCommentWorker(service, alwaysLeader{})
		worker.retryDelay = time.Millisecond

		err := worker.Handle(context.Background(), dtos.GenerateCommentEvent{})
		require.NoError(t, err)
		assert.Equal(t, 2, service.calls)
	})

	t.Run("should give up after the maximum number of retries", func(t *testing.T) {
		lockErr := shared.LockTimeoutError{Key: "k"}
		service := &fakeCommentService{errs: []error{lockErr, lockErr, lockErr, lockErr}}
		worker := NewCommentWorker(service, alwaysLeader{})
		worker.retryDelay = time.Millisecond

		err := worker.Handle(context.Background(), dtos.GenerateCommentEvent{})
		assert.ErrorIs(t, err, shared.ErrLockTimeout)
		assert.Equal(t, maxCommentRetries, service.calls)
	})

	t.Run("should not retry other errors", func(t *testing.T) {
		service := &fakeCommentService{errs: []error{errors.New("gitlab is down")}}
		worker := NewCommentWorker(service, alwaysLeader{})

		err := worker.Handle(context.Background(), dtos.GenerateCommentEvent{})
		assert.Error(t, err)
		assert.Equal(t, 1, service.calls)
	})
}

func TestLoadCycleAnalytics(t *testing.T) {
	t.Run("should persist the loader context and resume from it on the next run", func(t *testing.T) {
		namespace := models.Namespace{Model: models.Model{ID: uuid.New()}, Path: "group"}
		configService := &memoryConfigService{}
		loader := &limitedLoader{}
		runner := &DaemonRunner{
			configService:       configService,
			namespaceRepository: rootGroups{namespaces: []models.Namespace{namespace}},
			dataLoader:          loader,
		}

		done, err := runner.LoadCycleAnalytics(context.Background())
		require.NoError(t, err)
		assert.False(t, done)

		done, err = runner.LoadCycleAnalytics(context.Background())
		require.NoError(t, err)
		assert.True(t, done)

		issueContexts := loader.received[dtos.AnalyticsModelIssue]
		require.Len(t, issueContexts, 2)
		assert.Nil(t, issueContexts[0].Cursor(1))
		require.NotNil(t, issueContexts[1].Cursor(1))
		assert.Equal(t, 1, issueContexts[1].ProcessedRecords)
	})
}

func TestShouldRun(t *testing.T) {
	t.Run("should run when there is no previous run", func(t *testing.T) {
		assert.True(t, shouldRun(&memoryConfigService{}, "job", time.Hour))
	})

	t.Run("should not run again within the interval", func(t *testing.T) {
		configService := &memoryConfigService{}
		require.NoError(t, markRun(configService, "job"))
		assert.False(t, shouldRun(configService, "job", time.Hour))
	})
}

type projectsByID map[uuid.UUID]models.Project

func (p projectsByID) Read(id uuid.UUID) (models.Project, error) {
	project, ok := p[id]
	if !ok {
		return models.Project{}, gorm.ErrRecordNotFound
	}
	return project, nil
}

func (p projectsByID) ReadByFullPath(ctx context.Context, fullPath string) (models.Project, error) {
	return models.Project{}, gorm.ErrRecordNotFound
}

func (p projectsByID) FindByNamespaces(ctx context.Context, namespaceIDs []uuid.UUID) ([]models.Project, error) {
	return nil, nil
}

func (p projectsByID) All() ([]models.Project, error) {
	return nil, nil
}

type recordingPolicySync struct {
	synced []uuid.UUID
}

func (r *recordingPolicySync) SyncProject(ctx context.Context, project models.Project) error {
	r.synced = append(r.synced, project.ID)
	return nil
}

func TestHandlePolicyChange(t *testing.T) {
	project := models.Project{Model: models.Model{ID: uuid.New()}, FullPath: "group/app"}

	t.Run("should sync the policies and merge request rules of the changed project", func(t *testing.T) {
		policySync := &recordingPolicySync{}
		runner := &DaemonRunner{
			projectRepository: projectsByID{project.ID: project},
			policySyncService: policySync,
		}

		err := runner.HandlePolicyChange(context.Background(), shared.PayloadOf(dtos.PolicyChangedEvent{ProjectID: project.ID}))
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{project.ID}, policySync.synced)
	})

	t.Run("should fail for unknown projects", func(t *testing.T) {
		policySync := &recordingPolicySync{}
		runner := &DaemonRunner{
			projectRepository: projectsByID{},
			policySyncService: policySync,
		}

		err := runner.HandlePolicyChange(context.Background(), shared.PayloadOf(dtos.PolicyChangedEvent{ProjectID: uuid.New()}))
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
		assert.Empty(t, policySync.synced)
	})
}
