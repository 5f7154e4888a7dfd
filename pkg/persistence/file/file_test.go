package file_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/persistence/file"
	"github.com/vanyastaff/nebulav2/pkg/persistence/persistencetest"
	"github.com/vanyastaff/nebulav2/pkg/testutil"
)

func TestFilePersistence(t *testing.T) {
	t.Parallel()

	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return file.NewPersistence("file://" + t.TempDir())
	})
}

func TestFilePersistence_RejectsPathTraversal(t *testing.T) {
	t.Parallel()

	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	def := testutil.Workflow("../escape", nil, nil)
	err := p.WorkflowRepository().Save(ctx, def)
	require.Error(t, err)

	_, err = p.ExecutionRepository().Get(ctx, "a/b")
	require.Error(t, err)
	assert.False(t, persistence.IsExecutionNotFound(err))
}

func TestFilePersistence_HealthCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	require.NoError(t, file.NewPersistence(t.TempDir()).HealthCheck(ctx))
	require.Error(t, file.NewPersistence(t.TempDir()+"/missing").HealthCheck(ctx))
}
