package memory_test

import (
	"testing"

	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/persistence/memory"
	"github.com/vanyastaff/nebulav2/pkg/persistence/persistencetest"
)

func TestMemoryPersistence(t *testing.T) {
	t.Parallel()

	persistencetest.Run(t, func(_ *testing.T) persistence.Persistence {
		return memory.NewPersistence()
	})
}
