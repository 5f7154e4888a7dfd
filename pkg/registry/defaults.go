package registry

import (
	"net/http"

	"github.com/vanyastaff/nebulav2/pkg/actions/condition"
	"github.com/vanyastaff/nebulav2/pkg/actions/httprequest"
	logaction "github.com/vanyastaff/nebulav2/pkg/actions/log"
	"github.com/vanyastaff/nebulav2/pkg/actions/merge"
	switchaction "github.com/vanyastaff/nebulav2/pkg/actions/switch"
	"github.com/vanyastaff/nebulav2/pkg/actions/transform"
	"github.com/vanyastaff/nebulav2/pkg/protocol"
)

// RegisterDefaultActions registers the built-in actions.
func (r *Registry) RegisterDefaultActions(httpClient *http.Client) error {
	defaults := []protocol.ActionFactory{
		logaction.NewActionFactory(),
		transform.NewActionFactory(),
		httprequest.NewActionFactory(httpClient),
		condition.NewActionFactory(),
		switchaction.NewActionFactory(),
		merge.NewActionFactory(),
	}

	for _, factory := range defaults {
		if err := r.RegisterAction(factory); err != nil {
			return err
		}
	}

	return nil
}
