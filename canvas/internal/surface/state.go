package surface

import (
	"fmt"
	"time"

	"github.com/hazyhaar/canvas/canvas/internal/component"
	"github.com/hazyhaar/canvas/canvas/internal/datamodel"
)

// State is the persisted record of a surface.
type State struct {
	SurfaceID  string           `json:"surface_id"`
	Name       string           `json:"name,omitempty"`
	Size       Size             `json:"size"`
	Components []component.Node `json:"components"`
	DataModel  any              `json:"data_model"`
	Revision   uint64           `json:"revision"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Summary is the listing view of a surface. ConnectedClients is filled by
// the caller from the hub.
type Summary struct {
	SurfaceID        string    `json:"surface_id"`
	Name             string    `json:"name,omitempty"`
	Size             Size      `json:"size"`
	ComponentCount   int       `json:"components_count"`
	Revision         uint64    `json:"revision"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ConnectedClients int       `json:"connected_clients"`
}

// fromState rebuilds a surface from a persisted record, re-validating the
// component collection.
func fromState(st *State) (*Surface, error) {
	if st.SurfaceID == "" {
		return nil, fmt.Errorf("surface: state without id")
	}
	tree, err := component.Build(st.Components)
	if err != nil {
		return nil, fmt.Errorf("surface %s: components: %w", st.SurfaceID, err)
	}
	var data datamodel.Model
	if st.DataModel == nil {
		data = datamodel.New()
	} else if data, err = datamodel.FromValue(st.DataModel); err != nil {
		return nil, fmt.Errorf("surface %s: data model: %w", st.SurfaceID, err)
	}
	return &Surface{
		id:        st.SurfaceID,
		name:      st.Name,
		size:      st.Size,
		createdAt: st.CreatedAt.UTC(),
		updatedAt: st.UpdatedAt.UTC(),
		revision:  st.Revision,
		tree:      tree,
		data:      data,
	}, nil
}
