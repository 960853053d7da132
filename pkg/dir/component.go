package dir

import (
	"github.com/davidthor/orochestra/pkg/model"
	"github.com/davidthor/orochestra/pkg/requirements"
)

// ComponentModelFor resolves the concrete component model for a named
// child given its accumulated requirements. It also returns, per
// required model, the
// selection used to satisfy it, for the Composition Instantiator to wire
// ports against.
func (d *DIR) ComponentModelFor(name string, req *requirements.Requirements) (*model.Model, map[string]Selection, error) {
	serviceSelections := make(map[string]Selection, len(req.Models))

	if sel, ok := d.explicit[requirements.NameKey(name).String()]; ok {
		if comp, isConcrete := sel.ConcreteModel(); isConcrete {
			for _, m := range req.Models {
				serviceSelections[m.Name] = requirements.ComponentSelection(comp)
			}
			return comp, serviceSelections, nil
		}
	}

	var concrete []*model.Model
	for _, m := range req.Models {
		// A data-service requirement is inherently abstract: with nothing
		// explicit bound to it, it names an interface to be fulfilled, not
		// a thing to instantiate as itself. Any other kind defaults to
		// using the required model directly.
		chosen := requirements.Selection{}
		if m.Kind != model.KindDataService {
			chosen = requirements.ComponentSelection(m)
		}
		if sel, ok := d.explicit[requirements.ModelKey(m).String()]; ok {
			chosen = sel
		}
		serviceSelections[m.Name] = chosen

		if comp, ok := chosen.ConcreteModel(); ok {
			merged, err := requirements.MergeModelSets(concrete, []*model.Model{comp}, name)
			if err != nil {
				return nil, nil, err
			}
			concrete = merged
		}
	}

	if len(concrete) >= 1 {
		return concrete[0], serviceSelections, nil
	}

	proxy := model.NewProxy(name, req.Models)
	return proxy, serviceSelections, nil
}
