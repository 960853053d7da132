package cli

import (
	"context"
	"path/filepath"

	"github.com/davidthor/orochestra/internal/fixture"
	"github.com/davidthor/orochestra/internal/fixture/gitsync"
	"github.com/davidthor/orochestra/pkg/deploy"
	"github.com/davidthor/orochestra/pkg/dir"
	orerrors "github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/instantiate"
	"github.com/davidthor/orochestra/pkg/merge"
	"github.com/davidthor/orochestra/pkg/plan"
	"github.com/davidthor/orochestra/pkg/trace"
)

// runPipeline loads the catalog and network descriptors at the given
// paths and runs the full network transformation pipeline against them:
// selection resolution, composition instantiation, merge reduction, and
// deployment, in that order. With --git-catalog set, the catalog
// descriptor set is first cloned from that repository and catalogPath is
// read relative to the clone. tr may be nil, in which case no diagnostic
// trace is recorded. Each pass runs inside plan.Atomic, so a pass that
// fails leaves the plan exactly as the previous pass left it.
func runPipeline(ctx context.Context, catalogPath, networkPath string, tr *trace.Trace) (*plan.Plan, error) {
	path := catalogPath
	if gitCatalogFlag != "" {
		if err := gitsync.Sync(ctx, gitCatalogFlag, gitRefFlag, gitDirFlag); err != nil {
			return nil, err
		}
		path = filepath.Join(gitDirFlag, catalogPath)
	}

	cat, err := fixture.LoadCatalog(path)
	if err != nil {
		return nil, err
	}

	net, err := fixture.LoadNetwork(networkPath, cat)
	if err != nil {
		return nil, err
	}

	resolved, err := net.DIR.Resolve(dir.WithTrace(tr))
	if err != nil {
		return nil, err
	}

	p := plan.New()
	if _, err := plan.Atomic(p, func(working *plan.Plan) error {
		_, err := instantiate.Instantiate(working, "", "root", net.RootRequirement, resolved)
		return err
	}); err != nil {
		return nil, err
	}

	if _, err := plan.Atomic(p, func(working *plan.Plan) error {
		return merge.Merge(working, merge.WithTrace(tr))
	}); err != nil {
		return nil, err
	}

	opts := net.DeployOptions
	opts.Trace = tr
	if defaultGroupFlag != "" {
		opts.DefaultGroup = defaultGroupFlag
	}

	var deployErr error
	if _, err := plan.Atomic(p, func(working *plan.Plan) error {
		deployErr = deploy.Deploy(working, opts)
		if orerrors.Is(deployErr, orerrors.CodeMissingDeployments) {
			// a report of tasks left unplaced is an expected outcome, not a
			// pass failure: commit whatever Deploy did manage to bind.
			return nil
		}
		return deployErr
	}); err != nil {
		return nil, err
	}

	return p, deployErr
}
