package engine

import (
	"github.com/releng-tool/releng-tool-sub001/pkg/packages"
	"github.com/releng-tool/releng-tool-sub001/pkg/types"
)

// job is a package scheduled for a run and the last stage it reaches
type job struct {
	pkg    *packages.Package
	last   types.Stage
	target bool
}

// globalStages maps global actions to the last stage processed for every
// package
var globalStages = map[types.GlobalAction]types.Stage{
	types.GlobalActionNone:      types.StagePost,
	types.GlobalActionPunch:     types.StagePost,
	types.GlobalActionFetch:     types.StageFetch,
	types.GlobalActionFetchFull: types.StageFetchPost,
	types.GlobalActionExtract:   types.StageExtract,
	types.GlobalActionPatch:     types.StagePatch,
	types.GlobalActionLicenses:  types.StageLicense,
}

// targetStages maps package actions to the last stage of the target
var targetStages = map[types.PkgAction]types.Stage{
	types.PkgActionNone:            types.StagePost,
	types.PkgActionFresh:           types.StagePost,
	types.PkgActionRebuild:         types.StagePost,
	types.PkgActionReconfigure:     types.StagePost,
	types.PkgActionReinstall:       types.StagePost,
	types.PkgActionBuild:           types.StageBuild,
	types.PkgActionConfigure:       types.StageConfigure,
	types.PkgActionInstall:         types.StageInstall,
	types.PkgActionRebuildOnly:     types.StageBuild,
	types.PkgActionReconfigureOnly: types.StageConfigure,
	types.PkgActionFetch:           types.StageFetch,
	types.PkgActionFetchFull:       types.StageFetchPost,
	types.PkgActionExtract:         types.StageExtract,
	types.PkgActionPatch:           types.StagePatch,
	types.PkgActionLicense:         types.StageLicense,
	types.PkgActionExec:            types.StagePatch,
}

// standalone package actions process the target without its dependencies
func standalone(action types.PkgAction) bool {
	switch action {
	case types.PkgActionFetch, types.PkgActionFetchFull, types.PkgActionExtract,
		types.PkgActionPatch, types.PkgActionLicense, types.PkgActionExec,
		types.PkgActionRebuildOnly, types.PkgActionReconfigureOnly:
		return true
	}
	return false
}

// schedule returns the jobs of the current action in sorted order. A
// package action processes the dependencies of its target through every
// stage, unless the action is standalone, and stops the target at the
// stage the action names.
func schedule(sorted []*packages.Package, action types.GlobalAction, target *packages.Package,
	pkgAction types.PkgAction) []job {
	if target == nil {
		last, ok := globalStages[action]
		if !ok {
			return nil
		}
		jobs := make([]job, 0, len(sorted))
		for _, pkg := range sorted {
			jobs = append(jobs, job{pkg: pkg, last: last})
		}
		return jobs
	}

	last, ok := targetStages[pkgAction]
	if !ok {
		return nil
	}
	if standalone(pkgAction) {
		return []job{{pkg: target, last: last, target: true}}
	}

	closure := packages.Closure(target, sorted)
	jobs := make([]job, 0, len(closure))
	for _, pkg := range closure {
		if pkg == target {
			jobs = append(jobs, job{pkg: pkg, last: last, target: true})
			continue
		}
		jobs = append(jobs, job{pkg: pkg, last: types.StagePost})
	}
	return jobs
}
