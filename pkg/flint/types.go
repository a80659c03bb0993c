package flint

import (
	"github.com/bianoble/flint/internal/engine"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/lock"
)

// Type aliases re-export the engine types as the public API. Users
// import "github.com/bianoble/flint/pkg/flint" and use flint.BuildResult,
// flint.LockResult, and so on.

type Target = flake.Target
type Override = lock.Override

type BuildOptions = engine.BuildOptions
type BuildResult = engine.BuildResult

type EvalOptions = engine.EvalOptions

type RunOptions = engine.RunOptions
type RunResult = engine.RunResult

type DevelopOptions = engine.DevelopOptions
type DevelopResult = engine.DevelopResult

type ShowOptions = engine.ShowOptions
type ShowResult = engine.ShowResult

type CheckOptions = engine.CheckOptions
type CheckResult = engine.CheckResult
type CheckRun = engine.CheckRun

type Metadata = engine.Metadata
type InputSpec = engine.InputSpec

type UpdateOptions = engine.UpdateOptions
type LockResult = engine.LockResult
type LockAddition = engine.LockAddition
type LockUpdate = engine.LockUpdate
type RevChange = engine.RevChange

type ScaffoldResult = engine.ScaffoldResult

type InstallOptions = engine.InstallOptions
type InstallResult = engine.InstallResult
type RemoveResult = engine.RemoveResult
type UpgradeResult = engine.UpgradeResult
type PackageUpgrade = engine.PackageUpgrade
