package app

import (
	"github.com/anvil-build/anvil/internal/registry"
	"github.com/anvil-build/anvil/modules/filegroup"
	"github.com/anvil-build/anvil/modules/genrule"
	"github.com/anvil-build/anvil/modules/native"
	"github.com/anvil-build/anvil/modules/sh"
)

// coreModules is the definitive list of rule libraries compiled into the
// anvil binary.
var coreModules = []registry.Module{
	&native.Module{},
	&genrule.Module{},
	&sh.Module{},
	&filegroup.Module{},
}
